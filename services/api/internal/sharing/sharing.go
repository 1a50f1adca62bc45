package sharing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"navio/pkg/telemetry"
	"navio/services/api/internal/apperr"
	"navio/services/api/internal/authz"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tokens"
)

const (
	// TokenPrefix starts every share token.
	TokenPrefix = "share_"

	minTokenLen          = 10
	defaultTxTimeout     = 10 * time.Second
	defaultPublicTimeout = 15 * time.Second
)

// NewToken returns share_ followed by 32 random bytes, base64url encoded.
func NewToken() (string, error) {
	raw, err := tokens.Generate(tokens.Size256)
	if err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return TokenPrefix + raw, nil
}

// wellFormed filters tokens that cannot exist before touching the store.
func wellFormed(token string) bool {
	return len(token) >= minTokenLen && strings.HasPrefix(token, TokenPrefix)
}

// Options wires a Service.
type Options struct {
	Store           store.Store
	Logger          zerolog.Logger
	Metrics         *telemetry.Metrics
	TxTimeout       time.Duration
	PublicTxTimeout time.Duration
}

// Service manages per-flow public share links.
type Service struct {
	store         store.Store
	resolver      *authz.Resolver
	log           zerolog.Logger
	metrics       *telemetry.Metrics
	txTimeout     time.Duration
	publicTimeout time.Duration
	newToken      func() (string, error)
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	resolver, err := authz.NewResolver(opts.Store)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:         opts.Store,
		resolver:      resolver,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		txTimeout:     opts.TxTimeout,
		publicTimeout: opts.PublicTxTimeout,
		newToken:      NewToken,
	}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	if s.publicTimeout <= 0 {
		s.publicTimeout = defaultPublicTimeout
	}
	return s, nil
}

// CreateOrRegenerate issues a fresh token for the flow. An existing share
// keeps its id but gets a new token and a zero view count, so old links stop
// resolving immediately.
func (s *Service) CreateOrRegenerate(ctx context.Context, flowID, userID uuid.UUID) (models.FlowShare, error) {
	if _, err := s.resolver.RequireModifyFlow(ctx, flowID, userID); err != nil {
		return models.FlowShare{}, err
	}
	token, err := s.newToken()
	if err != nil {
		return models.FlowShare{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var share models.FlowShare
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetShareByFlow(ctx, flowID)
		switch {
		case err == nil:
			if err := tx.RegenerateShare(ctx, existing.ID, token); err != nil {
				return fmt.Errorf("regenerate share: %w", err)
			}
			share, err = tx.GetShare(ctx, existing.ID)
			return err
		case errors.Is(err, store.ErrNotFound):
			share = models.FlowShare{ID: uuid.New(), FlowID: flowID, ShareToken: token, CreatedBy: userID}
			return tx.CreateShare(ctx, &share)
		default:
			return fmt.Errorf("load share: %w", err)
		}
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.FlowShare{}, apperr.ErrFlowNotFound
	}
	if err != nil {
		return models.FlowShare{}, err
	}
	s.log.Info().Str("flow_id", flowID.String()).Str("share_id", share.ID.String()).Msg("share token issued")
	return share, nil
}

// GetOrCreate returns the flow's share, creating it on first request. Any
// member who can view the flow may call it.
func (s *Service) GetOrCreate(ctx context.Context, flowID, userID uuid.UUID) (models.FlowShare, error) {
	if _, _, err := s.resolver.VerifyFlowAccess(ctx, flowID, userID); err != nil {
		return models.FlowShare{}, err
	}

	share, err := s.store.GetShareByFlow(ctx, flowID)
	if err == nil {
		return share, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.FlowShare{}, fmt.Errorf("load share: %w", err)
	}

	token, err := s.newToken()
	if err != nil {
		return models.FlowShare{}, err
	}
	share = models.FlowShare{ID: uuid.New(), FlowID: flowID, ShareToken: token, CreatedBy: userID}
	err = s.store.CreateShare(ctx, &share)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent first request.
		return s.store.GetShareByFlow(ctx, flowID)
	}
	if err != nil {
		return models.FlowShare{}, fmt.Errorf("create share: %w", err)
	}
	return share, nil
}

// Delete revokes the flow's share. A flow without a share is left as is.
func (s *Service) Delete(ctx context.Context, flowID, userID uuid.UUID) error {
	if _, err := s.resolver.RequireModifyFlow(ctx, flowID, userID); err != nil {
		return err
	}
	if err := s.store.DeleteShareByFlow(ctx, flowID); err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}

// PublicFlow is what an anonymous viewer receives for a share token.
type PublicFlow struct {
	ShareID   uuid.UUID         `json:"shareId"`
	FlowID    uuid.UUID         `json:"flowId"`
	Name      string            `json:"name"`
	Meta      models.FlowMeta   `json:"meta"`
	ViewCount int64             `json:"viewCount"`
	Steps     []models.FlowStep `json:"steps"`
}

// ResolvePublic loads the flow behind token and counts the view. Malformed
// and unknown tokens yield nil without an error.
func (s *Service) ResolvePublic(ctx context.Context, token string) (*PublicFlow, error) {
	if !wellFormed(token) {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.publicTimeout)
	defer cancel()

	var out *PublicFlow
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		share, err := tx.GetShareByToken(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load share: %w", err)
		}
		flow, err := tx.GetFlow(ctx, share.FlowID)
		if err != nil {
			return fmt.Errorf("load flow: %w", err)
		}
		steps, err := tx.ListSteps(ctx, share.FlowID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		views, err := tx.IncrementShareViews(ctx, share.ID)
		if err != nil {
			return fmt.Errorf("increment views: %w", err)
		}
		if steps == nil {
			steps = []models.FlowStep{}
		}
		out = &PublicFlow{
			ShareID:   share.ID,
			FlowID:    flow.ID,
			Name:      flow.Name,
			Meta:      flow.Meta.Data(),
			ViewCount: views,
			Steps:     steps,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.metrics.ShareViewed()
	}
	return out, nil
}
