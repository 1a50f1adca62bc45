package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// StreamName is the JetStream stream carrying flow changes.
	StreamName = "NAVIO_FLOWS"
	// SubjectPrefix prefixes every flow change subject.
	SubjectPrefix = "navio.flows."
	// SubjectAll matches every flow change.
	SubjectAll = SubjectPrefix + ">"
	// InvalidatorDurable names the cache invalidation consumer.
	InvalidatorDurable = "navio-cache"
)

// Kind is what happened to a flow.
type Kind string

const (
	FlowCreated Kind = "created"
	FlowUpdated Kind = "updated"
	FlowDeleted Kind = "deleted"
)

// Change describes one flow mutation.
type Change struct {
	Kind     Kind      `json:"kind"`
	TenantID uuid.UUID `json:"tenantId"`
	FlowID   uuid.UUID `json:"flowId"`
	At       time.Time `json:"at"`
}

// Subject returns the bus subject for c.
func (c Change) Subject() string {
	return SubjectPrefix + string(c.Kind)
}

// Notifier is told about committed flow changes.
type Notifier interface {
	FlowChanged(ctx context.Context, c Change) error
}

// Nop drops every change.
type Nop struct{}

func (Nop) FlowChanged(context.Context, Change) error { return nil }

// Publisher is the publishing half of *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Subscriber is the consuming half of *bus.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, subject string, data []byte) error) (io.Closer, error)
}

// BusNotifier publishes changes as JSON on navio.flows.<kind>.
type BusNotifier struct {
	pub Publisher
}

func NewBusNotifier(pub Publisher) (*BusNotifier, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	return &BusNotifier{pub: pub}, nil
}

func (n *BusNotifier) FlowChanged(ctx context.Context, c Change) error {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	if err := n.pub.Publish(ctx, c.Subject(), c); err != nil {
		return fmt.Errorf("publish %s: %w", c.Subject(), err)
	}
	return nil
}

// OverviewCache drops cached tenant aggregates.
type OverviewCache interface {
	InvalidateOverview(ctx context.Context, tenantID uuid.UUID) error
}

// DirectNotifier invalidates in-process, for deployments without NATS.
type DirectNotifier struct {
	cache OverviewCache
}

func NewDirectNotifier(cache OverviewCache) (*DirectNotifier, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	return &DirectNotifier{cache: cache}, nil
}

func (n *DirectNotifier) FlowChanged(ctx context.Context, c Change) error {
	return n.cache.InvalidateOverview(ctx, c.TenantID)
}

// Invalidator consumes flow changes from the bus and drops the affected
// tenant's cached overview.
type Invalidator struct {
	cache OverviewCache
	log   zerolog.Logger
}

func NewInvalidator(cache OverviewCache, log zerolog.Logger) (*Invalidator, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	return &Invalidator{cache: cache, log: log}, nil
}

// Start subscribes to every flow change with a durable consumer. The
// subscription drains when ctx is cancelled.
func (i *Invalidator) Start(ctx context.Context, sub Subscriber) (io.Closer, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	return sub.Subscribe(ctx, SubjectAll, InvalidatorDurable, i.Handle)
}

// Handle processes one message. Undecodable payloads are acknowledged and
// dropped; cache failures are returned so the message is redelivered.
func (i *Invalidator) Handle(ctx context.Context, subject string, data []byte) error {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		i.log.Warn().Err(err).Str("subject", subject).Msg("drop malformed flow change")
		return nil
	}
	if c.TenantID == uuid.Nil {
		return nil
	}
	if err := i.cache.InvalidateOverview(ctx, c.TenantID); err != nil {
		return fmt.Errorf("invalidate overview %s: %w", c.TenantID, err)
	}
	i.log.Debug().
		Str("subject", subject).
		Str("tenant_id", c.TenantID.String()).
		Str("flow_id", c.FlowID.String()).
		Msg("overview invalidated")
	return nil
}
