package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
)

// DefaultTTL is the lifetime of an extension token.
const DefaultTTL = 48 * time.Hour

// MinSecretLength is the minimum HMAC secret size in bytes.
const MinSecretLength = 32

// Token is a signed extension token.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Payload is the validated content of an extension token.
type Payload struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Email    string
}

// Issuer signs and validates HS256 extension tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A zero ttl uses DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for userID acting in tenantID.
func (i *Issuer) Issue(userID, tenantID uuid.UUID, email string) (Token, error) {
	now := i.now()
	expires := now.Add(i.ttl)

	claims := jwt.MapClaims{
		"userId":   userID.String(),
		"tenantId": tenantID.String(),
		"email":    email,
		"iat":      now.Unix(),
		"exp":      expires.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: time.Unix(expires.Unix(), 0).UTC()}, nil
}

// Validate parses an Authorization header value of the form "Bearer <token>".
// Every failure is UNAUTHORIZED.
func (i *Issuer) Validate(header string) (Payload, error) {
	raw, ok := bearer(header)
	if !ok {
		return Payload{}, apperr.ErrUnauthorized.WithMessage("Missing or invalid authorization header")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Payload{}, apperr.ErrUnauthorized.WithMessage("Token expired")
		}
		return Payload{}, apperr.ErrUnauthorized.WithMessage("Invalid token")
	}

	userID, ok := uuidClaim(claims, "userId")
	if !ok {
		return Payload{}, apperr.ErrUnauthorized.WithMessage("Invalid token payload")
	}
	tenantID, ok := uuidClaim(claims, "tenantId")
	if !ok {
		return Payload{}, apperr.ErrUnauthorized.WithMessage("Invalid token payload")
	}
	email, _ := claims["email"].(string)

	return Payload{UserID: userID, TenantID: tenantID, Email: email}, nil
}

func bearer(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func uuidClaim(claims jwt.MapClaims, name string) (uuid.UUID, bool) {
	s, ok := claims[name].(string)
	if !ok || s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
