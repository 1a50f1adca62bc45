package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navio/services/api/internal/apperr"
)

const secret = "0123456789abcdef0123456789abcdef"

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer(secret, 0)
	require.NoError(t, err)
	iss.now = func() time.Time { return now }
	return iss
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)
	userID, tenantID := uuid.New(), uuid.New()

	tok, err := iss.Issue(userID, tenantID, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(48*time.Hour), tok.ExpiresAt)

	payload, err := iss.Validate("Bearer " + tok.Value)
	require.NoError(t, err)
	assert.Equal(t, userID, payload.UserID)
	assert.Equal(t, tenantID, payload.TenantID)
	assert.Equal(t, "ada@example.com", payload.Email)
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)

	tok, err := iss.Issue(uuid.New(), uuid.New(), "")
	require.NoError(t, err)

	iss.now = func() time.Time { return now.Add(49 * time.Hour) }
	_, err = iss.Validate("Bearer " + tok.Value)
	require.True(t, apperr.Is(err, "UNAUTHORIZED"))
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestValidateFailures(t *testing.T) {
	now := time.Now()
	iss, err := NewIssuer(secret, time.Hour)
	require.NoError(t, err)

	valid := jwt.MapClaims{
		"userId":   uuid.NewString(),
		"tenantId": uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(time.Hour).Unix(),
	}
	with := func(k string, v any) jwt.MapClaims {
		c := jwt.MapClaims{}
		for key, val := range valid {
			c[key] = val
		}
		if v == nil {
			delete(c, k)
		} else {
			c[k] = v
		}
		return c
	}

	tests := map[string]string{
		"missing header":     "",
		"wrong scheme":       "Basic abc",
		"empty bearer":       "Bearer ",
		"garbage":            "Bearer not.a.jwt",
		"wrong secret":       "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(strings.Repeat("x", 32)), valid),
		"wrong algorithm":    "Bearer " + sign(t, jwt.SigningMethodHS512, []byte(secret), valid),
		"missing userId":     "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), with("userId", nil)),
		"non-string tenant":  "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), with("tenantId", 42)),
		"missing expiration": "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), with("exp", nil)),
	}

	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Validate(header)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, "UNAUTHORIZED"))
		})
	}
}

func TestValidateDefaultsEmail(t *testing.T) {
	iss, err := NewIssuer(secret, time.Hour)
	require.NoError(t, err)
	now := time.Now()

	raw := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"userId":   uuid.NewString(),
		"tenantId": uuid.NewString(),
		"exp":      now.Add(time.Hour).Unix(),
	})
	payload, err := iss.Validate("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, "", payload.Email)
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	_, err := NewIssuer("short", time.Hour)
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	a, err := Generate(Size256)
	require.NoError(t, err)
	b, err := Generate(Size256)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")

	_, err = Generate(0)
	assert.Error(t, err)

	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
}
