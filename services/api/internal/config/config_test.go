package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":      "postgres://navio@localhost/navio",
		"AUTH_SECRET": testSecret,
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 48*time.Hour, cfg.ExtensionTokenTTL)
	assert.Equal(t, "screenshots", cfg.R2Bucket)
	assert.Equal(t, "auto", cfg.S3Region)
	assert.Equal(t, 100, cfg.PublicEventRateLimit)
	assert.Equal(t, time.Minute, cfg.PublicEventRateWindow)
	assert.Equal(t, 10*time.Second, cfg.FlowTxTimeout)
	assert.Equal(t, 15*time.Second, cfg.PublicTxTimeout)
	assert.Equal(t, 3, cfg.UploadAttempts)
	assert.Equal(t, 168*time.Hour, cfg.InvitationTTL)
	assert.False(t, cfg.StorageConfigured())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":               "postgres://navio@localhost/navio",
		"AUTH_SECRET":          testSecret,
		"R2_ACCOUNT_ID":        "acct",
		"R2_ACCESS_KEY_ID":     "key",
		"R2_SECRET_ACCESS_KEY": "secret",
		"CORS_ALLOWED_ORIGINS": "https://app.navio.dev,chrome-extension://abc",
		"UPLOAD_ATTEMPTS":      "5",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.StorageConfigured())
	assert.Equal(t, []string{"https://app.navio.dev", "chrome-extension://abc"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.UploadAttempts)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":      "postgres://navio@localhost/navio",
		"AUTH_SECRET": "short",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SECRET")
}

func TestLoadRequiresDSN(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"AUTH_SECRET": testSecret,
	}))
	require.Error(t, err)
}
