package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// MinSecretLength is the minimum accepted AUTH_SECRET size in bytes.
const MinSecretLength = 32

// Config holds runtime configuration for the Navio API service.
type Config struct {
	Addr      string `env:"ADDR,default=:8080"`
	DBDSN     string `env:"DB_DSN,required"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	AuthSecret        string        `env:"AUTH_SECRET,required"`
	ExtensionTokenTTL time.Duration `env:"EXTENSION_TOKEN_TTL,default=48h"`

	R2AccountID      string        `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID    string        `env:"R2_ACCESS_KEY_ID"`
	R2SecretKey      string        `env:"R2_SECRET_ACCESS_KEY"`
	R2Bucket         string        `env:"R2_BUCKET_NAME,default=screenshots"`
	R2CDNDomain      string        `env:"R2_CDN_DOMAIN"`
	S3Endpoint       string        `env:"S3_ENDPOINT"`
	S3Region         string        `env:"S3_REGION,default=auto"`
	ImageRedirectTTL time.Duration `env:"IMAGE_REDIRECT_TTL,default=0s"`

	RedisURL       string   `env:"REDIS_URL"`
	NATSURL        string   `env:"NATS_URL"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	AppBaseURL     string   `env:"APP_BASE_URL,default=http://localhost:3000"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	EmailFrom    string `env:"EMAIL_FROM,default=Navio <noreply@navio.app>"`

	PublicEventRateLimit  int           `env:"PUBLIC_EVENT_RATE_LIMIT,default=100"`
	PublicEventRateWindow time.Duration `env:"PUBLIC_EVENT_RATE_WINDOW,default=1m"`
	GlobalRateLimit       int           `env:"GLOBAL_RATE_LIMIT,default=600"`

	FlowTxTimeout     time.Duration `env:"FLOW_TX_TIMEOUT,default=10s"`
	PublicTxTimeout   time.Duration `env:"PUBLIC_TX_TIMEOUT,default=15s"`
	UploadAttempts    int           `env:"UPLOAD_ATTEMPTS,default=3"`
	UploadBackoff     time.Duration `env:"UPLOAD_BACKOFF,default=1s"`
	AnalyticsCacheTTL time.Duration `env:"ANALYTICS_CACHE_TTL,default=60s"`
	InvitationTTL     time.Duration `env:"INVITATION_TTL,default=168h"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	if len(c.AuthSecret) < MinSecretLength {
		return fmt.Errorf("AUTH_SECRET must be at least %d bytes", MinSecretLength)
	}
	if c.UploadAttempts < 1 {
		return errors.New("UPLOAD_ATTEMPTS must be at least 1")
	}
	if c.PublicEventRateLimit < 1 || c.PublicEventRateWindow <= 0 {
		return errors.New("public event rate limit and window must be positive")
	}
	return nil
}

// StorageConfigured reports whether object storage credentials are present.
func (c Config) StorageConfigured() bool {
	return (c.R2AccountID != "" || c.S3Endpoint != "") && c.R2AccessKeyID != "" && c.R2SecretKey != "" && c.R2Bucket != ""
}
