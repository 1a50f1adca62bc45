package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"navio/pkg/s3"
	"navio/pkg/telemetry"
	"navio/services/api/internal/apperr"
)

// CacheControl is attached to every uploaded screenshot. Keys embed a
// timestamp so objects are never rewritten.
const CacheControl = "public, max-age=31536000, immutable"

// ProxyPrefix is the path under which the API streams private objects.
const ProxyPrefix = "/api/images/"

const keyRoot = "screenshots/"

// Kind distinguishes the two renditions stored per step.
type Kind string

const (
	KindThumb Kind = "thumb"
	KindFull  Kind = "full"
)

// Bucket is the object store the screenshots live in. *s3.Client satisfies it.
type Bucket interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType, cacheControl string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Options configures Screenshots. A nil Bucket leaves storage unconfigured:
// uploads fail with STORAGE_NOT_CONFIGURED and deletes are skipped.
type Options struct {
	Bucket     Bucket
	BucketName string
	// Endpoint is the public base of the object store, used to build URLs
	// when no CDN domain is set.
	Endpoint  string
	CDNDomain string
	Attempts  int
	Backoff   time.Duration
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
}

// Screenshots stores step screenshots and maps between keys and URLs.
type Screenshots struct {
	bucket     Bucket
	bucketName string
	endpoint   string
	cdnDomain  string
	attempts   int
	backoff    time.Duration
	log        zerolog.Logger
	metrics    *telemetry.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds Screenshots from opts, applying the default retry policy of
// three attempts with a one second base backoff.
func New(opts Options) *Screenshots {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	cdn := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(opts.CDNDomain, "https://"), "http://"), "/")

	return &Screenshots{
		bucket:     opts.Bucket,
		bucketName: opts.BucketName,
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		cdnDomain:  cdn,
		attempts:   attempts,
		backoff:    backoff,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		sleep:      sleepCtx,
	}
}

// Configured reports whether an object store is attached.
func (s *Screenshots) Configured() bool {
	return s != nil && s.bucket != nil
}

// Key builds screenshots/{flowId}/{stepId}/{kind}-{unixMillis}.{ext}.
func Key(flowID, stepID uuid.UUID, kind Kind, ext string, now time.Time) string {
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s%s/%s/%s-%d.%s", keyRoot, flowID, stepID, kind, now.UnixMilli(), ext)
}

// FlowIDFromKey returns the flow a screenshot key belongs to.
func FlowIDFromKey(key string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(key, keyRoot)
	if !ok || strings.Contains(key, "..") {
		return uuid.Nil, false
	}
	head, _, ok := strings.Cut(rest, "/")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(head)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// URL returns the public address of key: the CDN when configured, otherwise
// the path-style bucket URL.
func (s *Screenshots) URL(key string) string {
	if s.cdnDomain != "" {
		return "https://" + s.cdnDomain + "/" + key
	}
	return s.endpoint + "/" + s.bucketName + "/" + key
}

// KeyFromURL is the inverse of URL. It also accepts proxy paths and any URL
// whose path contains a screenshots/ segment.
func (s *Screenshots) KeyFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if key, ok := strings.CutPrefix(raw, ProxyPrefix); ok {
		return cleanKey(key)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")

	if key, ok := strings.CutPrefix("/"+path, ProxyPrefix); ok {
		return cleanKey(key)
	}
	if s.cdnDomain != "" && strings.EqualFold(u.Host, s.cdnDomain) {
		return cleanKey(path)
	}
	if s.bucketName != "" {
		if key, ok := strings.CutPrefix(path, s.bucketName+"/"); ok && (s.onEndpoint(u) || strings.HasPrefix(key, keyRoot)) {
			return cleanKey(key)
		}
	}
	if i := strings.Index(path, keyRoot); i >= 0 {
		return cleanKey(path[i:])
	}
	return "", false
}

func (s *Screenshots) onEndpoint(u *url.URL) bool {
	e, err := url.Parse(s.endpoint)
	return err == nil && e.Host != "" && strings.EqualFold(e.Host, u.Host)
}

func cleanKey(key string) (string, bool) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// ProxyURL rewrites a stored URL to the authenticated image proxy when the
// bucket is private (no CDN domain). Nil stays nil.
func (s *Screenshots) ProxyURL(stored *string) *string {
	if stored == nil || *stored == "" {
		return stored
	}
	if s.cdnDomain != "" {
		return stored
	}
	key, ok := s.KeyFromURL(*stored)
	if !ok {
		return stored
	}
	proxied := ProxyPrefix + key
	return &proxied
}

// Upload stores img under key and returns its URL. Transient failures are
// retried with a linear backoff; anything else fails immediately.
func (s *Screenshots) Upload(ctx context.Context, key string, img Image) (string, error) {
	if !s.Configured() {
		return "", apperr.ErrStorageNotConfigured
	}
	if len(img.Data) > MaxImageSize {
		return "", apperr.ErrScreenshotTooLarge
	}
	if !allowedType(img.ContentType) {
		return "", apperr.ErrInvalidContentType
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		s.metrics.UploadAttempt()
		err := s.bucket.PutObject(ctx, s.bucketName, key, img.Data, img.ContentType, CacheControl)
		if err == nil {
			return s.URL(key), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if !Transient(err) || attempt == s.attempts {
			break
		}

		delay := s.backoff * time.Duration(attempt)
		s.log.Warn().Err(err).
			Str("key", key).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("screenshot upload failed, retrying")
		if err := s.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	s.log.Error().Err(lastErr).Str("key", key).Msg("screenshot upload failed")
	return "", fmt.Errorf("%w: %w", apperr.ErrUploadFailed, lastErr)
}

// Delete removes key. Failures are logged and swallowed.
func (s *Screenshots) Delete(ctx context.Context, key string) {
	if !s.Configured() || key == "" {
		return
	}
	if err := s.bucket.DeleteObject(ctx, s.bucketName, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("delete screenshot")
	}
}

// DeleteURLs deletes the objects behind every stored URL it can map to a key.
func (s *Screenshots) DeleteURLs(ctx context.Context, urls ...*string) {
	if !s.Configured() {
		return
	}
	for _, u := range urls {
		if u == nil {
			continue
		}
		if key, ok := s.KeyFromURL(*u); ok {
			s.Delete(ctx, key)
		}
	}
}

// Open streams the object at key. The caller closes the reader.
func (s *Screenshots) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !s.Configured() {
		return nil, "", apperr.ErrStorageNotConfigured
	}
	body, contentType, err := s.bucket.GetObject(ctx, s.bucketName, key)
	if errors.Is(err, s3.ErrNotFound) {
		return nil, "", apperr.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}
	return body, contentType, nil
}

// Presign returns a short-lived direct URL for key.
func (s *Screenshots) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !s.Configured() {
		return "", apperr.ErrStorageNotConfigured
	}
	return s.bucket.PresignGet(ctx, s.bucketName, key, ttl)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
