package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navio/services/api/internal/apperr"
)

func dataURL(contentType string, size int) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(make([]byte, size))
}

func newTestScreenshots(b Bucket, cdn string) *Screenshots {
	s := New(Options{
		Bucket:     b,
		BucketName: "screenshots",
		Endpoint:   "https://acct.r2.cloudflarestorage.com",
		CDNDomain:  cdn,
		Attempts:   3,
		Backoff:    10 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
		ext   string
	}{
		{name: "png", input: dataURL("image/png", 2048), ext: "png"},
		{name: "jpeg", input: dataURL("image/jpeg", 2048), ext: "jpg"},
		{name: "jpg alias", input: dataURL("image/jpg", 2048), ext: "jpg"},
		{name: "webp uppercase type", input: dataURL("IMAGE/WEBP", 2048), ext: "webp"},
		{name: "not a data url", input: "https://example.com/a.png", code: "INVALID_DATA_URL"},
		{name: "missing base64 marker", input: "data:image/png,abc", code: "INVALID_DATA_URL"},
		{name: "gif rejected", input: dataURL("image/gif", 2048), code: "INVALID_CONTENT_TYPE"},
		{name: "empty payload", input: "data:image/png;base64,", code: "EMPTY_SCREENSHOT_DATA"},
		{name: "garbage payload", input: "data:image/png;base64,!!!not-base64!!!", code: "INVALID_BASE64"},
		{name: "too small", input: dataURL("image/png", 1023), code: "SCREENSHOT_TOO_SMALL"},
		{name: "exactly min", input: dataURL("image/png", MinImageSize), ext: "png"},
		{name: "too large", input: dataURL("image/png", MaxImageSize+1), code: "SCREENSHOT_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeDataURL(tt.input)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ext, img.Ext())
			assert.NotEmpty(t, img.Data)
		})
	}
}

func TestDecodeDataURLTooLargeStatus(t *testing.T) {
	_, err := DecodeDataURL(dataURL("image/png", MaxImageSize+1))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 413, e.Status)
}

func TestKeyAndFlowIDFromKey(t *testing.T) {
	flowID, stepID := uuid.New(), uuid.New()
	now := time.UnixMilli(1700000000123)

	key := Key(flowID, stepID, KindThumb, "jpg", now)
	assert.Equal(t, fmt.Sprintf("screenshots/%s/%s/thumb-1700000000123.jpg", flowID, stepID), key)

	got, ok := FlowIDFromKey(key)
	require.True(t, ok)
	assert.Equal(t, flowID, got)

	_, ok = FlowIDFromKey("screenshots/not-a-uuid/x/full-1.png")
	assert.False(t, ok)
	_, ok = FlowIDFromKey("other/" + flowID.String() + "/x.png")
	assert.False(t, ok)
	_, ok = FlowIDFromKey("screenshots/" + flowID.String() + "/../../etc")
	assert.False(t, ok)
}

func TestURLRoundTrip(t *testing.T) {
	key := "screenshots/f/s/full-1.png"

	private := newTestScreenshots(NewMemBucket(), "")
	u := private.URL(key)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com/screenshots/"+key, u)
	got, ok := private.KeyFromURL(u)
	require.True(t, ok)
	assert.Equal(t, key, got)

	public := newTestScreenshots(NewMemBucket(), "https://cdn.navio.app/")
	u = public.URL(key)
	assert.Equal(t, "https://cdn.navio.app/"+key, u)
	got, ok = public.KeyFromURL(u)
	require.True(t, ok)
	assert.Equal(t, key, got)

	got, ok = private.KeyFromURL(ProxyPrefix + key)
	require.True(t, ok)
	assert.Equal(t, key, got)

	got, ok = private.KeyFromURL("https://your_custom_domain.com/" + key)
	require.True(t, ok)
	assert.Equal(t, key, got)

	_, ok = private.KeyFromURL("https://example.com/logo.png")
	assert.False(t, ok)
}

func TestProxyURL(t *testing.T) {
	key := "screenshots/f/s/thumb-1.png"
	private := newTestScreenshots(NewMemBucket(), "")
	stored := private.URL(key)

	got := private.ProxyURL(&stored)
	require.NotNil(t, got)
	assert.Equal(t, ProxyPrefix+key, *got)
	assert.Nil(t, private.ProxyURL(nil))

	public := newTestScreenshots(NewMemBucket(), "cdn.navio.app")
	cdnURL := public.URL(key)
	assert.Equal(t, cdnURL, *public.ProxyURL(&cdnURL))
}

func TestUploadStoresWithCacheControl(t *testing.T) {
	bucket := NewMemBucket()
	s := newTestScreenshots(bucket, "")
	img, err := DecodeDataURL(dataURL("image/png", 2048))
	require.NoError(t, err)

	u, err := s.Upload(context.Background(), "screenshots/f/s/full-1.png", img)
	require.NoError(t, err)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com/screenshots/screenshots/f/s/full-1.png", u)
	assert.Equal(t, CacheControl, bucket.CacheControl("screenshots", "screenshots/f/s/full-1.png"))
	assert.Equal(t, 1, bucket.Puts())
}

func TestUploadRetriesTransientErrors(t *testing.T) {
	bucket := NewMemBucket()
	bucket.PutErr = func(_ string, attempt int) error {
		if attempt < 3 {
			return fmt.Errorf("send request: %w", syscall.ECONNRESET)
		}
		return nil
	}
	s := newTestScreenshots(bucket, "")
	var delays []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := s.Upload(context.Background(), "k", Image{Data: make([]byte, 2048), ContentType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, 3, bucket.Puts())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestUploadGivesUpAfterAttempts(t *testing.T) {
	bucket := NewMemBucket()
	bucket.PutErr = func(string, int) error { return fmt.Errorf("put object: %w", timeoutErr{}) }
	s := newTestScreenshots(bucket, "")

	_, err := s.Upload(context.Background(), "k", Image{Data: make([]byte, 2048), ContentType: "image/png"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, "UPLOAD_FAILED"))
	assert.Equal(t, 3, bucket.Puts())
}

func TestUploadDoesNotRetryPermanentErrors(t *testing.T) {
	bucket := NewMemBucket()
	bucket.PutErr = func(string, int) error { return errors.New("AccessDenied: signature mismatch") }
	s := newTestScreenshots(bucket, "")

	_, err := s.Upload(context.Background(), "k", Image{Data: make([]byte, 2048), ContentType: "image/png"})
	assert.True(t, apperr.Is(err, "UPLOAD_FAILED"))
	assert.Equal(t, 1, bucket.Puts())
}

func TestUploadStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bucket := NewMemBucket()
	bucket.PutErr = func(string, int) error {
		cancel()
		return &net.DNSError{Err: "no such host", Name: "acct.r2.cloudflarestorage.com"}
	}
	s := newTestScreenshots(bucket, "")

	_, err := s.Upload(ctx, "k", Image{Data: make([]byte, 2048), ContentType: "image/png"})
	assert.True(t, apperr.Is(err, "UPLOAD_FAILED"))
	assert.Equal(t, 1, bucket.Puts())
}

func TestUnconfigured(t *testing.T) {
	s := newTestScreenshots(nil, "")
	assert.False(t, s.Configured())

	_, err := s.Upload(context.Background(), "k", Image{Data: make([]byte, 2048), ContentType: "image/png"})
	assert.True(t, apperr.Is(err, "STORAGE_NOT_CONFIGURED"))

	s.Delete(context.Background(), "k")
	_, _, err = s.Open(context.Background(), "k")
	assert.True(t, apperr.Is(err, "STORAGE_NOT_CONFIGURED"))
}

func TestOpenAndDelete(t *testing.T) {
	bucket := NewMemBucket()
	s := newTestScreenshots(bucket, "")
	ctx := context.Background()
	key := "screenshots/f/s/full-1.webp"

	_, err := s.Upload(ctx, key, Image{Data: []byte(strings.Repeat("x", 2048)), ContentType: "image/webp"})
	require.NoError(t, err)

	body, ct, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "image/webp", ct)
	assert.Len(t, data, 2048)

	stored := s.URL(key)
	s.DeleteURLs(ctx, &stored, nil)
	_, _, err = s.Open(ctx, key)
	assert.True(t, apperr.Is(err, "NOT_FOUND"))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransient(t *testing.T) {
	serverError := &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusInternalServerError}},
			Err:      errors.New("InternalError"),
		},
		RequestID: "req-1",
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: timeoutErr{}, want: true},
		{name: "reset", err: fmt.Errorf("wrap: %w", syscall.ECONNRESET), want: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "x"}, want: true},
		{name: "tls alert", err: fmt.Errorf("handshake: %w", tls.AlertError(40)), want: true},
		{name: "tls record header", err: tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}, want: true},
		{name: "refused", err: syscall.ECONNREFUSED, want: false},
		{name: "broken pipe", err: fmt.Errorf("write: %w", syscall.EPIPE), want: false},
		{name: "eof", err: io.EOF, want: false},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "SlowDown", Message: "Please reduce your request rate"}, want: false},
		{name: "server error", err: serverError, want: false},
		{name: "message mentions eof", err: errors.New("InvalidArgument: header geofence invalid"), want: false},
		{name: "message mentions tls", err: errors.New("remote error: tls: handshake failure"), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "access denied", err: errors.New("AccessDenied"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}

func TestUploadDoesNotRetryThrottling(t *testing.T) {
	bucket := NewMemBucket()
	bucket.PutErr = func(string, int) error {
		return &smithy.GenericAPIError{Code: "SlowDown", Message: "Please reduce your request rate"}
	}
	s := newTestScreenshots(bucket, "")

	_, err := s.Upload(context.Background(), "k", Image{Data: make([]byte, 2048), ContentType: "image/png"})
	assert.True(t, apperr.Is(err, "UPLOAD_FAILED"))
	assert.Equal(t, 1, bucket.Puts())
}
