package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// Limiter decides whether a request still fits in its client's budget.
type Limiter interface {
	// Limit reports whether r is over the limit and sets the X-RateLimit-*
	// headers on w. It does not write a response.
	Limit(w http.ResponseWriter, r *http.Request) (bool, error)
}

// Window limits requests per client IP over a sliding window. Counters live
// in process unless a LimitCounter option says otherwise.
type Window struct {
	rl *httprate.RateLimiter
}

type failureKey struct{}

// NewWindow allows about limit requests per client IP in any span of duration.
func NewWindow(limit int, duration time.Duration, opts ...httprate.Option) *Window {
	opts = append([]httprate.Option{
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithErrorHandler(recordFailure),
	}, opts...)
	return &Window{rl: httprate.NewRateLimiter(limit, duration, opts...)}
}

// Limit counts r against its client. A counter failure is returned instead
// of limiting, so the caller decides whether to fail open.
func (l *Window) Limit(w http.ResponseWriter, r *http.Request) (bool, error) {
	key := ClientIP(r)

	var failure error
	r = r.WithContext(context.WithValue(r.Context(), failureKey{}, &failure))
	limited := l.rl.OnLimit(w, r, key)
	if failure != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, failure)
	}
	return limited, nil
}

func recordFailure(_ http.ResponseWriter, r *http.Request, err error) {
	if slot, ok := r.Context().Value(failureKey{}).(*error); ok {
		*slot = err
	}
}

// ClientIP returns the address a request is counted under: True-Client-IP,
// X-Real-IP, the first X-Forwarded-For hop, else the host part of
// RemoteAddr, else "unknown".
func ClientIP(r *http.Request) string {
	ip, err := httprate.KeyByRealIP(r)
	if err != nil || ip == "" {
		return "unknown"
	}
	return ip
}
