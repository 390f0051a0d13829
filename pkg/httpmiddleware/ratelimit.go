package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Limiter decides whether the client identified by key may make a request.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// SlidingWindow is an in-process Limiter that weights the previous window
// by its overlap with the current one.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*windowPair
}

type windowPair struct {
	prev, curr       float64
	prevAt, currFrom time.Time
}

// NewSlidingWindow allows limit requests per key in any window-long interval.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{max: limit, window: window, windows: make(map[string]*windowPair)}
}

func (s *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.windows[key]
	if !ok {
		p = &windowPair{currFrom: now}
		s.windows[key] = p
	}
	if now.Sub(p.currFrom) >= s.window {
		p.prev, p.prevAt = p.curr, p.currFrom
		p.curr, p.currFrom = 0, now.Truncate(s.window)
		if now.Sub(p.prevAt) >= 2*s.window {
			p.prev = 0
		}
	}

	overlap := max(1-now.Sub(p.currFrom).Seconds()/s.window.Seconds(), 0)
	used := p.prev*overlap + p.curr
	d := Decision{Limit: s.max, ResetAt: p.currFrom.Add(s.window)}
	if used >= float64(s.max) {
		return d, nil
	}
	p.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(s.max)-used-1), 0)
	return d, nil
}

// Sweep drops keys whose windows have both expired.
func (s *SlidingWindow) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.windows {
		if now.Sub(p.currFrom) >= 2*s.window {
			delete(s.windows, key)
		}
	}
}

// SweepEvery calls Sweep every interval until ctx is done.
func (s *SlidingWindow) SweepEvery(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}

// RateLimit rejects requests over the limiter's budget with 429 and sets the
// X-RateLimit-* headers on every response. keyFunc defaults to ClientIP. A
// limiter error lets the request through.
func RateLimit(l Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				wait := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys a request by the first X-Forwarded-For hop, X-Real-IP or the
// peer address, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes the API error body {code, kind, message}.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("kind")
	e.Str(kind)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
