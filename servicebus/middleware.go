package servicebus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/next-trace/scg-api-bus/auth"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/router"
)

// HeaderClientID identifies an unauthenticated caller for rate limiting.
const HeaderClientID = "X-Client-Id"

// Logging logs every request at debug level and failures at warn level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next router.Handler) router.Handler {
		return router.HandlerFunc(func(ctx context.Context, r *router.Request) (*router.Reply, error) {
			start := time.Now()
			reply, err := next.Serve(ctx, r)

			status := berr.Status(err)
			if err == nil && reply != nil {
				status = reply.Status
			}

			attrs := []any{
				"correlation_id", r.CorrelationID,
				"method", r.Method,
				"path", r.Path,
				"status", status,
				"elapsed", time.Since(start),
			}

			if err != nil && status < 500 {
				logger.Warn("request rejected", append(attrs, "err", err)...)
			} else {
				logger.Debug("request handled", attrs...)
			}

			return reply, err
		})
	}
}

// Authenticate requires a valid Authorization header on every request except those for
// which skip returns true. The verified identity is stored in the handler context.
func Authenticate(v auth.Verifier, skip func(*router.Request) bool) Middleware {
	return func(next router.Handler) router.Handler {
		return router.HandlerFunc(func(ctx context.Context, r *router.Request) (*router.Reply, error) {
			if skip != nil && skip(r) {
				return next.Serve(ctx, r)
			}

			token := auth.BearerToken(r.Headers[envelope.HeaderAuthorization])
			if token == "" {
				return nil, berr.Newf(berr.ErrUnauthorized, "Unauthorized")
			}

			id, err := v.Verify(ctx, token)
			if err != nil {
				return nil, berr.Newf(berr.ErrUnauthorized, "Unauthorized")
			}

			return next.Serve(auth.WithIdentity(ctx, id), r)
		})
	}
}

// RateLimit rejects requests once the caller's token bucket is empty. Callers are keyed by
// authenticated subject, then by the X-Client-Id header; anonymous traffic shares one bucket.
func RateLimit(l *KeyLimiter) Middleware {
	return func(next router.Handler) router.Handler {
		return router.HandlerFunc(func(ctx context.Context, r *router.Request) (*router.Reply, error) {
			if !l.Allow(callerKey(ctx, r), time.Now()) {
				return nil, berr.Newf(berr.ErrRateLimited, "Too many requests")
			}

			return next.Serve(ctx, r)
		})
	}
}

func callerKey(ctx context.Context, r *router.Request) string {
	if id, ok := auth.FromContext(ctx); ok && id.Subject != "" {
		return "sub:" + id.Subject
	}

	if c := strings.TrimSpace(r.Headers[HeaderClientID]); c != "" {
		return "client:" + c
	}

	return "anonymous"
}

// KeyLimiter applies a token bucket per key and periodically evicts idle entries.
type KeyLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyLimiter creates a per-key limiter; it returns nil (allow all) if rps or burst is not positive.
func NewKeyLimiter(rps float64, burst int, idleTTL time.Duration) *KeyLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}

	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	return &KeyLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether one token can be consumed for key at now.
func (l *KeyLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}

	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	return allowed
}
