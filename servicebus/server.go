package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/router"
)

// DefaultDedupTTL bounds how long a processed mutating request key is remembered.
const DefaultDedupTTL = 24 * time.Hour

// DedupStore remembers keys of mutating requests that have been accepted.
// Reserve returns false when the key is already held.
type DedupStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Observer receives one observation per handled request.
type Observer interface {
	ObserveRequest(service, method, route string, status int, elapsed time.Duration)
}

// Middleware wraps route handler execution. Middlewares run in registration order.
type Middleware func(next router.Handler) router.Handler

// Server answers request envelopes for a single service.
// Server is concurrency-safe and contains no global state.
type Server struct {
	service  string
	routes   *router.Table
	mw       []Middleware
	dedup    DedupStore
	dedupTTL time.Duration
	observer Observer
	logger   *slog.Logger
}

// Option configures a Server instance.
type Option func(*Server)

// WithMiddleware registers route middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(s *Server) { s.mw = append(s.mw, mw...) }
}

// WithDedup enables deduplication of mutating requests. ttl <= 0 selects DefaultDedupTTL.
func WithDedup(store DedupStore, ttl time.Duration) Option {
	return func(s *Server) {
		if ttl <= 0 {
			ttl = DefaultDedupTTL
		}

		s.dedup, s.dedupTTL = store, ttl
	}
}

// WithObserver installs a request observer such as metrics.Recorder.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithLogger sets the logger. A nil logger falls back to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New constructs a Server for service over routes.
func New(service string, routes *router.Table, opts ...Option) *Server {
	s := &Server{service: service, routes: routes}
	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.logger = s.logger.With("service", service)

	return s
}

// Service returns the service name.
func (s *Server) Service() string { return s.service }

var _ cbus.Handler = (*Server)(nil)

// Handle processes one request envelope and never fails: every outcome, including a
// handler panic, is expressed as a response envelope carrying the request correlation id.
func (s *Server) Handle(ctx context.Context, req envelope.Request) envelope.Response {
	start := time.Now()
	route := "unmatched"

	resp := s.handle(ctx, &req, &route)

	if s.observer != nil {
		s.observer.ObserveRequest(s.service, req.Method, route, resp.StatusCode, time.Since(start))
	}

	return resp
}

func (s *Server) handle(ctx context.Context, req *envelope.Request, route *string) envelope.Response {
	if err := req.Validate(); err != nil {
		return s.fail(req, err)
	}

	ctx = cbus.WithCorrelationID(ctx, req.CorrelationID)

	match, err := s.routes.Resolve(req.Method, req.Path)
	if err != nil {
		return s.fail(req, err)
	}

	*route = match.Pattern

	key, err := s.reserve(ctx, req)
	if err != nil {
		return s.fail(req, err)
	}

	resp := s.invoke(ctx, match, req)

	if key != "" && !resp.OK() {
		if err := s.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("dedup release failed", "correlation_id", req.CorrelationID, "err", err)
		}
	}

	return resp
}

// reserve claims the dedup key of a mutating request. It returns the claimed key, or ""
// when deduplication does not apply. A store failure rejects the request.
func (s *Server) reserve(ctx context.Context, req *envelope.Request) (string, error) {
	if s.dedup == nil || !req.Mutating() {
		return "", nil
	}

	key := req.DedupKey()
	if key == "" {
		return "", nil
	}

	key = s.service + ":" + key

	ok, err := s.dedup.Reserve(ctx, key, s.dedupTTL)
	if err != nil {
		return "", fmt.Errorf("dedup reserve %s: %w", key, err)
	}

	if !ok {
		return "", berr.Newf(berr.ErrDuplicateRequest, "Duplicate request %s", req.DedupKey())
	}

	return key, nil
}

func (s *Server) invoke(ctx context.Context, match *router.Match, req *envelope.Request) (resp envelope.Response) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("handler panic",
				"correlation_id", req.CorrelationID, "method", req.Method, "path", req.Path, "panic", p)

			resp = envelope.Failure(req.CorrelationID, http.StatusInternalServerError, berr.Message(berr.ErrInternal))
		}
	}()

	h := match.Handler
	for i := len(s.mw) - 1; i >= 0; i-- {
		h = s.mw[i](h)
	}

	reply, err := h.Serve(ctx, &router.Request{Request: *req, Pattern: match.Pattern, Params: match.Params})
	if err != nil {
		return s.fail(req, err)
	}

	if reply == nil {
		reply = router.NoContent()
	}

	out, err := envelope.Success(req.CorrelationID, reply.Status, reply.Data)
	if err != nil {
		return s.fail(req, err)
	}

	return out
}

func (s *Server) fail(req *envelope.Request, err error) envelope.Response {
	resp := envelope.FromError(req.CorrelationID, err)
	if resp.StatusCode >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"correlation_id", req.CorrelationID, "method", req.Method, "path", req.Path,
			"status", resp.StatusCode, "err", err)
	}

	return resp
}
