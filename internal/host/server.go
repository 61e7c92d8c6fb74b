/*
Package host assembles one service process from a config.Config: storage, the dedup store,
the broker binding, side-effect publishers, the catalog client of the order service and the
optional gRPC and metrics endpoints.
*/
package host

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/next-trace/scg-api-bus/auth"
	"github.com/next-trace/scg-api-bus/catalog"
	"github.com/next-trace/scg-api-bus/config"
	ccat "github.com/next-trace/scg-api-bus/contract/catalog"
	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/identity"
	"github.com/next-trace/scg-api-bus/metrics"
	"github.com/next-trace/scg-api-bus/order"
	"github.com/next-trace/scg-api-bus/router"
	"github.com/next-trace/scg-api-bus/servicebus"
)

// Stores are the persistence ports of the three services. Only the one matching the
// configured service is used.
type Stores struct {
	Orders  order.Repository
	Catalog catalog.Repository
	Users   identity.Repository
	Dedup   servicebus.DedupStore
}

// Deps are the collaborators NewServer needs besides storage. Products is required for
// the order service; the rest may be nil.
type Deps struct {
	Products     ccat.Client
	// SideEffects publishes integration events.
	SideEffects  cbus.EventPublisher
	// StockRetry carries failed stock adjustments to the catalog request queue. It must
	// reach the queue the catalog consumer reads, whatever transport events use.
	StockRetry   cbus.JobEnqueuer
	// RetryReplyTo receives the catalog's answers to retried adjustments.
	RetryReplyTo string
	Recorder     *metrics.Recorder
	Logger       *slog.Logger
}

// NewServer builds the request handler of cfg.Service.
func NewServer(cfg config.Config, st Stores, d Deps) (*servicebus.Server, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("service", cfg.Service)

	routes, err := routesFor(cfg, st, d, logger)
	if err != nil {
		return nil, err
	}

	table, err := router.New(routes...)
	if err != nil {
		return nil, fmt.Errorf("routes %s: %w", cfg.Service, err)
	}

	mw := []servicebus.Middleware{servicebus.Logging(logger)}

	if len(cfg.Auth.Tokens) > 0 {
		tokens := make(map[string]auth.Identity, len(cfg.Auth.Tokens))
		for tok, p := range cfg.Auth.Tokens {
			tokens[tok] = auth.Identity{Subject: p.Subject, Role: p.Role}
		}

		mw = append(mw, servicebus.Authenticate(auth.NewStatic(tokens), publicRoutes(cfg.Auth.Public)))
	}

	if cfg.Limit.RPS > 0 {
		mw = append(mw, servicebus.RateLimit(servicebus.NewKeyLimiter(cfg.Limit.RPS, cfg.Limit.Burst, cfg.Limit.IdleTTL)))
	}

	opts := []servicebus.Option{servicebus.WithMiddleware(mw...), servicebus.WithLogger(logger)}

	if st.Dedup != nil {
		opts = append(opts, servicebus.WithDedup(st.Dedup, cfg.Dedup.TTL))
	}

	if d.Recorder != nil {
		opts = append(opts, servicebus.WithObserver(d.Recorder))
	}

	return servicebus.New(cfg.Service, table, opts...), nil
}

func routesFor(cfg config.Config, st Stores, d Deps, logger *slog.Logger) ([]router.Route, error) {
	switch cfg.Service {
	case "identity":
		if st.Users == nil {
			return nil, fmt.Errorf("identity: user store missing")
		}

		return identity.Routes(identity.NewService(st.Users, logger)), nil
	case "catalog":
		if st.Catalog == nil {
			return nil, fmt.Errorf("catalog: product store missing")
		}

		return catalog.Routes(catalog.NewService(st.Catalog, logger)), nil
	case "order":
		if st.Orders == nil || d.Products == nil {
			return nil, fmt.Errorf("order: order store and catalog client are required")
		}

		opts := []order.Option{
			order.WithLogger(logger),
			order.WithTimeouts(cfg.Catalog.LookupTimeout, cfg.Catalog.AdjustTimeout),
		}

		if d.SideEffects != nil {
			opts = append(opts, order.WithEvents(d.SideEffects))
		}

		if d.StockRetry != nil {
			opts = append(opts, order.WithStockRetry(d.StockRetry, cfg.Catalog.RetryQueue), order.WithRetryReplies(d.RetryReplyTo))
		}

		return order.Routes(order.NewService(st.Orders, d.Products, opts...)), nil
	default:
		return nil, fmt.Errorf("unknown service %q", cfg.Service)
	}
}

// publicRoutes matches "METHOD /pattern" entries against the resolved route pattern.
func publicRoutes(entries []string) func(*router.Request) bool {
	public := make(map[string]bool, len(entries))

	for _, e := range entries {
		method, pattern, ok := strings.Cut(strings.TrimSpace(e), " ")
		if !ok {
			continue
		}

		public[strings.ToUpper(method)+" "+strings.TrimSpace(pattern)] = true
	}

	return func(r *router.Request) bool {
		return public[r.Method+" "+r.Pattern]
	}
}
