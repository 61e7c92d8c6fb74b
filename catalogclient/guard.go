package catalogclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// GuardConfig tunes Guard. Zero fields select the defaults.
type GuardConfig struct {
	// Timeout bounds every call. Defaults to 3s.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker. Defaults to 5.
	FailureThreshold uint32
	// OpenFor is how long the breaker rejects calls before probing again. Defaults to 30s.
	OpenFor time.Duration
}

// BreakerObserver is notified of breaker state changes, such as metrics.Recorder.
type BreakerObserver interface {
	SetBreakerState(name string, state int)
}

// Guard bounds an Invoker with a per-call timeout and a circuit breaker. Transport errors,
// timeouts and 5xx replies count as failures; an open breaker fails fast with ErrUpstream.
type Guard struct {
	next    Invoker
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

var _ Invoker = (*Guard)(nil)

var errServerFault = errors.New("catalog replied with a server fault")

// NewGuard wraps next. obs and logger may be nil.
func NewGuard(name string, next Invoker, cfg GuardConfig, obs BreakerObserver, logger *slog.Logger) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	threshold := cfg.FailureThreshold

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())

			if obs != nil {
				obs.SetBreakerState(name, int(to))
			}
		},
	})

	if obs != nil {
		obs.SetBreakerState(name, int(gobreaker.StateClosed))
	}

	return &Guard{next: next, timeout: cfg.Timeout, cb: cb}
}

// Call forwards req through the breaker with the configured timeout. 5xx replies are
// returned to the caller unchanged.
func (g *Guard) Call(ctx context.Context, req envelope.Request) (envelope.Response, error) {
	out, err := g.cb.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.next.Call(cctx, req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerFault
		}

		return resp, nil
	})

	switch {
	case err == nil:
		return out.(envelope.Response), nil
	case errors.Is(err, errServerFault):
		return out.(envelope.Response), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return envelope.Response{}, fmt.Errorf("catalog breaker %s: %w", g.cb.Name(), errors.Join(berr.ErrUpstream, err))
	default:
		return envelope.Response{}, err
	}
}

// State returns the breaker state name.
func (g *Guard) State() string { return g.cb.State().String() }
