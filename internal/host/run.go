package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/next-trace/scg-api-bus/adapters/directrpc"
	"github.com/next-trace/scg-api-bus/adapters/kafka"
	"github.com/next-trace/scg-api-bus/adapters/mysql"
	"github.com/next-trace/scg-api-bus/adapters/nats"
	"github.com/next-trace/scg-api-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-api-bus/adapters/redis"
	"github.com/next-trace/scg-api-bus/catalogclient"
	"github.com/next-trace/scg-api-bus/config"
	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/memory"
	"github.com/next-trace/scg-api-bus/metrics"
)

const shutdownGrace = 10 * time.Second

// Host is one running service process.
type Host struct {
	cfg      config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder
	cleanups []func()
}

// New validates cfg. Nothing is dialled until Run.
func New(cfg config.Config, logger *slog.Logger) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Host{cfg: cfg, logger: logger, recorder: metrics.New()}, nil
}

func (h *Host) onClose(f func()) { h.cleanups = append(h.cleanups, f) }

func (h *Host) close() {
	for i := len(h.cleanups) - 1; i >= 0; i-- {
		h.cleanups[i]()
	}

	h.cleanups = nil
}

// Run wires every component and serves until ctx is cancelled or a component fails.
// A lost broker connection ends Run with an error wrapping ErrConnectionLost.
func (h *Host) Run(ctx context.Context) error {
	defer h.close()

	stores, err := h.openStores(ctx)
	if err != nil {
		return err
	}

	conn, ch, err := rabbitmq.Dial(rabbitmq.Config{URL: h.cfg.RabbitMQ.URL, ConnTimeout: h.cfg.RabbitMQ.ConnTimeout})
	if err != nil {
		return err
	}

	h.onClose(func() {
		_ = ch.Close()
		_ = conn.Close()
	})

	side, err := h.openSideEffects()
	if err != nil {
		return err
	}

	deps := Deps{SideEffects: side, Recorder: h.recorder, Logger: h.logger}

	if h.cfg.Service == "order" {
		// In-flight orders outlive ctx, so their catalog replies must too. The caller stops
		// when the channel is closed after the consumer has drained.
		caller, err := rabbitmq.NewCaller(context.WithoutCancel(ctx), ch, h.logger)
		if err != nil {
			return err
		}

		deps.StockRetry = StockRetry(ch)
		deps.RetryReplyTo = caller.ReplyQueue()

		inv, err := h.catalogInvoker(caller)
		if err != nil {
			return err
		}

		guard := catalogclient.NewGuard("catalog", inv, catalogclient.GuardConfig{
			Timeout:          h.cfg.Catalog.Timeout,
			FailureThreshold: h.cfg.Catalog.FailureThreshold,
			OpenFor:          h.cfg.Catalog.OpenFor,
		}, h.recorder, h.logger)

		deps.Products = catalogclient.New(guard)
	}

	srv, err := NewServer(h.cfg, stores, deps)
	if err != nil {
		return err
	}

	consumer := rabbitmq.NewConsumer(ch, srv, rabbitmq.ConsumerConfig{
		Service:    h.cfg.Service,
		Prefetch:   h.cfg.RabbitMQ.Prefetch,
		ReplyQueue: h.cfg.RabbitMQ.ReplyQueue,
		Fault: rabbitmq.FaultPolicy{
			Mode:        rabbitmq.FaultMode(h.cfg.RabbitMQ.FaultMode),
			MaxAttempts: h.cfg.RabbitMQ.MaxAttempts,
		},
	}, rabbitmq.WithConsumerLogger(h.logger), rabbitmq.WithDeliveryObserver(h.recorder))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return consumer.Run(gctx) })

	if h.cfg.GRPC.Listen != "" {
		lis, err := net.Listen("tcp", h.cfg.GRPC.Listen)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", h.cfg.GRPC.Listen, err)
		}

		gs := directrpc.NewServer(srv)

		g.Go(func() error {
			h.logger.Info("grpc endpoint listening", "addr", lis.Addr().String())
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()

			return nil
		})
	}

	if h.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.recorder.Handler())

		hs := &http.Server{Addr: h.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			h.logger.Info("metrics listening", "addr", hs.Addr)

			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}

			return nil
		})
		g.Go(func() error {
			<-gctx.Done()

			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()

			return hs.Shutdown(sctx)
		})
	}

	h.logger.Info("service started", "service", h.cfg.Service, "queue", consumer.Queue())

	err = g.Wait()
	if ctx.Err() != nil && err == nil {
		h.logger.Info("service stopped", "service", h.cfg.Service)
	}

	return err
}

func (h *Host) openStores(ctx context.Context) (Stores, error) {
	var st Stores

	switch h.cfg.Storage.Driver {
	case "mysql":
		db, err := mysql.Open(ctx, h.cfg.Storage.DSN)
		if err != nil {
			return Stores{}, err
		}

		h.onClose(func() { _ = db.Close() })

		if h.cfg.Storage.Migrate {
			if err := mysql.Migrate(ctx, db); err != nil {
				return Stores{}, err
			}
		}

		st = Stores{Orders: mysql.NewOrders(db), Catalog: mysql.NewCatalog(db), Users: mysql.NewUsers(db)}
	default:
		st = Stores{Orders: memory.NewOrders(), Catalog: memory.NewCatalog(), Users: memory.NewUsers()}
	}

	switch h.cfg.Dedup.Driver {
	case "redis":
		client, err := redis.Connect(ctx, h.cfg.Dedup.RedisAddr, h.cfg.Dedup.RedisPassword, h.cfg.Dedup.RedisDB)
		if err != nil {
			return Stores{}, err
		}

		h.onClose(func() { _ = client.Close() })

		hostname, _ := os.Hostname()
		st.Dedup = redis.NewDedup(client, fmt.Sprintf("%s@%s:%d", h.cfg.Service, hostname, os.Getpid()))
	case "memory":
		st.Dedup = memory.NewDedup()
	}

	return st, nil
}

func (h *Host) openSideEffects() (cbus.EventPublisher, error) {
	switch h.cfg.Events.Driver {
	case "rabbitmq":
		ad, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: h.cfg.RabbitMQ.URL, ConnTimeout: h.cfg.RabbitMQ.ConnTimeout})
		if err != nil {
			return nil, err
		}

		ad.Propagator = cbus.CorrelationPropagator{}
		h.onClose(cleanup)

		return ad, nil
	case "nats":
		ad, cleanup, err := nats.NewWithNATS(nats.Config{URL: h.cfg.Events.NATSURL, Name: "scg-" + h.cfg.Service}, h.logger)
		if err != nil {
			return nil, err
		}

		h.onClose(cleanup)

		return ad, nil
	case "kafka":
		ad, cleanup, err := kafka.NewWithKgo(kafka.Config{Brokers: h.cfg.Events.KafkaBrokers, ClientID: "scg-" + h.cfg.Service})
		if err != nil {
			return nil, err
		}

		h.onClose(cleanup)

		return ad, nil
	default:
		return nil, nil
	}
}

// StockRetry enqueues deferred stock adjustments on ch. The catalog consumer reads its
// request queue from the broker, so retries use it whatever driver carries events.
func StockRetry(ch rabbitmq.Channel) cbus.JobEnqueuer {
	return rabbitmq.NewWithPropagator(rabbitmq.ChannelPublisher{Ch: ch}, cbus.CorrelationPropagator{})
}

func (h *Host) catalogInvoker(caller *rabbitmq.Caller) (catalogclient.Invoker, error) {
	if h.cfg.Catalog.Transport == "grpc" {
		c, err := directrpc.Dial(h.cfg.Catalog.GRPCTarget)
		if err != nil {
			return nil, err
		}

		h.onClose(func() { _ = c.Close() })

		return c, nil
	}

	return caller.To(rabbitmq.RequestQueue("catalog")), nil
}
