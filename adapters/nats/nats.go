// Package nats publishes integration events and deferred requests over NATS subjects.
// Deferred requests go to "cmd.<queue>"; events go to their topic as subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

const cmdPrefix = "cmd."

// Client publishes one message. natsClient wraps a live connection; tests inject fakes.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// Adapter implements cbus.Adapter using an injected Client.
type Adapter struct {
	Client     Client
	Propagator cbus.HeaderPropagator // optional
}

var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c, Propagator: cbus.CorrelationPropagator{}} }

// EnqueueCommand publishes cmd on "cmd.<opts.Queue>". The idempotency key travels in the
// envelope body so the receiving service can deduplicate a replay.
func (a *Adapter) EnqueueCommand(ctx context.Context, cmd cbus.Command, opts cbus.QueueOptions) error {
	if opts.Queue == "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		return fmt.Errorf("nats enqueue: queue required: %w", berr.ErrEnqueueFailed)
	}

	return a.send(ctx, &sendArgs{
		subject: cmdPrefix + opts.Queue,
		payload: cmd,
		headers: opts.Headers,
		wrap:    berr.ErrEnqueueFailed,
		label:   "enqueue",
	})
}

// PublishIntegration publishes e on its topic, or opts.TopicOverride when set.
func (a *Adapter) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	subject := e.Topic()
	if opts.TopicOverride != "" {
		subject = opts.TopicOverride
	}

	hdrs := maps.Clone(opts.Headers)
	if opts.Key != "" {
		if hdrs == nil {
			hdrs = map[string]string{}
		}

		hdrs["key"] = opts.Key
	}

	return a.send(ctx, &sendArgs{
		subject: subject,
		payload: e,
		headers: hdrs,
		wrap:    berr.ErrPublishFailed,
		label:   "publish",
	})
}

type sendArgs struct {
	subject string
	payload any
	headers map[string]string
	wrap    error
	label   string
}

func (a *Adapter) send(ctx context.Context, sa *sendArgs) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", sa.label, sa.wrap)
	}

	body, err := json.Marshal(sa.payload)
	if err != nil {
		return fmt.Errorf("nats %s serialize: %w", sa.label, errors.Join(berr.ErrSerializationFailed, err))
	}

	hdrs := make(map[string]string, len(sa.headers)+1)
	maps.Copy(hdrs, sa.headers)

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	if err := a.Client.Publish(ctx, sa.subject, body, hdrs); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats %s publish: %w", sa.label, errors.Join(sa.wrap, err))
	}

	return nil
}
