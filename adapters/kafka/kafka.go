// Package kafka publishes integration events and deferred requests as Kafka records.
// Events are keyed by PublishOptions.Key so one aggregate's events stay ordered within a
// partition; deferred requests go to "jobs.<queue>" keyed by their idempotency key.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

const jobsPrefix = "jobs."

// Writer produces one record. kgoWriter wraps a franz-go client; tests inject fakes.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Adapter implements cbus.Adapter using an injected Writer.
type Adapter struct {
	Writer     Writer
	Propagator cbus.HeaderPropagator // optional
}

var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer) *Adapter { return &Adapter{Writer: w, Propagator: cbus.CorrelationPropagator{}} }

func (a *Adapter) EnqueueCommand(ctx context.Context, cmd cbus.Command, opts cbus.QueueOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if opts.Queue == "" {
		return fmt.Errorf("kafka enqueue: queue required: %w", berr.ErrEnqueueFailed)
	}

	return a.write(ctx, record{
		topic:   jobsPrefix + opts.Queue,
		key:     cmd.DedupKey(),
		payload: cmd,
		headers: opts.Headers,
		wrap:    berr.ErrEnqueueFailed,
		label:   "enqueue",
	})
}

func (a *Adapter) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	topic := e.Topic()
	if opts.TopicOverride != "" {
		topic = opts.TopicOverride
	}

	return a.write(ctx, record{
		topic:   topic,
		key:     opts.Key,
		payload: e,
		headers: opts.Headers,
		wrap:    berr.ErrPublishFailed,
		label:   "publish",
	})
}

type record struct {
	topic   string
	key     string
	payload any
	headers map[string]string
	wrap    error
	label   string
}

func (a *Adapter) write(ctx context.Context, r record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka %s: %w", r.label, r.wrap)
	}

	val, err := json.Marshal(r.payload)
	if err != nil {
		return fmt.Errorf("kafka %s serialize: %w", r.label, errors.Join(berr.ErrSerializationFailed, err))
	}

	hdrs := make(map[string]string, len(r.headers)+1)
	maps.Copy(hdrs, r.headers)

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	var key []byte
	if r.key != "" {
		key = []byte(r.key)
	}

	if err := a.Writer.Write(ctx, r.topic, key, val, hdrs); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka %s write to %q: %w", r.label, r.topic, errors.Join(r.wrap, err))
	}

	return nil
}
