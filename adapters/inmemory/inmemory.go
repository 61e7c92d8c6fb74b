package inmemory

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
)

// Job is one recorded deferred request.
type Job struct {
	Queue   string
	ReplyTo string
	Command cbus.Command
}

// Enqueuer is a thread-safe in-memory implementation of cbus.JobEnqueuer.
// It records deferred requests for tests and single-process setups.
// When Err is set, EnqueueCommand fails with it and records nothing.
type Enqueuer struct {
	mu   sync.Mutex
	jobs []Job
	Err  error
}

func (e *Enqueuer) EnqueueCommand(
	ctx context.Context,
	cmd cbus.Command,
	opts cbus.QueueOptions,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Err != nil {
		return e.Err
	}

	e.jobs = append(e.jobs, Job{Queue: opts.Queue, ReplyTo: opts.ReplyTo, Command: cmd})

	return nil
}

// Jobs returns a snapshot of recorded requests.
func (e *Enqueuer) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Job(nil), e.jobs...)
}

// Published is one recorded integration event.
type Published struct {
	Topic string
	Event cbus.IntegrationEvent
	Opts  cbus.PublishOptions
}

// Publisher is a thread-safe in-memory implementation of cbus.EventPublisher.
// When Err is set, PublishIntegration fails with it and records nothing.
type Publisher struct {
	mu     sync.Mutex
	events []Published
	Err    error
}

func (p *Publisher) PublishIntegration(
	ctx context.Context,
	e cbus.IntegrationEvent,
	opts cbus.PublishOptions,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}

	topic := e.Topic()
	if opts.TopicOverride != "" {
		topic = opts.TopicOverride
	}

	p.events = append(p.events, Published{Topic: topic, Event: e, Opts: opts})

	return nil
}

// Events returns a snapshot of recorded events.
func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Published(nil), p.events...)
}

// Adapter combines Enqueuer and Publisher to satisfy both interfaces.
type Adapter struct {
	Enqueuer
	Publisher
}

// Ensure Adapter implements the combined contract.
var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new in-memory adapter instance.
func New() *Adapter { return &Adapter{} }
