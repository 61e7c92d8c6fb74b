package rabbitmq_test

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-api-bus/adapters/rabbitmq"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	qos        []int
	declared   map[string]amqp.Table
	published  []published
	streams    map[string]chan amqp.Delivery
	publishErr error
	onPublish  func(key string, msg amqp.Publishing)
	// cancelStreams ends a consumer's stream when its context is done, as the broker does.
	cancelStreams bool
}

var _ rabbitmq.Channel = (*fakeChannel)(nil)

func newFakeChannel() *fakeChannel {
	return &fakeChannel{declared: map[string]amqp.Table{}, streams: map[string]chan amqp.Delivery{}}
}

// stream returns the delivery channel fed to consumers of queue.
func (f *fakeChannel) stream(queue string) chan amqp.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.streams[queue]
	if !ok {
		s = make(chan amqp.Delivery, 64)
		f.streams[queue] = s
	}

	return s
}

func (f *fakeChannel) Qos(prefetchCount, _ int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if global {
		f.qos = append(f.qos, -prefetchCount)
	} else {
		f.qos = append(f.qos, prefetchCount)
	}

	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if name == "" {
		name = "amq.gen-reply"
	}

	f.mu.Lock()
	f.declared[name] = args
	f.mu.Unlock()

	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) ConsumeWithContext(
	ctx context.Context,
	queue, _ string,
	_, _, _, _ bool,
	_ amqp.Table,
) (<-chan amqp.Delivery, error) {
	src := f.stream(queue)
	if !f.cancelStreams {
		return src, nil
	}

	out := make(chan amqp.Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case d := <-src:
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (f *fakeChannel) PublishWithContext(
	ctx context.Context,
	exchange, key string,
	_, _ bool,
	msg amqp.Publishing,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()

		return err
	}

	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(key, msg)
	}

	return nil
}

func (f *fakeChannel) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]published(nil), f.published...)
}

type fakeAck struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	rejects []uint64
	requeue []bool
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	a.acked = append(a.acked, tag)
	a.mu.Unlock()

	return nil
}

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	a.mu.Unlock()

	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	a.rejects = append(a.rejects, tag)
	a.requeue = append(a.requeue, requeue)
	a.mu.Unlock()

	return nil
}

func (a *fakeAck) counts() (acked, nacked, rejected int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.acked), len(a.nacked), len(a.rejects)
}
