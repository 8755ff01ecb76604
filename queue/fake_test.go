package queue

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type binding struct {
	queue    string
	key      string
	exchange string
}

type fakeChannel struct {
	mu         sync.Mutex
	published  []published
	bindings   []binding
	exchanges  []string
	queues     []string
	prefetch   int
	deliveries chan amqp.Delivery
	publishErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(_, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) Published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeSource struct {
	ch  Channel
	err error
}

func (s fakeSource) Channel() (Channel, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

// fakeAcker records how each delivery was settled.
type fakeAcker struct {
	mu       sync.Mutex
	acks     int
	requeued int
	rejected int
}

func (a *fakeAcker) Ack(_ uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued++
	} else {
		a.rejected++
	}
	return nil
}

func (a *fakeAcker) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

type handlerFunc func(ctx context.Context, n event.Notification) error

func (f handlerFunc) Handle(ctx context.Context, n event.Notification) error {
	return f(ctx, n)
}

func unreadNotification(t *testing.T) event.Notification {
	t.Helper()
	message := domain.NewMessage("hello", "alice", "bob", "c1", time.Now())
	return event.NewUnreadMessageNotification(message, domain.ContactMetadata{
		SenderName:     "Alice",
		SenderEmail:    "alice@example.com",
		RecipientName:  "Bob",
		RecipientEmail: "bob@example.com",
	}, time.Now())
}

func delivery(t *testing.T, acker amqp.Acknowledger, n event.Notification, headers amqp.Table) amqp.Delivery {
	t.Helper()
	body, err := n.Marshal()
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger: acker,
		Headers:      headers,
		ContentType:  "application/json",
		MessageId:    n.ID.String(),
		RoutingKey:   n.Type.RoutingKey(),
		Body:         body,
	}
}
