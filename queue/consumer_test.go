package queue

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func Test_Permanent_Failure_Is_Acked_Once_Never_Requeued(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	acker := &fakeAcker{}
	calls := 0
	consumer := NewConsumer(slog.Default(), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		calls++
		return fmt.Errorf("%w: 550 5.4.5 daily quota", errors.ErrQuotaExceeded)
	}), 0)

	outcome := consumer.Process(context.Background(), ch, delivery(t, acker, unreadNotification(t), nil))

	req.Equal(OutcomeRejected, outcome)
	req.Equal(1, calls)
	req.Equal(1, acker.acks)
	req.Equal(0, acker.requeued)
	req.Empty(ch.Published())
}

func Test_Transient_Failure_Is_Requeued_Until_Success(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	acker := &fakeAcker{}
	calls := 0
	consumer := NewConsumer(logs.GetLoggerFromLevel(slog.LevelDebug), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: dial tcp: i/o timeout", errors.ErrTransient)
		}
		return nil
	}), time.Millisecond)
	d := delivery(t, acker, unreadNotification(t), nil)

	// When the broker redelivers every requeued delivery
	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		outcome := consumer.Process(context.Background(), ch, d)
		outcomes = append(outcomes, outcome)
		if outcome != OutcomeRequeued {
			break
		}
	}

	// Then it is requeued twice and acked on success
	req.Equal([]Outcome{OutcomeRequeued, OutcomeRequeued, OutcomeAcked}, outcomes)
	req.Equal(2, acker.requeued)
	req.Equal(1, acker.acks)
}

func Test_Unclassified_Failure_Dropped_After_Max_Attempts(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	acker := &fakeAcker{}
	calls := 0
	consumer := NewConsumer(slog.Default(), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		calls++
		return fmt.Errorf("template exploded")
	}), 0)
	d := delivery(t, acker, unreadNotification(t), nil)

	var outcomes []Outcome
	for i := 0; i < 10; i++ {
		outcome := consumer.Process(context.Background(), ch, d)
		outcomes = append(outcomes, outcome)
		if outcome != OutcomeRetried {
			break
		}
		// The broker hands back the republished copy
		last := ch.Published()[len(ch.Published())-1]
		d = amqp.Delivery{Acknowledger: acker, Headers: last.msg.Headers, MessageId: last.msg.MessageId, RoutingKey: last.key, Body: last.msg.Body}
	}

	req.Equal([]Outcome{OutcomeRetried, OutcomeRetried, OutcomeDropped}, outcomes)
	req.Equal(3, calls)
	req.Equal(3, acker.acks)
	req.Equal(0, acker.requeued)

	republished := ch.Published()
	req.Len(republished, 2)
	req.Equal(DefaultExchange, republished[0].exchange)
	req.Equal("message.review", republished[0].key)
	req.Equal(int32(2), republished[0].msg.Headers[attemptHeader])
	req.Equal(int32(3), republished[1].msg.Headers[attemptHeader])
	req.Equal(amqp.Persistent, republished[1].msg.DeliveryMode)
	// Retries keep the notification identity
	req.Equal(republished[0].msg.MessageId, republished[1].msg.MessageId)
	req.NotEmpty(republished[1].msg.MessageId)
}

func Test_Republish_Failure_Requeues_Original(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	ch.publishErr = amqp.ErrClosed
	acker := &fakeAcker{}
	consumer := NewConsumer(slog.Default(), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		return fmt.Errorf("boom")
	}), 0)

	outcome := consumer.Process(context.Background(), ch, delivery(t, acker, unreadNotification(t), nil))

	req.Equal(OutcomeRequeued, outcome)
	req.Equal(0, acker.acks)
	req.Equal(1, acker.requeued)
}

func Test_Malformed_Delivery_Is_Acked(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	acker := &fakeAcker{}
	consumer := NewConsumer(slog.Default(), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		t.Fatal("handler must not be called")
		return nil
	}), 0)

	outcome := consumer.Process(context.Background(), ch, amqp.Delivery{
		Acknowledger: acker,
		Body:         []byte(`{"type":"carrier-pigeon","data":{}}`),
	})

	req.Equal(OutcomeMalformed, outcome)
	req.Equal(1, acker.acks)
}

func Test_Attempt_Header(t *testing.T) {
	req := require.New(t)

	req.Equal(1, attemptOf(amqp.Delivery{}))
	req.Equal(2, attemptOf(amqp.Delivery{Headers: amqp.Table{attemptHeader: int32(2)}}))
	req.Equal(3, attemptOf(amqp.Delivery{Headers: amqp.Table{attemptHeader: int64(3)}}))
	req.Equal(1, attemptOf(amqp.Delivery{Headers: amqp.Table{attemptHeader: "x"}}))
}

func Test_Consumer_Run_Drains_Deliveries(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	acker := &fakeAcker{}
	var handled atomic.Int32
	consumer := NewConsumer(slog.Default(), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		handled.Add(1)
		return nil
	}), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	ch.deliveries <- delivery(t, acker, unreadNotification(t), nil)
	ch.deliveries <- delivery(t, acker, unreadNotification(t), nil)

	req.Eventually(func() bool { return handled.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-done)
	req.Equal(1, ch.prefetch)
	req.True(ch.closed)
}

func Test_Consumer_Run_Fails_When_Broker_Down(t *testing.T) {
	req := require.New(t)
	consumer := NewConsumer(slog.Default(), fakeSource{err: errors.ErrBrokerUnavailable}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		return nil
	}), 0)

	err := consumer.Run(context.Background())

	req.ErrorIs(err, errors.ErrBrokerUnavailable)
}

func Test_Consumer_Run_Returns_When_Deliveries_Close(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	consumer := NewConsumer(slog.Default(), fakeSource{ch: ch}, DefaultTopology(), handlerFunc(func(context.Context, event.Notification) error {
		return nil
	}), 0)
	close(ch.deliveries)

	err := consumer.Run(context.Background())

	req.ErrorIs(err, errors.ErrTransient)
}
