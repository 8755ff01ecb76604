package queue

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	mu       sync.Mutex
	ch       *fakeChannel
	closers  []chan *amqp.Error
	isClosed bool
}

func (c *fakeConnection) Channel() (Channel, error) {
	return c.ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, receiver)
	return receiver
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isClosed = true
	return nil
}

func (c *fakeConnection) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, closer := range c.closers {
		closer <- amqp.ErrClosed
	}
}

func Test_Broker_Declares_Topology_And_Reports_Loss(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnection{ch: newFakeChannel()}
	broker := NewBroker(slog.Default(), "amqp://test", DefaultTopology(), func(string) (Connection, error) {
		return conn, nil
	})

	done := make(chan error, 1)
	go func() { done <- broker.Run(context.Background()) }()
	req.Eventually(broker.Available, time.Second, 5*time.Millisecond)
	req.Len(conn.ch.bindings, 5)

	ch, err := broker.Channel()
	req.NoError(err)
	req.NotNil(ch)

	// When the connection drops
	conn.drop()

	// Then Run returns for the supervisor to dial again
	req.ErrorIs(<-done, errors.ErrBrokerUnavailable)
	req.False(broker.Available())
	_, err = broker.Channel()
	req.ErrorIs(err, errors.ErrBrokerUnavailable)
}

func Test_Broker_Stops_On_Context_Cancel(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnection{ch: newFakeChannel()}
	broker := NewBroker(slog.Default(), "amqp://test", DefaultTopology(), func(string) (Connection, error) {
		return conn, nil
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx) }()
	req.Eventually(broker.Available, time.Second, 5*time.Millisecond)
	cancel()

	req.NoError(<-done)
	req.True(conn.isClosed)
}

func Test_Broker_Dial_Failure(t *testing.T) {
	req := require.New(t)
	broker := NewBroker(slog.Default(), "amqp://test", DefaultTopology(), func(string) (Connection, error) {
		return nil, fmt.Errorf("connection refused")
	})

	err := broker.Run(context.Background())

	req.ErrorIs(err, errors.ErrBrokerUnavailable)
	req.False(broker.Available())
}
