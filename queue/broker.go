package queue

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{Connection: conn}, nil
}

// Broker owns the AMQP connection. It is a supervised worker: Run returns an error
// as soon as the connection drops and the supervisor dials again after its restart
// interval. Meanwhile Channel reports the broker unavailable.
type Broker struct {
	log      *slog.Logger
	url      string
	topology Topology
	dial     Dialer

	mu   sync.RWMutex
	conn Connection
}

func NewBroker(log *slog.Logger, url string, topology Topology, dial Dialer) *Broker {
	if dial == nil {
		dial = DialAMQP
	}
	return &Broker{log: log, url: url, topology: topology, dial: dial}
}

func (b *Broker) Run(ctx context.Context) error {
	conn, err := b.dial(b.url)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", errors.ErrBrokerUnavailable, err)
	}
	if err := b.declare(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %v", errors.ErrBrokerUnavailable, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	b.setConnection(conn)
	defer b.setConnection(nil)
	b.log.Info("Broker connected", "exchange", b.topology.Exchange, "queue", b.topology.Queue)

	select {
	case <-ctx.Done():
		if err := conn.Close(); err != nil {
			b.log.Debug("Broker close", "error", err)
		}
		return nil
	case amqpErr := <-closed:
		return fmt.Errorf("%w: connection lost: %v", errors.ErrBrokerUnavailable, amqpErr)
	}
}

func (b *Broker) declare(conn Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	return b.topology.Declare(ch)
}

// Channel opens a new channel on the live connection.
func (b *Broker) Channel() (Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return nil, errors.ErrBrokerUnavailable
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", errors.ErrBrokerUnavailable, err)
	}
	return ch, nil
}

func (b *Broker) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

func (b *Broker) Topology() Topology {
	return b.topology
}

func (b *Broker) setConnection(conn Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = conn
}
