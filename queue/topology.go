// Package queue carries notification events over a durable AMQP topic exchange
// to a single work queue consumed one delivery at a time.
package queue

import (
	"chat-relay/domain/event"
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "notifications"
	DefaultQueue    = "notifications.email"
	attemptHeader   = "x-attempt"
)

// Channel is the part of *amqp.Channel used by the relay.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelSource hands out channels on the current broker connection.
type ChannelSource interface {
	Channel() (Channel, error)
}

type Topology struct {
	Exchange string
	Queue    string
}

func DefaultTopology() Topology {
	return Topology{Exchange: DefaultExchange, Queue: DefaultQueue}
}

// Declare is idempotent: the exchange, the queue and every routing key binding
// are created durable when missing.
func (t Topology) Declare(ch Channel) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	for _, key := range event.RoutingKeys() {
		if err := ch.QueueBind(t.Queue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, t.Queue, err)
		}
	}
	return nil
}
