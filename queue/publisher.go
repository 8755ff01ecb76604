package queue

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ contract.Publisher = (*Publisher)(nil)

type PublishResult struct {
	Published  bool
	Dropped    bool
	RoutingKey string
}

// Publisher is fail-soft: a broker outage drops the event with a log line and
// never fails the caller. Nothing is buffered locally.
type Publisher struct {
	log      *slog.Logger
	source   ChannelSource
	exchange string

	mu sync.Mutex
	ch Channel
}

func NewPublisher(log *slog.Logger, source ChannelSource, exchange string) *Publisher {
	return &Publisher{log: log, source: source, exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, n event.Notification) error {
	_, err := p.PublishWithResult(ctx, n)
	return err
}

func (p *Publisher) PublishWithResult(ctx context.Context, n event.Notification) (PublishResult, error) {
	result := PublishResult{RoutingKey: n.Type.RoutingKey()}
	body, err := n.Marshal()
	if err != nil {
		observability.NotificationsPublished.WithLabelValues(observability.Failed).Inc()
		return result, err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID.String(),
		Timestamp:    n.Timestamp,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// A cached channel may belong to a connection that dropped since: retry once on a fresh one.
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channel()
		if err != nil {
			p.drop(&result, n, err)
			return result, nil
		}
		if err = ch.PublishWithContext(ctx, p.exchange, result.RoutingKey, false, false, msg); err == nil {
			result.Published = true
			observability.NotificationsPublished.WithLabelValues(observability.Published).Inc()
			p.log.Debug("Notification published", "type", n.Type, "routing_key", result.RoutingKey)
			return result, nil
		}
		p.log.Debug("Publish failed, resetting channel", "error", err)
		_ = ch.Close()
		p.ch = nil
		if ctx.Err() != nil {
			p.drop(&result, n, ctx.Err())
			return result, nil
		}
	}
	p.drop(&result, n, nil)
	return result, nil
}

func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, err := p.source.Channel()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) drop(result *PublishResult, n event.Notification, cause error) {
	result.Dropped = true
	observability.NotificationsPublished.WithLabelValues(observability.Dropped).Inc()
	p.log.Warn("Broker unavailable, notification dropped",
		"type", n.Type, "recipient", n.Data.Addresses.Recipient, "error", cause)
}
