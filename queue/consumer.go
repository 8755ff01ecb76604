package queue

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultMaxAttempts = 3

type Handler interface {
	Handle(ctx context.Context, n event.Notification) error
}

type Outcome string

const (
	OutcomeAcked     Outcome = observability.Acked
	OutcomeRequeued  Outcome = observability.Requeued
	OutcomeRetried   Outcome = observability.Retried
	OutcomeDropped   Outcome = observability.DeadDrop
	OutcomeRejected  Outcome = observability.Rejected
	OutcomeMalformed Outcome = observability.Malformed
)

// Consumer drains the work queue one delivery at a time.
// Failures are classified so that nothing loops forever:
// permanent provider errors are acked, transient ones are requeued, anything
// else is republished with an attempt counter and dropped once it runs out.
type Consumer struct {
	log          *slog.Logger
	source       ChannelSource
	topology     Topology
	handler      Handler
	maxAttempts  int
	requeueDelay time.Duration
}

func NewConsumer(log *slog.Logger, source ChannelSource, topology Topology, handler Handler, requeueDelay time.Duration) *Consumer {
	return &Consumer{
		log:          log,
		source:       source,
		topology:     topology,
		handler:      handler,
		maxAttempts:  defaultMaxAttempts,
		requeueDelay: requeueDelay,
	}
}

// Run returns an error when the channel cannot be set up or closes, and lets the
// supervisor restart it.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.source.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("%w: qos: %v", errors.ErrBrokerUnavailable, err)
	}
	deliveries, err := ch.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", errors.ErrBrokerUnavailable, c.topology.Queue, err)
	}
	c.log.Info("Consuming notifications", "queue", c.topology.Queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: delivery channel closed", errors.ErrBrokerUnavailable)
			}
			c.Process(ctx, ch, d)
		}
	}
}

// Process handles one delivery and settles it exactly once.
func (c *Consumer) Process(ctx context.Context, ch Channel, d amqp.Delivery) Outcome {
	outcome := c.process(ctx, ch, d)
	observability.QueueDeliveries.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (c *Consumer) process(ctx context.Context, ch Channel, d amqp.Delivery) Outcome {
	attempt := attemptOf(d)
	log := c.log.With("routing_key", d.RoutingKey, "attempt", attempt)

	n, err := event.UnmarshalNotification(d.Body)
	if err != nil {
		log.Error("Malformed notification dropped", "error", err)
		c.ack(log, d)
		return OutcomeMalformed
	}

	err = c.handler.Handle(ctx, n)
	switch {
	case err == nil:
		c.ack(log, d)
		return OutcomeAcked

	case stderrors.Is(err, errors.ErrPermanentProvider), stderrors.Is(err, errors.ErrValidation):
		log.Error("Notification rejected permanently, not retried", "type", n.Type, "error", err)
		c.ack(log, d)
		return OutcomeRejected

	case stderrors.Is(err, errors.ErrTransient):
		log.Warn("Transient failure, requeueing", "type", n.Type, "error", err)
		c.pause(ctx)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("Nack failed", "error", nackErr)
		}
		return OutcomeRequeued
	}

	if attempt >= c.maxAttempts {
		log.Error("Notification dropped after max attempts", "type", n.Type, "max_attempts", c.maxAttempts, "error", err)
		c.ack(log, d)
		return OutcomeDropped
	}

	// Redelivery cannot change headers, so the retry is a new message carrying the count.
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[attemptHeader] = int32(attempt + 1)
	retry := amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	}
	if pubErr := ch.PublishWithContext(ctx, c.topology.Exchange, d.RoutingKey, false, false, retry); pubErr != nil {
		log.Warn("Republish failed, requeueing original", "error", pubErr)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("Nack failed", "error", nackErr)
		}
		return OutcomeRequeued
	}
	log.Warn("Notification failed, retry scheduled", "type", n.Type, "error", err)
	c.ack(log, d)
	return OutcomeRetried
}

func (c *Consumer) ack(log *slog.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error("Ack failed", "error", err)
	}
}

func (c *Consumer) pause(ctx context.Context) {
	if c.requeueDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.requeueDelay):
	}
}

// attemptOf starts at 1 for a delivery that was never retried.
func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 1
	}
}
