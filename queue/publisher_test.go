package queue

import (
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func Test_Publish_While_Broker_Down_Returns_Nil(t *testing.T) {
	req := require.New(t)
	// A broker that never connected
	broker := NewBroker(slog.Default(), "amqp://localhost:1", DefaultTopology(), nil)
	publisher := NewPublisher(slog.Default(), broker, DefaultExchange)

	result, err := publisher.PublishWithResult(context.Background(), unreadNotification(t))

	req.NoError(err)
	req.True(result.Dropped)
	req.False(result.Published)
	req.NoError(publisher.Publish(context.Background(), unreadNotification(t)))
}

func Test_Publish_Persistent_With_Routing_Key(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	publisher := NewPublisher(slog.Default(), fakeSource{ch: ch}, DefaultExchange)
	n := unreadNotification(t)

	result, err := publisher.PublishWithResult(context.Background(), n)

	req.NoError(err)
	req.True(result.Published)
	req.Equal("message.review", result.RoutingKey)
	sent := ch.Published()
	req.Len(sent, 1)
	req.Equal(DefaultExchange, sent[0].exchange)
	req.Equal("message.review", sent[0].key)
	req.Equal(amqp.Persistent, sent[0].msg.DeliveryMode)
	req.Equal(n.ID.String(), sent[0].msg.MessageId)

	decoded, err := event.UnmarshalNotification(sent[0].msg.Body)
	req.NoError(err)
	req.Equal(n.Data.Addresses.Recipient, decoded.Data.Addresses.Recipient)
}

func Test_Publish_On_Closed_Channel_Is_Dropped(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()
	ch.publishErr = amqp.ErrClosed
	publisher := NewPublisher(slog.Default(), fakeSource{ch: ch}, DefaultExchange)

	result, err := publisher.PublishWithResult(context.Background(), unreadNotification(t))

	req.NoError(err)
	req.True(result.Dropped)
	req.Empty(ch.Published())
}

func Test_Topology_Binds_Every_Routing_Key(t *testing.T) {
	req := require.New(t)
	ch := newFakeChannel()

	req.NoError(DefaultTopology().Declare(ch))

	req.Equal([]string{DefaultExchange}, ch.exchanges)
	req.Equal([]string{DefaultQueue}, ch.queues)
	req.Len(ch.bindings, len(event.Types()))
	for _, b := range ch.bindings {
		req.Equal(DefaultQueue, b.queue)
		req.Equal(DefaultExchange, b.exchange)
	}
	req.Equal("booking.confirmation", ch.bindings[0].key)
	req.Equal("notification.other", ch.bindings[len(ch.bindings)-1].key)
}
