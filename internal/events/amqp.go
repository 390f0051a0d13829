package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// ExchangeType routes by event type, e.g. "order.cancelled".
const ExchangeType = "topic"

// Channel is implemented by *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DialAMQP connects to the broker, retrying while it starts up, and declares
// the durable topic exchange.
func DialAMQP(ctx context.Context, url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		zctx.From(ctx).Warn("Connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial amqp")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, ExchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return conn, ch, nil
}

var _ order.Publisher = (*AMQPPublisher)(nil)

// AMQPPublisher publishes order events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	ch       Channel
	exchange string
	producer string
}

// NewAMQPPublisher creates an AMQPPublisher.
func NewAMQPPublisher(ch Channel, exchange, producer string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, producer: producer}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e order.Event) error {
	env := NewEnvelope(p.producer, e)
	err := p.ch.PublishWithContext(ctx, p.exchange, string(env.EventType), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Timestamp:     env.OccurredAt,
		Type:          string(env.EventType),
		AppId:         p.producer,
		Body:          env.Marshal(),
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", env.EventType)
	}
	return nil
}
