package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rescuelink/service-dispatch/internal/common/cloudevent"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes CloudEvents to a durable topic exchange. The routing key
// is the event type, so consumers can bind to e.g. "booking.assigned".
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Dial connects to url and declares exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishEvent sends event to the exchange. The topic argument is attached as a
// header so alert consumers can tell which stream the event mirrors.
func (p *Publisher) PublishEvent(ctx context.Context, topic string, event cloudevent.CloudEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/cloudevents+json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.Time,
		Headers:      amqp.Table{"topic": topic},
		Body:         body,
	})
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}
