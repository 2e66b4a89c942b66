package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/cloudevent"
	"github.com/rescuelink/service-dispatch/internal/events"
	"go.uber.org/zap"
)

// EventPublisher is satisfied by the Kafka producer and the RabbitMQ publisher.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event cloudevent.CloudEvent) error
}

// Enqueuer schedules a background dispatch attempt without blocking.
type Enqueuer interface {
	Enqueue(bookingID uuid.UUID) bool
}

// publishEvent never fails the use case; broker errors are logged.
func publishEvent(ctx context.Context, pub EventPublisher, logger *zap.Logger, topic, eventType, subject string, data interface{}) {
	if pub == nil {
		return
	}
	event, err := cloudevent.New(events.Source, eventType, data)
	if err != nil {
		logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	event.Subject = subject

	if err := pub.PublishEvent(ctx, topic, event); err != nil {
		logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
