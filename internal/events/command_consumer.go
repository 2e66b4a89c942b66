package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/common/cloudevent"
	"github.com/rescuelink/service-dispatch/internal/common/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DispatchRequester queues a dispatch attempt for a booking.
type DispatchRequester interface {
	Enqueue(bookingID uuid.UUID) bool
}

// DispatchCommandConsumer listens to dispatch commands from other services.
type DispatchCommandConsumer struct {
	consumer  *kafka.Consumer
	requester DispatchRequester
	logger    *zap.Logger
}

// NewDispatchCommandConsumer creates a new DispatchCommandConsumer.
func NewDispatchCommandConsumer(
	brokers []string,
	groupID string,
	requester DispatchRequester,
	logger *zap.Logger,
) *DispatchCommandConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, TopicDispatchCommands, logger)
	return &DispatchCommandConsumer{
		consumer:  consumer,
		requester: requester,
		logger:    logger,
	}
}

// Start begins consuming commands. This blocks until the context is cancelled.
func (c *DispatchCommandConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *DispatchCommandConsumer) Close() error {
	return c.consumer.Close()
}

func (c *DispatchCommandConsumer) handleMessage(_ context.Context, msg kafkago.Message) error {
	event, err := cloudevent.Parse(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from command topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch event.Type {
	case DispatchRequested:
		return c.handleDispatchRequested(event)
	default:
		c.logger.Debug("ignoring unhandled command type",
			zap.String("type", event.Type),
		)
		return nil
	}
}

func (c *DispatchCommandConsumer) handleDispatchRequested(event cloudevent.CloudEvent) error {
	var cmd DispatchRequestedEvent
	if err := event.ParseData(&cmd); err != nil {
		c.logger.Error("failed to parse DispatchRequestedEvent data", zap.Error(err))
		return nil
	}
	if cmd.BookingID == uuid.Nil {
		c.logger.Warn("dispatch command without booking_id", zap.String("event_id", event.ID))
		return nil
	}

	queued := c.requester.Enqueue(cmd.BookingID)
	c.logger.Info("dispatch requested",
		zap.String("booking_id", cmd.BookingID.String()),
		zap.String("requested_by", cmd.RequestedBy),
		zap.Bool("queued", queued),
	)
	return nil
}
