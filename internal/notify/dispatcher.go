// Package notify hands booking lifecycle messages to the mail pipeline.
package notify

import (
	"context"
	"fmt"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Publisher writes one keyed JSON message to a topic.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// KafkaDispatcher publishes each message on the topic for its type, keyed by
// booking so a booking's messages stay ordered.
type KafkaDispatcher struct {
	publisher Publisher
	topics    map[string]string
	logger    *logger.Logger
}

func NewKafkaDispatcher(publisher Publisher, topics config.TopicConfig, log *logger.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		publisher: publisher,
		topics: map[string]string{
			models.MessageBookingCreated:   topics.BookingCreated,
			models.MessageBookingUpdated:   topics.BookingUpdated,
			models.MessageBookingCancelled: topics.BookingCancelled,
			models.MessageBookingDeleted:   topics.BookingDeleted,
		},
		logger: log,
	}
}

func (d *KafkaDispatcher) Notify(ctx context.Context, msg models.BookingMessage) error {
	topic, ok := d.topics[msg.Type]
	if !ok {
		return fmt.Errorf("no topic for message type %q", msg.Type)
	}
	if err := d.publisher.PublishJSON(ctx, topic, msg.BookingID, msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", models.ErrExternalService, msg.Type, err)
	}
	d.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s booking=%s", msg.Type, msg.BookingID))
	return nil
}

// LogDispatcher only logs; used when Kafka is disabled.
type LogDispatcher struct {
	Logger *logger.Logger
}

func (d LogDispatcher) Notify(_ context.Context, msg models.BookingMessage) error {
	d.Logger.Info("NOTIFY", fmt.Sprintf("%s booking=%s user=%s event=%s status=%s",
		msg.Type, msg.BookingID, msg.UserID, msg.EventID, msg.Status))
	return nil
}
