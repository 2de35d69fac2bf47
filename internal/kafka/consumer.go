package kafka

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Handler processes one message. A returned error is logged and the message
// is still committed; handlers must make redelivery harmless anyway.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader *kafka.Reader
	topic  string
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, topic: topic, logger: log}
}

// Start consumes until ctx is cancelled or the reader is closed.
func (c *Consumer) Start(ctx context.Context, handler Handler) {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.LogKafka("CONSUME", c.topic, "consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("error reading from %s: %v", c.topic, err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("handler failed for %s offset %d: %v", c.topic, msg.Offset, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("KAFKA", fmt.Sprintf("commit failed for %s offset %d: %v", c.topic, msg.Offset, err))
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
