package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-booking/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Producer writes JSON messages to any topic; the topic is chosen per call.
type Producer struct {
	Writer *kafka.Writer
	logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, logger: log}
}

// PublishJSON streams v to topic, keyed so that all messages for one key land
// on the same partition.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v any) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}

	p.logger.Debug("KAFKA", fmt.Sprintf("publishing to %s: %s", topic, string(msgBytes)))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
