package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"enrollment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const fetchRetryDelay = time.Second

// Producer writes lifecycle events to the lifecycle topic. Messages are keyed by
// aggregate id so one payment's or enrollment's events stay ordered on a partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for topic
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

// PublishEvent encodes event as JSON and writes it under key, carrying the caller's trace context in headers.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	carrier := &headerCarrier{}
	util.InjectTrace(ctx, carrier)

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: carrier.headers,
	}); err != nil {
		return fmt.Errorf("failed to write event to %s: %w", p.writer.Topic, err)
	}

	util.WithContext(ctx, util.Component("kafka")).Debug("Published event",
		zap.String("topic", p.writer.Topic),
		zap.String("key", key),
	)
	return nil
}

// Close flushes pending writes
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads a topic as part of a consumer group
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins groupID on topic. A new group starts from the oldest retained message.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})}
}

// Close leaves the group
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes one message; ctx carries the producer's trace context
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches until ctx is cancelled. A message is committed only after
// handler returns nil, so a failed one is redelivered after a rebalance or restart.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	logger := util.Component("kafka").With(
		zap.String("topic", c.reader.Config().Topic),
		zap.String("group", c.reader.Config().GroupID),
	)
	logger.Info("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info("Consumer stopped")
				return ctx.Err()
			}
			logger.Error("Error fetching message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		msgCtx, span := util.StartSpan(util.ExtractTrace(ctx, &headerCarrier{headers: msg.Headers}), "kafka.consume")
		err = handler(msgCtx, msg)
		util.EndSpan(span, err)
		if err != nil {
			util.WithContext(msgCtx, logger).Error("Error handling message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("Error committing message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// headerCarrier adapts Kafka message headers to the propagation.TextMapCarrier interface
type headerCarrier struct {
	headers []kafka.Header
}

func (h *headerCarrier) Get(key string) string {
	for _, hdr := range h.headers {
		if hdr.Key == key {
			return string(hdr.Value)
		}
	}
	return ""
}

func (h *headerCarrier) Set(key, value string) {
	for i, hdr := range h.headers {
		if hdr.Key == key {
			h.headers[i].Value = []byte(value)
			return
		}
	}
	h.headers = append(h.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h.headers))
	for _, hdr := range h.headers {
		keys = append(keys, hdr.Key)
	}
	return keys
}
