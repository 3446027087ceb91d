// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Producers serialise events as JSON; the consumer hands
// each message to a MessageHandler and commits it only once handled.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/resilience"
)

// MessageHandler is invoked for each Kafka message. Returning an error means
// the message was not handled and must not be committed.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic as a member of a consumer group and handles its
// messages strictly in offset order.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer creates a group consumer for topic. Jobs must not be skipped
// when a group is first created, so new groups start at the earliest offset.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.FirstOffset,
	})
	c := newConsumer(r, handler, resilience.RetryConfig{
		MaxAttempts:  cfg.HandlerAttempts,
		InitialDelay: cfg.HandlerRetryDelay,
	})
	c.logger = c.logger.With("topic", topic)
	return c
}

func newConsumer(r messageReader, handler MessageHandler, retry resilience.RetryConfig) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer"),
		handler: handler,
		retry:   retry,
	}
}

// Start fetches and handles messages one at a time until ctx is cancelled.
//
// A message whose handler keeps failing is never committed past: committing
// a later offset of the same partition would skip it for good. Once the
// handler attempts are used up Start returns the error, leaving the message
// to be redelivered from the last commit when the consumer rejoins the group.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("reader closed, consumer stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
		log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

		err = resilience.Retry(ctx, "kafka-handle", c.retry, func(int) error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopping, message left uncommitted", "error", err)
				return nil
			}
			log.Error("giving up on message, left uncommitted", "error", err)
			return fmt.Errorf("handling message at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			// A later commit covers this offset; until then a restart
			// redelivers it.
			log.Error("failed to commit message", "error", err)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
