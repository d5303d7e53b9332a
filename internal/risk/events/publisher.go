// Package events publishes risk alerts to Kafka and Redis Streams. Both
// publishers are alert channels of the monitor.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

const source = "vaultrisk"

// retry runs fn up to attempts+1 times with a linear backoff.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i+1) * backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each alert to a Kafka topic keyed by vault id, so a
// vault's alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer  MessageWriter
	topic   string
	retries int
	backoff time.Duration
	log     *zap.Logger
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(brokers []string, topic string, retries int, log *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
	}
	return NewKafkaPublisherWithWriter(writer, topic, retries, log)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter, topic string, retries int, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:  writer,
		topic:   topic,
		retries: retries,
		backoff: 100 * time.Millisecond,
		log:     log,
	}
}

// SendAlert publishes an alert to Kafka
func (k *KafkaPublisher) SendAlert(ctx context.Context, alert risk.RiskAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.VaultID),
		Value: data,
		Time:  alert.Timestamp,
		Headers: []kafka.Header{
			{Key: "alert-id", Value: []byte(alert.ID)},
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "category", Value: []byte(alert.Category)},
			{Key: "source", Value: []byte(source)},
		},
	}

	k.log.Debug("publishing alert to kafka",
		zap.String("topic", k.topic),
		zap.String("alert_id", alert.ID),
		zap.Int("event_size", len(data)))

	err = retry(ctx, k.retries, k.backoff, func() error {
		return k.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert to kafka: %w", err)
	}
	return nil
}

// GetChannelType returns the channel type
func (k *KafkaPublisher) GetChannelType() string { return "kafka" }

// IsEnabled always reports true; a disabled publisher is simply not built.
func (k *KafkaPublisher) IsEnabled() bool { return true }

// Close flushes and closes the writer.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// RedisStreamPublisher appends each alert to a capped Redis stream.
type RedisStreamPublisher struct {
	client  redis.Cmdable
	stream  string
	maxLen  int64
	retries int
	backoff time.Duration
	log     *zap.Logger
}

// NewRedisStreamPublisher creates a new Redis Streams publisher. A maxLen of
// zero leaves the stream uncapped.
func NewRedisStreamPublisher(client redis.Cmdable, stream string, maxLen int64, retries int, log *zap.Logger) *RedisStreamPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStreamPublisher{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		retries: retries,
		backoff: 100 * time.Millisecond,
		log:     log,
	}
}

// SendAlert publishes an alert to the Redis stream
func (r *RedisStreamPublisher) SendAlert(ctx context.Context, alert risk.RiskAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: []interface{}{
			"alert_id", alert.ID,
			"vault_id", alert.VaultID,
			"severity", string(alert.Severity),
			"category", string(alert.Category),
			"source", source,
			"data", string(data),
		},
	}

	var id string
	err = retry(ctx, r.retries, r.backoff, func() error {
		var xerr error
		id, xerr = r.client.XAdd(ctx, args).Result()
		return xerr
	})
	if err != nil {
		r.log.Error("failed to publish alert to redis stream",
			zap.String("stream", r.stream),
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.log.Debug("published alert to redis stream",
		zap.String("stream", r.stream),
		zap.String("message_id", id))
	return nil
}

// GetChannelType returns the channel type
func (r *RedisStreamPublisher) GetChannelType() string { return "redis_stream" }

// IsEnabled always reports true; a disabled publisher is simply not built.
func (r *RedisStreamPublisher) IsEnabled() bool { return true }
