// Package messaging streams mining events to Kafka for downstream consumers.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/pkg/circuit"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
	"github.com/bardlex/oreminer/pkg/retry"
)

// KafkaClient wraps kafka-go producers with a circuit breaker and retries
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]*kafka.Writer
	writersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	// Configure circuit breaker for Kafka operations
	cbConfig := &circuit.Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]*kafka.Writer),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}
}

// GetProducer gets or creates a Kafka producer for a topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// PublishJSON publishes a JSON payload to Kafka
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, data []byte) error {
	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			writer := k.GetProducer(topic)
			msg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeMessaging, "publish_json",
					"failed to publish JSON message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published JSON message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// Close closes all producers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	var lastErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.WithError(err).Error("failed to close producer", "topic", topic)
			lastErr = err
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	return lastErr
}

// Sink publishes events to a topic, keyed by miner so a miner's events stay
// ordered within a partition
type Sink struct {
	client  *KafkaClient
	topic   string
	service string
	version string
}

// NewSink creates an event sink on topic
func NewSink(client *KafkaClient, topic, service, version string) *Sink {
	return &Sink{client: client, topic: topic, service: service, version: version}
}

// Name implements events.Sink
func (s *Sink) Name() string { return "kafka" }

// Handle implements events.Sink
func (s *Sink) Handle(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(NewEventMessage(s.service, s.version, e))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "kafka_sink", "failed to marshal event")
	}
	return s.client.PublishJSON(ctx, s.topic, e.Miner, data)
}

var _ events.Sink = (*Sink)(nil)
