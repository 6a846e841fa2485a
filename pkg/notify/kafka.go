package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"github.com/cuemby/djt/pkg/events"
	"github.com/rs/zerolog"
)

// KafkaConfig holds the settings for connecting the Kafka sink
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string

	// MaxElapsedTime bounds connection retries at startup
	MaxElapsedTime time.Duration
}

// KafkaSink publishes job events to a Kafka topic. Messages are keyed by
// the job's storage key so all events of one job land on one partition.
// Concurrent updates to one job may still be published out of version
// order; consumers keep the event with the highest job_version header.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink wraps an existing producer
func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// NewProducerConfig returns the sarama configuration used by the sink
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectKafka creates a Kafka sink, retrying the connection with
// exponential backoff while the cluster is unreachable
func ConnectKafka(cfg KafkaConfig, logger zerolog.Logger) (*KafkaSink, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	if cfg.MaxElapsedTime > 0 {
		expBackoff.MaxElapsedTime = cfg.MaxElapsedTime
	}

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
		if err != nil {
			logger.Warn().Err(err).Strs("brokers", cfg.Brokers).Msg("Kafka not reachable, retrying")
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Connected to Kafka")
	return NewKafkaSink(producer, cfg.Topic), nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, event *events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
		Timestamp: event.Timestamp,
	}
	if event.Job != nil {
		msg.Key = sarama.StringEncoder(event.Job.Key.String())
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte("job_version"),
			Value: []byte(strconv.FormatInt(event.Job.Version, 10)),
		})
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", event.ID, s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
