// Package events publishes relay analytics events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/metrics"
)

// Event types carried in the eventType header and payload.
const (
	EventUtteranceCompleted = "translation.utterance.completed"
	EventSessionStatus      = "translation.session.status"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes utterance and session status events to separate Kafka topics.
type Publisher struct {
	writerUtterance messageWriter
	writerStatus    messageWriter
	principal       string
	topicUtterance  string
	topicStatus     string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string `yaml:"brokers"`
	TopicUtterance string   `yaml:"topicUtterance"`
	TopicStatus    string   `yaml:"topicStatus"`
	Principal      string   `yaml:"principal"`
	Enabled        bool     `yaml:"enabled"`
}

// New creates a Kafka event publisher. A nil or disabled config yields a
// log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicUtterance: cfg.TopicUtterance,
			topicStatus:    cfg.TopicStatus,
			enabled:        false,
			metrics:        m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerUtterance := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicUtterance,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	// Status events are fire-and-forget; the relay never waits on them.
	writerStatus := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicStatus,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("count", len(messages)).Msg("Failed to write session status events")
				m.RecordKafkaPublish(cfg.TopicStatus, EventSessionStatus, err, 0)
			}
		},
		Transport: transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUtterance", cfg.TopicUtterance).
		Str("topicStatus", cfg.TopicStatus).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerUtterance: writerUtterance,
		writerStatus:    writerStatus,
		principal:       cfg.Principal,
		topicUtterance:  cfg.TopicUtterance,
		topicStatus:     cfg.TopicStatus,
		enabled:         true,
		metrics:         m,
	}
}

// PublishUtterance publishes a completed utterance keyed by session id.
func (p *Publisher) PublishUtterance(ctx context.Context, u models.TranslationUtterance) error {
	u.EventType = EventUtteranceCompleted
	return p.publish(ctx, p.writerUtterance, p.topicUtterance, EventUtteranceCompleted, u.SessionID, u)
}

// PublishStatus publishes a session status transition keyed by session id.
func (p *Publisher) PublishStatus(ctx context.Context, ev models.SessionStatusEvent) error {
	ev.EventType = EventSessionStatus
	return p.publish(ctx, p.writerStatus, p.topicStatus, EventSessionStatus, ev.SessionID, ev)
}

// publish writes one event to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerUtterance != nil {
		if e := p.writerUtterance.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing utterance writer")
			err = e
		}
	}
	if p.writerStatus != nil {
		if e := p.writerStatus.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing status writer")
			err = e
		}
	}
	return err
}
