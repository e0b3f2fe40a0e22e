// Package kafka publishes crawl events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config describes the brokers and default topic.
type Config struct {
	Brokers      []string
	DefaultTopic string
}

// Publisher wraps a Kafka writer. The topic is chosen per message.
type Publisher struct {
	writer       messageWriter
	defaultTopic string
	now          func() time.Time
}

var _ crawler.Publisher = (*Publisher)(nil)

// New creates a publisher for the configured brokers.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("publisher.kafka.brokers is required")
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: false,
		},
		defaultTopic: cfg.DefaultTopic,
		now:          time.Now,
	}, nil
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter, defaultTopic string) *Publisher {
	return &Publisher{writer: writer, defaultTopic: defaultTopic, now: time.Now}
}

// Publish writes payload as JSON. Crawl events are keyed by crawl ID so every
// event of one crawl lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("kafka topic is required")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Value: value,
		Time:  p.now().UTC(),
	}
	if event, ok := payload.(crawler.Event); ok {
		msg.Key = []byte(event.CrawlID)
		msg.Headers = []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return fmt.Sprintf("%s@%d", topic, msg.Time.UnixNano()), nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
