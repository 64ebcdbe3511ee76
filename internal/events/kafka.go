package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic, keyed by policy id so that one
// policy's events stay ordered within a partition.
type KafkaPublisher struct {
	writer kafkaWriter
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("events.NewKafkaPublisher: brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("events.NewKafkaPublisher: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if k == nil || k.writer == nil {
		return errors.New("events.KafkaPublisher.Publish: writer not initialized")
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events.KafkaPublisher.Publish: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.PolicyID.String()),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events.KafkaPublisher.Publish: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
