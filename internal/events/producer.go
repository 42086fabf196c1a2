// Package events publishes trade lifecycle events onto a Kafka topic so
// downstream consumers (journals, dashboards) can mirror engine activity.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tradeassist/options-engine/internal/models"
)

// Producer handles publishing trade events to Kafka.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishTradeEvent publishes one lifecycle event keyed by instrument so
// events for the same symbol stay ordered within a partition.
func (p *Producer) PublishTradeEvent(ctx context.Context, kind string, t *models.Trade, extra map[string]string) error {
	event := models.TradeEvent{
		EventType: kind,
		UserID:    t.UserID,
		TradeID:   t.ID,
		Symbol:    t.Symbol,
		Mode:      t.Mode,
		Extra:     extra,
		Timestamp: time.Now(),
	}
	return p.publish(ctx, t.InstrumentKey(), event)
}

func (p *Producer) publish(ctx context.Context, key string, event models.TradeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
