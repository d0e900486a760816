package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carescore/platform/pkg/common/httpclient"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Header names set on every published message.
const (
	HeaderEventType = "event-type"
	HeaderSource    = "source"
	HeaderRequestID = "request-id"
)

type Producer struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewProducer writes synchronously and waits for all in-sync replicas, so a
// nil error from PublishEvent means the event is durable.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}

	return &Producer{writer: writer, now: time.Now}
}

// PublishEvent wraps data in an Event and writes it. Messages sharing a key
// land on the same partition; an empty key falls back to the event id.
func (p *Producer) PublishEvent(ctx context.Context, key, eventType, source string, data map[string]interface{}) error {
	event, message, err := p.buildMessage(ctx, key, eventType, source, data)
	if err != nil {
		return err
	}

	log := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.writer.Topic,
		"request_id": event.Metadata["request_id"],
	})
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		log.WithError(err).Error("Failed to publish event")
		return fmt.Errorf("publishing %s: %w", eventType, err)
	}

	log.Info("Event published")
	return nil
}

func (p *Producer) buildMessage(ctx context.Context, key, eventType, source string, data map[string]interface{}) (models.Event, kafka.Message, error) {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: p.now().UTC(),
	}
	if key == "" {
		key = event.ID
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderSource, Value: []byte(source)},
	}
	if reqID, ok := httpclient.RequestIDFrom(ctx); ok {
		event.Metadata = map[string]string{"request_id": reqID}
		headers = append(headers, kafka.Header{Key: HeaderRequestID, Value: []byte(reqID)})
	}

	value, err := json.Marshal(event)
	if err != nil {
		return models.Event{}, kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return event, kafka.Message{Key: []byte(key), Value: value, Headers: headers}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
