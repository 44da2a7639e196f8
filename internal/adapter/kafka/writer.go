package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/radar-sim-service/internal/config"
	"github.com/couchcryptid/radar-sim-service/internal/domain"
)

// SessionEvent is one state transition on the event topic. Consumers key on
// the session id, so all of a session's transitions land on one partition
// in order.
type SessionEvent struct {
	SessionID string       `json:"session_id"`
	State     domain.State `json:"state"`
	At        time.Time    `json:"at"`
}

// Writer publishes session lifecycle events to a Kafka topic.
// It implements pipeline.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured event topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish emits one state transition for the session.
func (w *Writer) Publish(ctx context.Context, sessionID string, state domain.State) error {
	msg, err := serializeToMessage(SessionEvent{
		SessionID: sessionID,
		State:     state,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a SessionEvent into a Kafka message.
func serializeToMessage(event SessionEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize session event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.SessionID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "state", Value: []byte(event.State)},
			{Key: "at", Value: []byte(event.At.Format(time.RFC3339))},
		},
	}, nil
}
