package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"carelink/internal/kafka"
)

// EventType labels a relationship lifecycle event emitted to the
// notification sink.
type EventType string

const (
	EventRequestCreated  EventType = "relationship_request_created"
	EventRequestAccepted EventType = "relationship_request_accepted"
	EventRequestRejected EventType = "relationship_request_rejected"
	EventCodeResent      EventType = "relationship_code_resent"
	EventEdgeDisabled    EventType = "relationship_disabled"
)

// NotificationSink is the engine's view of the external notification system.
// Emission is fire-and-forget: failures are logged by the implementation and
// never block or roll back the operation that triggered them.
type NotificationSink interface {
	Notify(recipientID uint, eventType EventType, payload any)
}

// relationshipEvent is the wire format published to the events topic.
type relationshipEvent struct {
	RecipientID uint      `json:"recipientId"`
	EventType   EventType `json:"eventType"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type kafkaNotificationSink struct {
	producer kafka.MessageProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaNotificationSink creates a NotificationSink publishing to the
// given topic.
func NewKafkaNotificationSink(producer kafka.MessageProducer, topic string, logger *zap.Logger) NotificationSink {
	return &kafkaNotificationSink{producer: producer, topic: topic, logger: logger}
}

// Notify publishes the event asynchronously. A fresh timeout context is used
// rather than the caller's: the triggering request may already have returned.
func (s *kafkaNotificationSink) Notify(recipientID uint, eventType EventType, payload any) {
	event := relationshipEvent{
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     payload,
		Timestamp:   time.Now(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal relationship event",
			zap.String("eventType", string(eventType)), zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key := []byte(strconv.FormatUint(uint64(recipientID), 10))
		if err := s.producer.SendMessage(ctx, s.topic, key, body); err != nil {
			s.logger.Warn("relationship event delivery failed",
				zap.String("eventType", string(eventType)),
				zap.Uint("recipientId", recipientID),
				zap.Error(err))
		}
	}()
}

// NoopNotificationSink discards all events. Used in tests and when Kafka is
// not configured.
type NoopNotificationSink struct{}

func (NoopNotificationSink) Notify(uint, EventType, any) {}
