package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/config"
)

const (
	schemaVersion = "1.0"

	// EventMemberJoined is the event type of member registration notifications.
	EventMemberJoined = "member.joined"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type memberJoinedPayload struct {
	UserID                   int64     `json:"user_id"`
	Username                 string    `json:"username"`
	Email                    string    `json:"email"`
	PhoneNumber              *string   `json:"phone_number,omitempty"`
	KakaoNotificationConsent bool      `json:"kakao_notification_consent"`
	Role                     string    `json:"role"`
	JoinedAt                 time.Time `json:"joined_at"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID, key string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishMemberJoined publishes member.joined events keyed by user id.
func (p *EventPublisher) PublishMemberJoined(ctx context.Context, event domain.MemberJoinedEvent) error {
	payload := memberJoinedPayload{
		UserID:                   event.UserID,
		Username:                 event.Username,
		Email:                    event.Email,
		PhoneNumber:              event.PhoneNumber,
		KakaoNotificationConsent: event.KakaoNotificationConsent,
		Role:                     event.Role,
		JoinedAt:                 event.JoinedAt.UTC(),
	}

	userID := strconv.FormatInt(event.UserID, 10)
	return p.publish(ctx, event.EventID, EventMemberJoined, userID, userID, event.JoinedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
