package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubPublisher{logger: log}
}

// PublishMemberJoined logs member.joined events.
func (p *StubPublisher) PublishMemberJoined(_ context.Context, event domain.MemberJoinedEvent) error {
	at := event.JoinedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", EventMemberJoined),
		zap.String("event_id", event.EventID),
		zap.Int64("user_id", event.UserID),
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.Bool("kakao_notification_consent", event.KakaoNotificationConsent),
		zap.Time("timestamp", at.UTC()),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
