package port

import (
	"context"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishMemberJoined(ctx context.Context, event domain.MemberJoinedEvent) error
}
