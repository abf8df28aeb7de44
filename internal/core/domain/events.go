package domain

import "time"

// MemberJoinedEvent represents the payload for member.joined messages consumed
// by the notification pipeline (email and KakaoTalk delivery).
type MemberJoinedEvent struct {
	EventID                  string
	UserID                   int64
	Username                 string
	Email                    string
	PhoneNumber              *string
	KakaoNotificationConsent bool
	Role                     string
	JoinedAt                 time.Time
}
