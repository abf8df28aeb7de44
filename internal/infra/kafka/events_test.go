package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer(buffer int) *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, buffer),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T, async *fakeAsyncProducer, prefix string) *EventPublisher {
	t.Helper()
	producer := newProducer(async, config.KafkaSettings{TopicPrefix: prefix}, zaptest.NewLogger(t))
	t.Cleanup(func() { close(producer.done) })

	return NewEventPublisher(producer, config.AppSettings{Name: "dota-admin-backend", Env: "test"}, zaptest.NewLogger(t))
}

func TestPublishMemberJoined(t *testing.T) {
	async := newFakeAsyncProducer(1)
	publisher := newTestPublisher(t, async, "dota")

	phone := "010-1234-5678"
	joinedAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	event := domain.MemberJoinedEvent{
		EventID:                  "event-123",
		UserID:                   42,
		Username:                 "alice",
		Email:                    "a@x.io",
		PhoneNumber:              &phone,
		KakaoNotificationConsent: true,
		Role:                     domain.RoleUser,
		JoinedAt:                 joinedAt,
	}

	if err := publisher.PublishMemberJoined(context.Background(), event); err != nil {
		t.Fatalf("PublishMemberJoined returned error: %v", err)
	}

	select {
	case msg := <-async.input:
		if msg.Topic != "dota.member.joined" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		key, err := msg.Key.Encode()
		if err != nil || string(key) != "42" {
			t.Fatalf("unexpected key %q (%v)", key, err)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}

		if got := envelope["event_id"]; got != "event-123" {
			t.Fatalf("unexpected event_id: %v", got)
		}
		if got := envelope["event_type"]; got != EventMemberJoined {
			t.Fatalf("unexpected event_type: %v", got)
		}
		if got := envelope["user_id"]; got != "42" {
			t.Fatalf("unexpected user_id: %v", got)
		}
		if got := envelope["timestamp"]; got != joinedAt.Format(time.RFC3339Nano) {
			t.Fatalf("unexpected timestamp: %v", got)
		}
		if got := envelope["version"]; got != schemaVersion {
			t.Fatalf("unexpected version: %v", got)
		}

		payload, ok := envelope["payload"].(map[string]any)
		if !ok {
			t.Fatalf("payload not an object: %T", envelope["payload"])
		}
		if payload["email"] != "a@x.io" || payload["phone_number"] != phone || payload["kakao_notification_consent"] != true {
			t.Fatalf("unexpected payload: %v", payload)
		}

		metadata, ok := envelope["metadata"].(map[string]any)
		if !ok {
			t.Fatalf("metadata not an object: %T", envelope["metadata"])
		}
		if metadata["service"] != "dota-admin-backend" || metadata["environment"] != "test" {
			t.Fatalf("unexpected metadata: %v", metadata)
		}
		if _, ok := metadata["trace_id"]; ok {
			t.Fatalf("trace_id should be omitted without a span")
		}
	default:
		t.Fatal("expected message to be published")
	}
}

func TestPublishMemberJoinedHonoursContext(t *testing.T) {
	async := newFakeAsyncProducer(0)
	publisher := newTestPublisher(t, async, "dota")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishMemberJoined(ctx, domain.MemberJoinedEvent{UserID: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTopicName(t *testing.T) {
	cases := []struct {
		prefix string
		event  string
		want   string
	}{
		{prefix: "", event: "member.joined", want: "member.joined"},
		{prefix: "dota", event: "member.joined", want: "dota.member.joined"},
		{prefix: "dota", event: "dota.member.joined", want: "dota.member.joined"},
	}
	for _, tc := range cases {
		p := &Producer{cfg: config.KafkaSettings{TopicPrefix: tc.prefix}}
		if got := p.TopicName(tc.event); got != tc.want {
			t.Fatalf("TopicName(%q) with prefix %q = %q, want %q", tc.event, tc.prefix, got, tc.want)
		}
	}
}

func TestProducerForwardsDeliveryErrors(t *testing.T) {
	async := newFakeAsyncProducer(1)
	producer := newProducer(async, config.KafkaSettings{}, zaptest.NewLogger(t))
	defer close(producer.done)

	failure := errors.New("broker unavailable")
	async.errors <- &sarama.ProducerError{Msg: &sarama.ProducerMessage{Topic: "member.joined"}, Err: failure}

	select {
	case err := <-producer.Errors():
		if !errors.Is(err, failure) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected delivery error to be forwarded")
	}
}

func TestStubPublisherLogs(t *testing.T) {
	stub := NewStubPublisher(zaptest.NewLogger(t))
	if err := stub.PublishMemberJoined(context.Background(), domain.MemberJoinedEvent{UserID: 1, Email: "a@x.io"}); err != nil {
		t.Fatalf("stub publisher returned error: %v", err)
	}
}
