package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
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

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer, *Producer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "iam"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "community-identity",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer, producer
}

func receiveEnvelope(t *testing.T, producer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()
	select {
	case msg := <-producer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("expected message to be published")
	}
	return nil, nil
}

func TestPublishEmailRequested(t *testing.T) {
	publisher, asyncProducer, _ := newTestPublisher(t)

	requestedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	expiresAt := requestedAt.Add(24 * time.Hour)
	request := domain.EmailRequest{
		EventID:        "event-123",
		Kind:           domain.EmailVerification,
		RecipientEmail: "member@example.com",
		AccountID:      "account-1",
		Token:          "plaintext-token",
		Purpose:        domain.PurposeEmailVerification,
		Link:           "https://community.example/verify-email?token=plaintext-token",
		ExpiresAt:      &expiresAt,
		RequestedAt:    requestedAt,
	}

	if err := publisher.PublishEmailRequested(context.Background(), request); err != nil {
		t.Fatalf("PublishEmailRequested returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "iam.email.requested" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, err := msg.Key.Encode()
	if err != nil || string(key) != "account-1" {
		t.Fatalf("expected account id partition key, got %q (%v)", key, err)
	}
	if got := envelope["event_id"]; got != "event-123" {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["event_type"]; got != EventEmailRequested {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["timestamp"]; got != requestedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing or wrong type: %T", envelope["payload"])
	}
	if payload["kind"] != string(domain.EmailVerification) {
		t.Fatalf("unexpected kind: %v", payload["kind"])
	}
	if payload["link"] != request.Link {
		t.Fatalf("unexpected link: %v", payload["link"])
	}
	if _, ok := payload["recipient_name"]; ok {
		t.Fatalf("empty recipient_name should be omitted")
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing: %v", envelope)
	}
	if metadata["service"] != "community-identity" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", metadata)
	}
	if _, ok := metadata["trace_id"]; ok {
		t.Fatalf("trace_id should be absent without an active span")
	}
}

func TestPublishPasswordChangedGeneratesEventID(t *testing.T) {
	publisher, asyncProducer, _ := newTestPublisher(t)

	event := domain.PasswordChangedEvent{
		AccountID:         "account-2",
		ChangedAt:         time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		CredentialVersion: 4,
		Reason:            "password_reset",
	}
	if err := publisher.PublishPasswordChanged(context.Background(), event); err != nil {
		t.Fatalf("PublishPasswordChanged returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "iam.account.password.changed" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatalf("expected generated event id")
	}
	payload := envelope["payload"].(map[string]any)
	if payload["credential_version"] != float64(4) {
		t.Fatalf("unexpected credential_version: %v", payload["credential_version"])
	}
}

func TestPublishAccountStatusChanged(t *testing.T) {
	publisher, asyncProducer, _ := newTestPublisher(t)

	event := domain.AccountStatusChangedEvent{
		AccountID: "account-3",
		ActorID:   "admin-1",
		IsActive:  false,
		Role:      domain.RoleUser,
		ChangedAt: time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishAccountStatusChanged(context.Background(), event); err != nil {
		t.Fatalf("PublishAccountStatusChanged returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "iam.account.status.changed" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	payload := envelope["payload"].(map[string]any)
	if payload["actor_id"] != "admin-1" || payload["is_active"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPublishRespectsContextCancellation(t *testing.T) {
	publisher, asyncProducer, _ := newTestPublisher(t)

	// Fill the single-slot input buffer so the next send blocks.
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishAccountRegistered(ctx, domain.AccountRegisteredEvent{
		AccountID:    "account-4",
		Email:        "new@example.com",
		Method:       "password",
		Verification: domain.VerificationUnverified,
		RegisteredAt: time.Now(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProducerForwardsAsyncErrors(t *testing.T) {
	_, asyncProducer, producer := newTestPublisher(t)

	asyncProducer.errors <- &sarama.ProducerError{
		Msg: &sarama.ProducerMessage{Topic: "iam.account.registered"},
		Err: errors.New("broker unavailable"),
	}

	select {
	case err := <-producer.Errors():
		if err == nil || err.Error() != "broker unavailable" {
			t.Fatalf("unexpected forwarded error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected producer error to be forwarded")
	}
}

func TestTopicName(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "iam"}}
	if got := producer.TopicName("email.requested"); got != "iam.email.requested" {
		t.Fatalf("unexpected topic: %s", got)
	}
	if got := producer.TopicName("iam.email.requested"); got != "iam.email.requested" {
		t.Fatalf("prefix should not be duplicated: %s", got)
	}

	bare := &Producer{}
	if got := bare.TopicName("email.requested"); got != "email.requested" {
		t.Fatalf("unexpected topic without prefix: %s", got)
	}
}

func TestStubPublisherNeverFails(t *testing.T) {
	stub := NewStubPublisher(zaptest.NewLogger(t))
	ctx := context.Background()

	if err := stub.PublishEmailRequested(ctx, domain.EmailRequest{Kind: domain.EmailPasswordReset, RecipientEmail: "a@example.com"}); err != nil {
		t.Fatalf("stub email publish failed: %v", err)
	}
	if err := stub.PublishAccountRegistered(ctx, domain.AccountRegisteredEvent{AccountID: "a"}); err != nil {
		t.Fatalf("stub registered publish failed: %v", err)
	}
	if err := stub.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{AccountID: "a"}); err != nil {
		t.Fatalf("stub password publish failed: %v", err)
	}
	if err := stub.PublishAccountStatusChanged(ctx, domain.AccountStatusChangedEvent{AccountID: "a"}); err != nil {
		t.Fatalf("stub status publish failed: %v", err)
	}
}
