package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types, prefixed with the configured topic prefix to form topic names.
const (
	EventEmailRequested       = "email.requested"
	EventAccountRegistered    = "account.registered"
	EventPasswordChanged      = "account.password.changed"
	EventAccountStatusChanged = "account.status.changed"
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
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AccountID: accountID,
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
	if accountID != "" {
		message.Key = sarama.StringEncoder(accountID)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishEmailRequested publishes email.requested messages consumed by the mail delivery service.
func (p *EventPublisher) PublishEmailRequested(ctx context.Context, request domain.EmailRequest) error {
	payload := struct {
		Kind           string     `json:"kind"`
		RecipientEmail string     `json:"recipient_email"`
		RecipientName  string     `json:"recipient_name,omitempty"`
		Token          string     `json:"token,omitempty"`
		Purpose        string     `json:"purpose,omitempty"`
		Link           string     `json:"link,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
		RequestedAt    time.Time  `json:"requested_at"`
	}{
		Kind:           string(request.Kind),
		RecipientEmail: request.RecipientEmail,
		RecipientName:  request.RecipientName,
		Token:          request.Token,
		Purpose:        string(request.Purpose),
		Link:           request.Link,
		ExpiresAt:      utcPtr(request.ExpiresAt),
		RequestedAt:    request.RequestedAt.UTC(),
	}

	return p.publish(ctx, request.EventID, EventEmailRequested, request.AccountID, request.RequestedAt, payload)
}

// PublishAccountRegistered publishes account.registered events.
func (p *EventPublisher) PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error {
	payload := struct {
		AccountID    string    `json:"account_id"`
		Email        string    `json:"email"`
		Method       string    `json:"method"`
		Verification string    `json:"verification"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		AccountID:    event.AccountID,
		Email:        event.Email,
		Method:       event.Method,
		Verification: string(event.Verification),
		RegisteredAt: event.RegisteredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAccountRegistered, event.AccountID, event.RegisteredAt, payload)
}

// PublishPasswordChanged publishes account.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		AccountID         string    `json:"account_id"`
		ChangedAt         time.Time `json:"changed_at"`
		CredentialVersion int64     `json:"credential_version"`
		Reason            string    `json:"reason"`
	}{
		AccountID:         event.AccountID,
		ChangedAt:         event.ChangedAt.UTC(),
		CredentialVersion: event.CredentialVersion,
		Reason:            event.Reason,
	}

	return p.publish(ctx, event.EventID, EventPasswordChanged, event.AccountID, event.ChangedAt, payload)
}

// PublishAccountStatusChanged publishes account.status.changed events.
func (p *EventPublisher) PublishAccountStatusChanged(ctx context.Context, event domain.AccountStatusChangedEvent) error {
	payload := struct {
		AccountID string    `json:"account_id"`
		ActorID   string    `json:"actor_id"`
		IsActive  bool      `json:"is_active"`
		Role      string    `json:"role"`
		ChangedAt time.Time `json:"changed_at"`
	}{
		AccountID: event.AccountID,
		ActorID:   event.ActorID,
		IsActive:  event.IsActive,
		Role:      string(event.Role),
		ChangedAt: event.ChangedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAccountStatusChanged, event.AccountID, event.ChangedAt, payload)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ port.EventPublisher = (*EventPublisher)(nil)
