package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
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

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("Stub event published", append(base, fields...)...)
}

// PublishEmailRequested logs the email request. The link is logged in full so local flows can be completed by hand.
func (p *StubPublisher) PublishEmailRequested(_ context.Context, request domain.EmailRequest) error {
	p.logEvent(EventEmailRequested, request.AccountID, request.RequestedAt,
		zap.String("kind", string(request.Kind)),
		zap.String("recipient", logger.MaskEmail(request.RecipientEmail)),
		zap.String("link", request.Link),
	)
	return nil
}

func (p *StubPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.logEvent(EventAccountRegistered, event.AccountID, event.RegisteredAt,
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.String("method", event.Method),
		zap.String("verification", string(event.Verification)),
	)
	return nil
}

func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.AccountID, event.ChangedAt,
		zap.Int64("credential_version", event.CredentialVersion),
		zap.String("reason", event.Reason),
	)
	return nil
}

func (p *StubPublisher) PublishAccountStatusChanged(_ context.Context, event domain.AccountStatusChangedEvent) error {
	p.logEvent(EventAccountStatusChanged, event.AccountID, event.ChangedAt,
		zap.String("actor_id", event.ActorID),
		zap.Bool("is_active", event.IsActive),
		zap.String("role", string(event.Role)),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
