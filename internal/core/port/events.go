package port

import (
	"context"

	"github.com/arklim/community-identity/internal/core/domain"
)

// EventPublisher publishes domain events and email requests to the message bus.
type EventPublisher interface {
	PublishEmailRequested(ctx context.Context, request domain.EmailRequest) error
	PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishAccountStatusChanged(ctx context.Context, event domain.AccountStatusChangedEvent) error
}
