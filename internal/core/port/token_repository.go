package port

import (
	"context"
	"time"

	"github.com/arklim/community-identity/internal/core/domain"
)

// TokenRepository manages verification and password reset token records.
type TokenRepository interface {
	// Replace revokes every live token of the same account and purpose and inserts token, atomically.
	Replace(ctx context.Context, token domain.OpaqueToken) error
	// Consume marks the matching live token consumed in a single conditional update.
	// It returns repository.ErrNotFound when no live, unexpired token matched.
	Consume(ctx context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OpaqueToken, error)
	GetByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.OpaqueToken, error)
}
