package port

import (
	"context"
	"time"

	"github.com/arklim/community-identity/internal/core/domain"
)

// AccountRepository exposes persistence behavior for accounts.
// Create must enforce email uniqueness atomically and report violations as repository.ErrConflict.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByFederatedIdentity(ctx context.Context, identity domain.FederatedIdentity) (*domain.Account, error)
	AttachFederatedIdentity(ctx context.Context, id string, identity domain.FederatedIdentity, at time.Time) error
	MarkVerified(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	ChangeRole(ctx context.Context, id string, role domain.Role, at time.Time) error
	SetPasswordHash(ctx context.Context, id string, hash string, at time.Time) (int64, error)
	UpdateProfile(ctx context.Context, id string, profile domain.ProfileFields, complete bool, at time.Time) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error)
}
