// Package memory holds process-local repository implementations used for
// single-instance deployments and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/repository"
)

// AccountRepository keeps accounts in a mutex-guarded map.
type AccountRepository struct {
	mu       sync.RWMutex
	byID     map[string]domain.Account
	byEmail  map[string]string
	byFedSub map[domain.FederatedIdentity]string
}

// NewAccountRepository returns an empty in-memory account store.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:     make(map[string]domain.Account),
		byEmail:  make(map[string]string),
		byFedSub: make(map[domain.FederatedIdentity]string),
	}
}

// Create inserts the account unless the email or federated identity is taken.
func (r *AccountRepository) Create(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account.Email = domain.NormalizeEmail(account.Email)
	if _, exists := r.byID[account.ID]; exists {
		return repository.ErrConflict
	}
	if _, exists := r.byEmail[account.Email]; exists {
		return repository.ErrConflict
	}
	if account.Federated != nil {
		if _, exists := r.byFedSub[*account.Federated]; exists {
			return repository.ErrConflict
		}
	}
	if account.CredentialVersion <= 0 {
		account.CredentialVersion = 1
	}

	stored := cloneAccount(account)
	r.byID[account.ID] = stored
	r.byEmail[account.Email] = account.ID
	if stored.Federated != nil {
		r.byFedSub[*stored.Federated] = account.ID
	}
	return nil
}

func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneAccount(account)
	return &out, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *AccountRepository) GetByFederatedIdentity(ctx context.Context, identity domain.FederatedIdentity) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.byFedSub[identity]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// AttachFederatedIdentity links identity only when the account has none.
func (r *AccountRepository) AttachFederatedIdentity(_ context.Context, id string, identity domain.FederatedIdentity, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok || account.Federated != nil {
		return repository.ErrNotFound
	}
	if _, taken := r.byFedSub[identity]; taken {
		return repository.ErrConflict
	}

	fed := identity
	account.Federated = &fed
	account.UpdatedAt = at.UTC()
	r.byID[id] = account
	r.byFedSub[identity] = id
	return nil
}

func (r *AccountRepository) MarkVerified(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.VerificationState = domain.VerificationVerified
		a.UpdatedAt = at.UTC()
	})
}

func (r *AccountRepository) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.IsActive = active
		a.UpdatedAt = at.UTC()
	})
}

func (r *AccountRepository) ChangeRole(_ context.Context, id string, role domain.Role, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.Role = role
		a.UpdatedAt = at.UTC()
	})
}

// SetPasswordHash stores hash and returns the bumped credential version.
func (r *AccountRepository) SetPasswordHash(_ context.Context, id string, hash string, at time.Time) (int64, error) {
	var version int64
	err := r.mutate(id, func(a *domain.Account) {
		h := hash
		a.PasswordHash = &h
		a.CredentialVersion++
		a.UpdatedAt = at.UTC()
		version = a.CredentialVersion
	})
	return version, err
}

func (r *AccountRepository) UpdateProfile(_ context.Context, id string, profile domain.ProfileFields, complete bool, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.Profile = cloneProfile(profile)
		a.ProfileComplete = complete
		a.UpdatedAt = at.UTC()
	})
}

func (r *AccountRepository) RecordLogin(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		ts := at.UTC()
		a.LastLoginAt = &ts
	})
}

// List returns accounts newest first, filtered and paged.
func (r *AccountRepository) List(_ context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	r.mu.RLock()
	matched := make([]domain.Account, 0, len(r.byID))
	prefix := domain.NormalizeEmail(filter.EmailPrefix)
	for _, account := range r.byID {
		if prefix != "" && !strings.HasPrefix(account.Email, prefix) {
			continue
		}
		if filter.Role != nil && account.Role != *filter.Role {
			continue
		}
		if filter.IsActive != nil && account.IsActive != *filter.IsActive {
			continue
		}
		matched = append(matched, cloneAccount(account))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.Account{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *AccountRepository) mutate(id string, fn func(*domain.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&account)
	r.byID[id] = account
	return nil
}

func cloneAccount(in domain.Account) domain.Account {
	out := in
	if in.PasswordHash != nil {
		h := *in.PasswordHash
		out.PasswordHash = &h
	}
	if in.Federated != nil {
		f := *in.Federated
		out.Federated = &f
	}
	if in.LastLoginAt != nil {
		ts := *in.LastLoginAt
		out.LastLoginAt = &ts
	}
	out.Profile = cloneProfile(in.Profile)
	return out
}

func cloneProfile(in domain.ProfileFields) domain.ProfileFields {
	out := in
	if in.DateOfBirth != nil {
		dob := *in.DateOfBirth
		out.DateOfBirth = &dob
	}
	return out
}

var _ port.AccountRepository = (*AccountRepository)(nil)
