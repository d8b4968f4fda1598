package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/repository"
)

type tokenKey struct {
	hash    string
	purpose domain.TokenPurpose
}

// TokenRepository keeps opaque tokens in memory.
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[tokenKey]domain.OpaqueToken
}

// NewTokenRepository returns an empty in-memory token store.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[tokenKey]domain.OpaqueToken)}
}

// Replace revokes live tokens of the same account and purpose and stores token.
func (r *TokenRepository) Replace(_ context.Context, token domain.OpaqueToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey{hash: token.TokenHash, purpose: token.Purpose}
	if _, exists := r.tokens[key]; exists {
		return repository.ErrConflict
	}

	for k, existing := range r.tokens {
		if existing.AccountID != token.AccountID || existing.Purpose != token.Purpose {
			continue
		}
		if existing.IsConsumed() || existing.IsRevoked() {
			continue
		}
		existing.Revoke(token.CreatedAt.UTC())
		r.tokens[k] = existing
	}

	r.tokens[key] = token
	return nil
}

// Consume marks the token consumed when it is live at the given instant.
func (r *TokenRepository) Consume(_ context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OpaqueToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey{hash: hash, purpose: purpose}
	token, ok := r.tokens[key]
	if !ok || !token.IsLive(at) {
		return nil, repository.ErrNotFound
	}

	token.Consume(at.UTC())
	r.tokens[key] = token
	out := token
	return &out, nil
}

func (r *TokenRepository) GetByHash(_ context.Context, hash string, purpose domain.TokenPurpose) (*domain.OpaqueToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenKey{hash: hash, purpose: purpose}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := token
	return &out, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
