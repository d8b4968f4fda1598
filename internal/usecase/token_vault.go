package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/security"
	"github.com/arklim/community-identity/internal/infra/telemetry"
	"github.com/arklim/community-identity/internal/repository"
)

const (
	defaultVerificationTTL  = 24 * time.Hour
	defaultPasswordResetTTL = time.Hour
)

// IssuedToken carries the plaintext of a freshly issued token. It is never persisted.
type IssuedToken struct {
	Plaintext string
	Purpose   domain.TokenPurpose
	ExpiresAt time.Time
}

// TokenVault issues and redeems single-use opaque tokens, storing only their hashes.
type TokenVault struct {
	tokens  port.TokenRepository
	ttls    map[domain.TokenPurpose]time.Duration
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenVault constructs a vault. Zero TTLs fall back to 24h for verification and 1h for resets.
func NewTokenVault(tokens port.TokenRepository, verificationTTL, resetTTL time.Duration, logger *zap.Logger) *TokenVault {
	if verificationTTL <= 0 {
		verificationTTL = defaultVerificationTTL
	}
	if resetTTL <= 0 {
		resetTTL = defaultPasswordResetTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenVault{
		tokens: tokens,
		ttls: map[domain.TokenPurpose]time.Duration{
			domain.PurposeEmailVerification: verificationTTL,
			domain.PurposePasswordReset:     resetTTL,
		},
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source, primarily for tests.
func (v *TokenVault) WithClock(clock func() time.Time) *TokenVault {
	if clock != nil {
		v.now = clock
	}
	return v
}

// WithMetrics records issued tokens on m.
func (v *TokenVault) WithMetrics(m *telemetry.Metrics) *TokenVault {
	v.metrics = m
	return v
}

// Issue creates a token for accountID, superseding any live token of the same purpose.
func (v *TokenVault) Issue(ctx context.Context, accountID string, purpose domain.TokenPurpose) (IssuedToken, error) {
	if strings.TrimSpace(accountID) == "" {
		return IssuedToken{}, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	if !purpose.Valid() {
		return IssuedToken{}, fmt.Errorf("%w: unknown token purpose %q", domain.ErrInvalidInput, purpose)
	}

	plaintext, hash, err := security.GenerateOpaqueToken()
	if err != nil {
		return IssuedToken{}, err
	}

	now := v.now().UTC()
	token := domain.OpaqueToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: hash,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(v.ttls[purpose]),
	}
	if err := v.tokens.Replace(ctx, token); err != nil {
		return IssuedToken{}, fmt.Errorf("store %s token: %w", purpose, err)
	}

	v.metrics.ObserveTokenIssued(string(purpose))
	v.logger.Debug("opaque token issued",
		zap.String("account_id", accountID),
		zap.String("purpose", string(purpose)),
		zap.Time("expires_at", token.ExpiresAt),
	)

	return IssuedToken{Plaintext: plaintext, Purpose: purpose, ExpiresAt: token.ExpiresAt}, nil
}

// Redeem consumes the token exactly once and returns its account id.
// Failures are ErrTokenNotFound, ErrTokenExpired or ErrTokenAlreadyConsumed.
func (v *TokenVault) Redeem(ctx context.Context, plaintext string, purpose domain.TokenPurpose) (string, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" || !purpose.Valid() {
		return "", domain.ErrTokenNotFound
	}

	hash := security.HashToken(plaintext)
	now := v.now().UTC()

	token, err := v.tokens.Consume(ctx, hash, purpose, now)
	if err == nil {
		return token.AccountID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("consume %s token: %w", purpose, err)
	}

	return "", v.classify(ctx, hash, purpose, now)
}

// classify explains why the conditional consume matched no row.
func (v *TokenVault) classify(ctx context.Context, hash string, purpose domain.TokenPurpose, now time.Time) error {
	token, err := v.tokens.GetByHash(ctx, hash, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrTokenNotFound
		}
		return fmt.Errorf("lookup %s token: %w", purpose, err)
	}

	switch {
	case token.IsConsumed():
		return domain.ErrTokenAlreadyConsumed
	case token.IsRevoked():
		return domain.ErrTokenNotFound
	case token.IsExpired(now):
		return domain.ErrTokenExpired
	default:
		// Live again only if the row changed between the two statements.
		return domain.ErrTokenAlreadyConsumed
	}
}
