package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/logger"
)

const (
	passwordResetReason = "password_reset"
	resetHandoffTimeout = 30 * time.Second
)

// PasswordResetService coordinates password reset initiation and completion.
type PasswordResetService struct {
	accounts *AccountService
	hasher   port.PasswordHasher
	policy   port.PasswordPolicyValidator
	vault    *TokenVault
	guard    *AbuseGuard
	notifier *Notifier
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(accounts *AccountService, hasher port.PasswordHasher, policy port.PasswordPolicyValidator, vault *TokenVault, guard *AbuseGuard, notifier *Notifier, log *zap.Logger) *PasswordResetService {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotifier(nil, "", log)
	}
	return &PasswordResetService{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		vault:    vault,
		guard:    guard,
		notifier: notifier,
		logger:   log,
	}
}

// RequestReset throttles and validates the request, then hands token issuance and delivery
// to a background goroutine. Known and unknown emails get the same nil error after the same
// synchronous work.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, clientIP string) error {
	email = domain.NormalizeEmail(email)
	for _, key := range []string{email, clientIP} {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, err := s.guard.Check(ctx, EndpointPasswordReset, key); err != nil {
			return err
		}
	}
	if err := validateEmail(email); err != nil {
		return err
	}

	// Request-scoped values (trace and request ids) survive; cancellation does not.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetHandoffTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		s.issueReset(bg, email)
	}()
	return nil
}

// Wait blocks until every handed-off reset request has finished.
func (s *PasswordResetService) Wait() {
	s.inflight.Wait()
}

func (s *PasswordResetService) issueReset(ctx context.Context, email string) {
	log := logger.WithContext(ctx, s.logger).With(zap.String("email", logger.MaskEmail(email)))

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			log.Info("password reset requested for unknown email")
			return
		}
		log.Error("password reset lookup failed", zap.Error(err))
		return
	}
	if !account.IsActive {
		log.Info("password reset requested for disabled account", zap.String("account_id", account.ID))
		return
	}

	issued, err := s.vault.Issue(ctx, account.ID, domain.PurposePasswordReset)
	if err != nil {
		log.Error("password reset token issue failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	s.notifier.SendPasswordReset(ctx, account, issued)
	log.Info("password reset token issued", zap.String("account_id", account.ID))
}

// ResetPassword redeems a reset token and replaces the password, bumping the credential version.
// Existing sessions stay valid until expiry except on admin routes, which compare the version.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	accountID, err := s.vault.Redeem(ctx, token, domain.PurposePasswordReset)
	if err != nil {
		logger.WithContext(ctx, s.logger).Info("password reset token rejected", zap.Error(err))
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	version, err := s.accounts.SetPasswordHash(ctx, accountID, hash)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	// Redeeming a mailed token proves control of the address.
	if !account.IsVerified() {
		if err := s.accounts.MarkVerified(ctx, accountID); err != nil {
			return err
		}
	}

	s.notifier.PasswordChanged(ctx, accountID, version, passwordResetReason)
	s.notifier.SendPasswordChanged(ctx, account)

	logger.WithContext(ctx, s.logger).Info("password reset completed",
		zap.String("account_id", accountID),
		zap.Int64("credential_version", version),
	)
	return nil
}
