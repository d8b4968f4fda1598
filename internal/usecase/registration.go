package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/logger"
)

var inputValidator = validator.New()

// RegisterInput carries a local sign-up request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// RegistrationService handles local sign-up and email verification.
type RegistrationService struct {
	accounts *AccountService
	hasher   port.PasswordHasher
	policy   port.PasswordPolicyValidator
	vault    *TokenVault
	guard    *AbuseGuard
	notifier *Notifier
	logger   *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(accounts *AccountService, hasher port.PasswordHasher, policy port.PasswordPolicyValidator, vault *TokenVault, guard *AbuseGuard, notifier *Notifier, log *zap.Logger) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotifier(nil, "", log)
	}
	return &RegistrationService{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		vault:    vault,
		guard:    guard,
		notifier: notifier,
		logger:   log,
	}
}

// Register creates an unverified account and requests the verification email. No session is issued.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (domain.Account, error) {
	email := domain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return domain.Account{}, err
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if err := s.policy.Validate(in.Password, email, displayName); err != nil {
		return domain.Account{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.accounts.CreateAccount(ctx, NewAccount{
		Email:        email,
		PasswordHash: &hash,
		Profile:      domain.ProfileFields{DisplayName: displayName},
	})
	if err != nil {
		return domain.Account{}, err
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("account_id", account.ID))
	log.Info("account registered", zap.String("email", logger.MaskEmail(email)))

	s.notifier.AccountRegistered(ctx, account, methodPassword)

	// The account exists either way; a failed issue is recoverable through resend.
	issued, err := s.vault.Issue(ctx, account.ID, domain.PurposeEmailVerification)
	if err != nil {
		log.Error("failed to issue verification token", zap.Error(err))
		return account.Sanitized(), nil
	}
	s.notifier.SendVerification(ctx, account, issued)

	return account.Sanitized(), nil
}

// VerifyEmail redeems a verification token and marks the account verified. It does not log the user in.
func (s *RegistrationService) VerifyEmail(ctx context.Context, token string) (domain.Account, error) {
	accountID, err := s.vault.Redeem(ctx, token, domain.PurposeEmailVerification)
	if err != nil {
		logger.WithContext(ctx, s.logger).Info("verification token rejected", zap.Error(err))
		return domain.Account{}, err
	}

	if err := s.accounts.MarkVerified(ctx, accountID); err != nil {
		return domain.Account{}, err
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}

	s.notifier.SendWelcome(ctx, account)
	logger.WithContext(ctx, s.logger).Info("email verified", zap.String("account_id", accountID))
	return account.Sanitized(), nil
}

// ResendVerification issues a fresh verification token for an unverified account.
// Unknown, verified and disabled accounts get the same silent success.
func (s *RegistrationService) ResendVerification(ctx context.Context, email, clientIP string) error {
	email = domain.NormalizeEmail(email)
	for _, key := range []string{email, clientIP} {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, err := s.guard.Check(ctx, EndpointVerificationResend, key); err != nil {
			return err
		}
	}
	if err := validateEmail(email); err != nil {
		return err
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if account.IsVerified() || !account.IsActive {
		return nil
	}

	issued, err := s.vault.Issue(ctx, account.ID, domain.PurposeEmailVerification)
	if err != nil {
		return err
	}
	s.notifier.SendVerification(ctx, account, issued)
	return nil
}

func validateEmail(email string) error {
	if err := inputValidator.Var(email, "required,email,max=254"); err != nil {
		return fmt.Errorf("%w: a valid email address is required", domain.ErrInvalidInput)
	}
	return nil
}
