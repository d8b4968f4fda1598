package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/infra/telemetry"
)

const (
	flowLogin      = "login"
	flowAdminLogin = "admin_login"
	flowFederated  = "federated"

	dummyPassword = "timing-equaliser-password"
)

// LoginInput carries local credentials and the caller's network identity.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	ClientIP   string
}

// LoginResult is returned by every successful login path.
type LoginResult struct {
	Session           domain.Session
	Account           domain.Account
	ProfileIncomplete bool
	Created           bool
}

// AuthService coordinates authentication flows.
type AuthService struct {
	accounts *AccountService
	hasher   port.PasswordHasher
	sessions port.SessionIssuer
	guard    *AbuseGuard
	notifier *Notifier
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(accounts *AccountService, hasher port.PasswordHasher, sessions port.SessionIssuer, guard *AbuseGuard, notifier *Notifier, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotifier(nil, "", log)
	}
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		sessions: sessions,
		guard:    guard,
		notifier: notifier,
		logger:   log,
	}
}

// WithMetrics records authentication outcomes on m.
func (s *AuthService) WithMetrics(m *telemetry.Metrics) *AuthService {
	s.metrics = m
	return s
}

// Login authenticates a local password and issues a session.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	result, err := s.login(ctx, EndpointLogin, in, false)
	s.observe(flowLogin, err)
	return result, err
}

// AdminLogin runs the local login path and additionally requires the admin role.
// A valid non-admin credential yields domain.ErrForbidden and no session.
func (s *AuthService) AdminLogin(ctx context.Context, in LoginInput) (LoginResult, error) {
	result, err := s.login(ctx, EndpointAdminLogin, in, true)
	s.observe(flowAdminLogin, err)
	return result, err
}

func (s *AuthService) login(ctx context.Context, endpoint string, in LoginInput, requireAdmin bool) (LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)
	log := logger.WithContext(ctx, s.logger).With(
		zap.String("flow", endpoint),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("client_ip", logger.MaskIP(in.ClientIP)),
	)

	if err := s.checkGuard(ctx, endpoint, email, in.ClientIP); err != nil {
		return LoginResult{}, err
	}

	if email == "" || in.Password == "" {
		s.equaliseTiming(in.Password)
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			s.equaliseTiming(in.Password)
			log.Info("login rejected: unknown email")
			return LoginResult{}, domain.ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !account.HasPassword() {
		s.equaliseTiming(in.Password)
		log.Info("login rejected: account has no local password", zap.String("account_id", account.ID))
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	if !account.IsVerified() {
		return LoginResult{}, domain.ErrNotVerified
	}
	if !account.IsActive {
		return LoginResult{}, domain.ErrAccountDisabled
	}
	if !s.hasher.Verify(in.Password, *account.PasswordHash) {
		log.Info("login rejected: password mismatch", zap.String("account_id", account.ID))
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	if requireAdmin && !account.IsAdmin() {
		log.Warn("admin login rejected: insufficient role", zap.String("account_id", account.ID))
		return LoginResult{}, domain.ErrForbidden
	}

	// The per-address window is left to expire; one good password must not clear
	// failures spread across other accounts from the same client.
	s.guard.Reset(ctx, endpoint, email)

	result, err := s.establish(ctx, account, in.RememberMe)
	if err != nil {
		return LoginResult{}, err
	}
	log.Info("login succeeded", zap.String("account_id", account.ID), zap.Bool("extended", in.RememberMe))
	return result, nil
}

// FederatedLogin reconciles a provider-verified identity and issues a session.
func (s *AuthService) FederatedLogin(ctx context.Context, identity domain.ExternalIdentity, rememberMe bool) (LoginResult, error) {
	result, err := s.federatedLogin(ctx, identity, rememberMe)
	s.observe(flowFederated, err)
	return result, err
}

func (s *AuthService) federatedLogin(ctx context.Context, identity domain.ExternalIdentity, rememberMe bool) (LoginResult, error) {
	if !identity.EmailVerified {
		return LoginResult{}, fmt.Errorf("%w: provider did not verify the email address", domain.ErrUnauthenticated)
	}

	account, created, err := s.accounts.LinkFederatedIdentity(ctx, identity)
	if err != nil {
		return LoginResult{}, err
	}
	if !account.IsActive {
		return LoginResult{}, domain.ErrAccountDisabled
	}
	if created {
		s.notifier.AccountRegistered(ctx, account, identity.Provider)
	}

	result, err := s.establish(ctx, account, rememberMe)
	if err != nil {
		return LoginResult{}, err
	}
	result.Created = created

	logger.WithContext(ctx, s.logger).Info("federated login succeeded",
		zap.String("account_id", account.ID),
		zap.String("provider", identity.Provider),
		zap.Bool("created", created),
		zap.Bool("profile_incomplete", result.ProfileIncomplete),
	)
	return result, nil
}

func (s *AuthService) establish(ctx context.Context, account domain.Account, extended bool) (LoginResult, error) {
	session, err := s.sessions.Issue(account.ID, account.Role, account.CredentialVersion, extended)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session: %w", err)
	}
	if err := s.accounts.RecordLogin(ctx, account.ID); err != nil {
		logger.WithContext(ctx, s.logger).Warn("failed to record login", zap.String("account_id", account.ID), zap.Error(err))
	}

	return LoginResult{
		Session:           session,
		Account:           account.Sanitized(),
		ProfileIncomplete: !account.ProfileComplete,
	}, nil
}

// Authenticate verifies a bearer credential without touching storage.
func (s *AuthService) Authenticate(token string) (domain.Principal, error) {
	return s.sessions.Verify(strings.TrimSpace(token))
}

// AuthorizeAdmin re-validates an admin principal against the live account:
// it must exist, be active, still hold the admin role and carry the current credential version.
func (s *AuthService) AuthorizeAdmin(ctx context.Context, principal domain.Principal) (domain.Account, error) {
	if !principal.IsAdmin() {
		return domain.Account{}, domain.ErrForbidden
	}

	account, err := s.accounts.GetAccount(ctx, principal.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Account{}, fmt.Errorf("%w: account no longer exists", domain.ErrUnauthenticated)
		}
		return domain.Account{}, err
	}

	switch {
	case !account.IsActive:
		return domain.Account{}, fmt.Errorf("%w: account disabled", domain.ErrForbidden)
	case !account.IsAdmin():
		return domain.Account{}, fmt.Errorf("%w: admin role revoked", domain.ErrForbidden)
	case account.CredentialVersion != principal.CredentialVersion:
		return domain.Account{}, fmt.Errorf("%w: credentials changed since issuance", domain.ErrUnauthenticated)
	}
	return account.Sanitized(), nil
}

// CurrentAccount returns the account behind an authenticated principal.
func (s *AuthService) CurrentAccount(ctx context.Context, principal domain.Principal) (domain.Account, error) {
	account, err := s.accounts.GetAccount(ctx, principal.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Account{}, fmt.Errorf("%w: account no longer exists", domain.ErrUnauthenticated)
		}
		return domain.Account{}, err
	}
	if !account.IsActive {
		return domain.Account{}, domain.ErrAccountDisabled
	}
	return account.Sanitized(), nil
}

func (s *AuthService) checkGuard(ctx context.Context, endpoint string, keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, err := s.guard.Check(ctx, endpoint, key); err != nil {
			return err
		}
	}
	return nil
}

// equaliseTiming runs one hash verification so unknown accounts cost the same as wrong passwords.
func (s *AuthService) equaliseTiming(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_ = s.hasher.Verify(password, s.dummyHash)
	}
}

func (s *AuthService) observe(flow string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveAuth(flow, telemetry.OutcomeSuccess)
	case errors.Is(err, domain.ErrThrottled):
		s.metrics.ObserveAuth(flow, telemetry.OutcomeThrottled)
	default:
		s.metrics.ObserveAuth(flow, telemetry.OutcomeFailure)
	}
}
