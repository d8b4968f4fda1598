package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
	"github.com/arklim/community-identity/internal/infra/security"
	"github.com/arklim/community-identity/internal/repository/memory"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu         sync.Mutex
	emails     []domain.EmailRequest
	registered []domain.AccountRegisteredEvent
	passwords  []domain.PasswordChangedEvent
	statuses   []domain.AccountStatusChangedEvent
	err        error
}

func (p *recordingPublisher) PublishEmailRequested(_ context.Context, request domain.EmailRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, request)
	return p.err
}

func (p *recordingPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return p.err
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords = append(p.passwords, event)
	return p.err
}

func (p *recordingPublisher) PublishAccountStatusChanged(_ context.Context, event domain.AccountStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, event)
	return p.err
}

// lastEmail returns the most recent email of kind, failing the test when none was requested.
func (p *recordingPublisher) lastEmail(t *testing.T, kind domain.EmailKind) domain.EmailRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.emails) - 1; i >= 0; i-- {
		if p.emails[i].Kind == kind {
			return p.emails[i]
		}
	}
	t.Fatalf("no %s email was requested", kind)
	return domain.EmailRequest{}
}

func (p *recordingPublisher) countEmails(kind domain.EmailKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.emails {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type failingRateLimitStore struct{}

func (failingRateLimitStore) Hit(context.Context, string, int, time.Duration, time.Time) (port.RateLimitHit, error) {
	return port.RateLimitHit{}, errors.New("redis: connection refused")
}

func (failingRateLimitStore) Reset(context.Context, string) error {
	return errors.New("redis: connection refused")
}

type harness struct {
	clock        *testClock
	accountsRepo *memory.AccountRepository
	tokensRepo   *memory.TokenRepository
	publisher    *recordingPublisher
	hasher       *security.Argon2Hasher
	issuer       *security.SessionIssuer

	accounts     *AccountService
	vault        *TokenVault
	guard        *AbuseGuard
	notifier     *Notifier
	auth         *AuthService
	registration *RegistrationService
	reset        *PasswordResetService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	linkPolicy string
	limits     config.RateLimitSettings
}

func withLinkPolicy(policy string) harnessOption {
	return func(c *harnessConfig) { c.linkPolicy = policy }
}

func testRateLimits() config.RateLimitSettings {
	return config.RateLimitSettings{
		Store:              config.RateLimitStoreMemory,
		Login:              config.RateLimitRule{MaxAttempts: 5, Window: 15 * time.Minute},
		AdminLogin:         config.RateLimitRule{MaxAttempts: 5, Window: 15 * time.Minute},
		PasswordReset:      config.RateLimitRule{MaxAttempts: 3, Window: time.Hour},
		VerificationResend: config.RateLimitRule{MaxAttempts: 3, Window: time.Hour},
		Register:           config.RateLimitRule{MaxAttempts: 10, Window: time.Hour},
	}
}

func newTestHasher(t *testing.T) *security.Argon2Hasher {
	t.Helper()
	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{linkPolicy: config.LinkPolicyTrustEmail, limits: testRateLimits()}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := zaptest.NewLogger(t)
	clock := newTestClock()

	issuer, err := security.NewSessionIssuer(security.SessionConfig{
		Secret:      []byte(testSessionSecret),
		Issuer:      "community-identity",
		Audience:    "community",
		DefaultTTL:  2 * time.Hour,
		ExtendedTTL: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSessionIssuer returned error: %v", err)
	}
	issuer = issuer.WithClock(clock.Now)

	h := &harness{
		clock:        clock,
		accountsRepo: memory.NewAccountRepository(),
		tokensRepo:   memory.NewTokenRepository(),
		publisher:    &recordingPublisher{},
		hasher:       newTestHasher(t),
		issuer:       issuer,
	}
	policy := security.NewPasswordPolicy(security.DefaultPasswordPolicyConfig())

	h.accounts = NewAccountService(h.accountsRepo, h.publisher, cfg.linkPolicy, log).WithClock(clock.Now)
	h.vault = NewTokenVault(h.tokensRepo, 24*time.Hour, time.Hour, log).WithClock(clock.Now)
	h.guard = NewAbuseGuard(memory.NewRateLimitRepository(), cfg.limits, log).WithClock(clock.Now)
	h.notifier = NewNotifier(h.publisher, "https://community.example", log)
	h.notifier.now = clock.Now
	h.auth = NewAuthService(h.accounts, h.hasher, h.issuer, h.guard, h.notifier, log)
	h.registration = NewRegistrationService(h.accounts, h.hasher, policy, h.vault, h.guard, h.notifier, log)
	h.reset = NewPasswordResetService(h.accounts, h.hasher, policy, h.vault, h.guard, h.notifier, log)
	return h
}

// registerVerified registers a password account and redeems its verification email.
func (h *harness) registerVerified(t *testing.T, email, password string) domain.Account {
	t.Helper()
	ctx := context.Background()
	account, err := h.registration.Register(ctx, RegisterInput{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Register(%s) returned error: %v", email, err)
	}
	token := h.publisher.lastEmail(t, domain.EmailVerification).Token
	if _, err := h.registration.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}
	return account
}

// promote grants the admin role directly in storage.
func (h *harness) promote(t *testing.T, id string) {
	t.Helper()
	if err := h.accountsRepo.ChangeRole(context.Background(), id, domain.RoleAdmin, h.clock.Now()); err != nil {
		t.Fatalf("ChangeRole returned error: %v", err)
	}
}
