package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/infra/telemetry"
)

// Guarded endpoints.
const (
	EndpointLogin              = "login"
	EndpointAdminLogin         = "admin_login"
	EndpointPasswordReset      = "password_reset"
	EndpointVerificationResend = "verification_resend"
	EndpointRegister           = "register"
)

// Decision is the outcome of an allowed attempt.
type Decision struct {
	Remaining int
}

// AbuseGuard bounds attempts per (endpoint, key) within a sliding window.
type AbuseGuard struct {
	store   port.RateLimitStore
	rules   map[string]config.RateLimitRule
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAbuseGuard builds a guard from the configured per-endpoint rules.
func NewAbuseGuard(store port.RateLimitStore, cfg config.RateLimitSettings, log *zap.Logger) *AbuseGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &AbuseGuard{
		store: store,
		rules: map[string]config.RateLimitRule{
			EndpointLogin:              cfg.Login,
			EndpointAdminLogin:         cfg.AdminLogin,
			EndpointPasswordReset:      cfg.PasswordReset,
			EndpointVerificationResend: cfg.VerificationResend,
			EndpointRegister:           cfg.Register,
		},
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the time source, primarily for tests.
func (g *AbuseGuard) WithClock(clock func() time.Time) *AbuseGuard {
	if clock != nil {
		g.now = clock
	}
	return g
}

// WithMetrics counts throttled attempts on m.
func (g *AbuseGuard) WithMetrics(m *telemetry.Metrics) *AbuseGuard {
	g.metrics = m
	return g
}

// Check records one attempt and returns a *domain.ThrottledError once the budget is spent.
// Store failures are logged and the attempt is allowed.
func (g *AbuseGuard) Check(ctx context.Context, endpoint, key string) (Decision, error) {
	if g == nil || g.store == nil {
		return Decision{Remaining: -1}, nil
	}
	rule, ok := g.rules[endpoint]
	key = normalizeGuardKey(key)
	if !ok || rule.MaxAttempts <= 0 || rule.Window <= 0 || key == "" {
		return Decision{Remaining: -1}, nil
	}

	now := g.now()
	identifier := guardIdentifier(endpoint, key)
	hit, err := g.store.Hit(ctx, identifier, rule.MaxAttempts, rule.Window, now)
	if err != nil {
		logger.WithContext(ctx, g.logger).Warn("rate limit store unavailable, allowing attempt",
			zap.String("endpoint", endpoint),
			zap.String("key", logger.MaskIdentifier(identifier)),
			zap.Error(err),
		)
		return Decision{Remaining: -1}, nil
	}

	if hit.Allowed {
		return Decision{Remaining: rule.MaxAttempts - hit.Count}, nil
	}

	retryAfter := rule.Window
	if !hit.Oldest.IsZero() {
		retryAfter = hit.Oldest.Add(rule.Window).Sub(now)
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	g.metrics.ObserveThrottled(endpoint)
	logger.WithContext(ctx, g.logger).Info("attempt throttled",
		zap.String("endpoint", endpoint),
		zap.String("key", logger.MaskIdentifier(identifier)),
		zap.Duration("retry_after", retryAfter),
	)
	return Decision{}, &domain.ThrottledError{Endpoint: endpoint, RetryAfter: retryAfter}
}

// Reset clears the counter for (endpoint, key) after a successful authentication.
func (g *AbuseGuard) Reset(ctx context.Context, endpoint, key string) {
	key = normalizeGuardKey(key)
	if g == nil || g.store == nil || key == "" {
		return
	}
	identifier := guardIdentifier(endpoint, key)
	if err := g.store.Reset(ctx, identifier); err != nil {
		logger.WithContext(ctx, g.logger).Warn("failed to reset rate limit counter",
			zap.String("key", logger.MaskIdentifier(identifier)),
			zap.Error(err),
		)
	}
}

func guardIdentifier(endpoint, key string) string {
	return endpoint + ":" + key
}

func normalizeGuardKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
