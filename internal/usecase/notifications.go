package usecase

import (
	"context"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/logger"
)

const (
	verifyEmailPath   = "/verify-email/"
	resetPasswordPath = "/reset-password/"

	methodPassword = "password"
)

// Notifier hands email requests and account events to the message bus.
// Delivery is fire-and-forget: failures are logged and never fail the calling flow.
type Notifier struct {
	events  port.EventPublisher
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotifier constructs a Notifier that renders links against baseURL.
func NewNotifier(events port.EventPublisher, baseURL string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		events:  events,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log,
		now:     time.Now,
	}
}

// VerificationLink renders {baseURL}/verify-email/{token}.
func (n *Notifier) VerificationLink(token string) string {
	return n.baseURL + verifyEmailPath + url.PathEscape(token)
}

// ResetLink renders {baseURL}/reset-password/{token}.
func (n *Notifier) ResetLink(token string) string {
	return n.baseURL + resetPasswordPath + url.PathEscape(token)
}

// SendVerification emails the verify-email link carried by issued.
func (n *Notifier) SendVerification(ctx context.Context, account domain.Account, issued IssuedToken) {
	if !n.enabled() {
		return
	}
	n.sendTokenEmail(ctx, domain.EmailVerification, account, issued, n.VerificationLink(issued.Plaintext))
}

// SendPasswordReset emails the reset-password link carried by issued.
func (n *Notifier) SendPasswordReset(ctx context.Context, account domain.Account, issued IssuedToken) {
	if !n.enabled() {
		return
	}
	n.sendTokenEmail(ctx, domain.EmailPasswordReset, account, issued, n.ResetLink(issued.Plaintext))
}

// SendWelcome greets a newly verified account.
func (n *Notifier) SendWelcome(ctx context.Context, account domain.Account) {
	if !n.enabled() {
		return
	}
	n.sendEmail(ctx, n.emailRequest(domain.EmailWelcome, account))
}

// SendPasswordChanged tells the owner their password was replaced.
func (n *Notifier) SendPasswordChanged(ctx context.Context, account domain.Account) {
	if !n.enabled() {
		return
	}
	n.sendEmail(ctx, n.emailRequest(domain.EmailPasswordChanged, account))
}

// AccountRegistered publishes the account.registered event.
func (n *Notifier) AccountRegistered(ctx context.Context, account domain.Account, method string) {
	if !n.enabled() {
		return
	}
	event := domain.AccountRegisteredEvent{
		EventID:      uuid.NewString(),
		AccountID:    account.ID,
		Email:        account.Email,
		Method:       method,
		Verification: account.VerificationState,
		RegisteredAt: account.CreatedAt,
	}
	if err := n.events.PublishAccountRegistered(ctx, event); err != nil {
		n.warn(ctx, "failed to publish account registered event", account.ID, err)
	}
}

// PasswordChanged publishes the account.password.changed event.
func (n *Notifier) PasswordChanged(ctx context.Context, accountID string, version int64, reason string) {
	if !n.enabled() {
		return
	}
	event := domain.PasswordChangedEvent{
		EventID:           uuid.NewString(),
		AccountID:         accountID,
		ChangedAt:         n.now().UTC(),
		CredentialVersion: version,
		Reason:            reason,
	}
	if err := n.events.PublishPasswordChanged(ctx, event); err != nil {
		n.warn(ctx, "failed to publish password changed event", accountID, err)
	}
}

func (n *Notifier) enabled() bool {
	return n != nil && n.events != nil
}

func (n *Notifier) sendTokenEmail(ctx context.Context, kind domain.EmailKind, account domain.Account, issued IssuedToken, link string) {
	request := n.emailRequest(kind, account)
	expiresAt := issued.ExpiresAt
	request.Token = issued.Plaintext
	request.Purpose = issued.Purpose
	request.Link = link
	request.ExpiresAt = &expiresAt
	n.sendEmail(ctx, request)
}

func (n *Notifier) emailRequest(kind domain.EmailKind, account domain.Account) domain.EmailRequest {
	return domain.EmailRequest{
		EventID:        uuid.NewString(),
		Kind:           kind,
		RecipientEmail: account.Email,
		RecipientName:  account.Profile.DisplayName,
		AccountID:      account.ID,
		RequestedAt:    n.now().UTC(),
	}
}

func (n *Notifier) sendEmail(ctx context.Context, request domain.EmailRequest) {
	if !n.enabled() {
		return
	}
	if err := n.events.PublishEmailRequested(ctx, request); err != nil {
		n.warn(ctx, "failed to request email", request.AccountID, err,
			zap.String("kind", string(request.Kind)),
			zap.String("recipient", logger.MaskEmail(request.RecipientEmail)),
		)
	}
}

func (n *Notifier) warn(ctx context.Context, msg, accountID string, err error, fields ...zap.Field) {
	base := []zap.Field{zap.String("account_id", accountID), zap.Error(err)}
	logger.WithContext(ctx, n.logger).Warn(msg, append(base, fields...)...)
}
