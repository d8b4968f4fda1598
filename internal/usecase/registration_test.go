package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/arklim/community-identity/internal/core/domain"
)

func TestRegisterRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input RegisterInput
		want  error
	}{
		{name: "malformed email", input: RegisterInput{Email: "not-an-email", Password: "Passw0rd1"}, want: domain.ErrInvalidInput},
		{name: "empty email", input: RegisterInput{Password: "Passw0rd1"}, want: domain.ErrInvalidInput},
		{name: "short password", input: RegisterInput{Email: "a@x.com", Password: "Pw0"}, want: domain.ErrPasswordPolicy},
		{name: "single class password", input: RegisterInput{Email: "a@x.com", Password: "passwordpassword"}, want: domain.ErrPasswordPolicy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.registration.Register(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if n := len(h.publisher.emails); n != 0 {
		t.Fatalf("rejected registrations must not request email, got %d", n)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.registration.Register(ctx, RegisterInput{Email: "a@x.com", Password: "Passw0rd1"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if _, err := h.registration.Register(ctx, RegisterInput{Email: " A@X.COM", Password: "Passw0rd2"}); !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestRegisterPublishesEvents(t *testing.T) {
	h := newHarness(t)

	account, err := h.registration.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "Passw0rd1", DisplayName: " Ada "})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if account.Profile.DisplayName != "Ada" {
		t.Fatalf("expected trimmed display name, got %q", account.Profile.DisplayName)
	}
	if account.CredentialVersion != 1 || account.Role != domain.RoleUser || !account.IsActive {
		t.Fatalf("unexpected initial account state: %+v", account)
	}

	if len(h.publisher.registered) != 1 {
		t.Fatalf("expected one registration event, got %d", len(h.publisher.registered))
	}
	event := h.publisher.registered[0]
	if event.Method != "password" || event.Verification != domain.VerificationUnverified {
		t.Fatalf("unexpected registration event: %+v", event)
	}
	email := h.publisher.lastEmail(t, domain.EmailVerification)
	if email.RecipientName != "Ada" || email.ExpiresAt == nil {
		t.Fatalf("unexpected verification email: %+v", email)
	}
}

func TestRegisterSurvivesPublisherFailure(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("kafka: broker unavailable")

	if _, err := h.registration.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "Passw0rd1"}); err != nil {
		t.Fatalf("publisher failures must not fail registration: %v", err)
	}
}

func TestVerifyEmailRejectsReusedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "a@x.com", "Passw0rd1")

	token := h.publisher.lastEmail(t, domain.EmailVerification).Token
	if _, err := h.registration.VerifyEmail(ctx, token); !errors.Is(err, domain.ErrTokenAlreadyConsumed) {
		t.Fatalf("expected ErrTokenAlreadyConsumed, got %v", err)
	}
	if _, err := h.registration.VerifyEmail(ctx, "garbage"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestResendVerificationSupersedesPreviousToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.registration.Register(ctx, RegisterInput{Email: "a@x.com", Password: "Passw0rd1"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	first := h.publisher.lastEmail(t, domain.EmailVerification).Token

	if err := h.registration.ResendVerification(ctx, "a@x.com", "198.51.100.4"); err != nil {
		t.Fatalf("ResendVerification returned error: %v", err)
	}
	second := h.publisher.lastEmail(t, domain.EmailVerification).Token
	if first == second {
		t.Fatalf("expected a fresh token")
	}

	if _, err := h.registration.VerifyEmail(ctx, first); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("superseded token must be rejected, got %v", err)
	}
	if _, err := h.registration.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("latest token should verify: %v", err)
	}
}

func TestResendVerificationIsSilent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "verified@x.com", "Passw0rd1")
	before := h.publisher.countEmails(domain.EmailVerification)

	for _, email := range []string{"unknown@x.com", "verified@x.com"} {
		if err := h.registration.ResendVerification(ctx, email, ""); err != nil {
			t.Fatalf("ResendVerification(%s) returned error: %v", email, err)
		}
	}
	if after := h.publisher.countEmails(domain.EmailVerification); after != before {
		t.Fatalf("no email expected for unknown or verified accounts, got %d new", after-before)
	}
}

func TestResendVerificationThrottled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.registration.ResendVerification(ctx, "a@x.com", ""); err != nil {
			t.Fatalf("attempt %d returned error: %v", i+1, err)
		}
	}
	if err := h.registration.ResendVerification(ctx, "a@x.com", ""); !errors.Is(err, domain.ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
}
