package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/community-identity/internal/core/domain"
)

var testSessionSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(t *testing.T, now time.Time) *SessionIssuer {
	t.Helper()
	issuer, err := NewSessionIssuer(SessionConfig{
		Secret:      testSessionSecret,
		Issuer:      "community-identity",
		Audience:    "community-web",
		DefaultTTL:  2 * time.Hour,
		ExtendedTTL: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSessionIssuer returned error: %v", err)
	}
	return issuer.WithClock(func() time.Time { return now })
}

func TestSessionIssuer_IssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	session, err := issuer.Issue("acc-1", domain.RoleAdmin, 4, false)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if session.TTLClass != domain.SessionDefault {
		t.Fatalf("expected default ttl class, got %s", session.TTLClass)
	}
	if !session.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", session.ExpiresAt)
	}

	principal, err := issuer.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if principal.AccountID != "acc-1" || principal.Role != domain.RoleAdmin {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if principal.CredentialVersion != 4 {
		t.Fatalf("expected credential version 4, got %d", principal.CredentialVersion)
	}
	if principal.TokenID == "" {
		t.Fatal("expected jti to be populated")
	}
}

func TestSessionIssuer_ExtendedLifetime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	session, err := issuer.Issue("acc-1", domain.RoleUser, 1, true)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if session.TTLClass != domain.SessionExtended {
		t.Fatalf("expected extended ttl class, got %s", session.TTLClass)
	}

	later := issuer.WithClock(func() time.Time { return now.Add(7 * 24 * time.Hour) })
	if _, err := later.Verify(session.Token); err != nil {
		t.Fatalf("extended session should still be valid after a week: %v", err)
	}
}

func TestSessionIssuer_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	session, err := issuer.Issue("acc-1", domain.RoleUser, 1, false)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	later := issuer.WithClock(func() time.Time { return now.Add(3 * time.Hour) })
	_, err = later.Verify(session.Token)
	if !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected expiry to map to unauthenticated")
	}
}

func TestSessionIssuer_RejectsTamperedAndForeignTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	session, err := issuer.Issue("acc-1", domain.RoleUser, 1, false)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	parts := strings.Split(session.Token, ".")
	forgedClaims := &SessionClaims{
		AccountID: "acc-1",
		Role:      "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acc-1",
			Issuer:    "community-identity",
			Audience:  jwt.ClaimStrings{"community-web"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, forgedClaims).SignedString([]byte("another-secret-another-secret-xx"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, forgedClaims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"wrong secret":   forged,
		"spliced claims": spliced,
		"alg none":       none,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(token)
			if !errors.Is(err, ErrInvalidSessionToken) {
				t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
			}
		})
	}
}

func TestSessionIssuer_ForgedExpiredTokenIsInvalidNotExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	claims := &SessionClaims{
		AccountID: "acc-1",
		Role:      "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acc-1",
			Issuer:    "community-identity",
			Audience:  jwt.ClaimStrings{"community-web"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-3 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-secret-another-secret-xx"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}

	if _, err := issuer.Verify(forged); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("signature must be checked before expiry, got %v", err)
	}
}

func TestNewSessionIssuer_RejectsShortSecret(t *testing.T) {
	if _, err := NewSessionIssuer(SessionConfig{Secret: []byte("short"), Issuer: "x"}); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSessionIssuer_IssueValidatesInput(t *testing.T) {
	issuer := newTestIssuer(t, time.Now())
	if _, err := issuer.Issue("", domain.RoleUser, 1, false); err == nil {
		t.Fatal("expected error for empty account id")
	}
	if _, err := issuer.Issue("acc-1", domain.Role("owner"), 1, false); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
