package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/arklim/community-identity/internal/core/domain"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "client-123"
)

type providerFixture struct {
	key      *rsa.PrivateKey
	provider *GoogleProvider
}

func newFixture(t *testing.T, tokenURL string) providerFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	verifier := gooidc.NewVerifier(testIssuer, &gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &gooidc.Config{
		ClientID: testClientID,
	})
	oauthCfg := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "https://community.example/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  testIssuer + "/auth",
			TokenURL: tokenURL,
		},
		Scopes: []string{gooidc.ScopeOpenID, "email"},
	}
	return providerFixture{key: key, provider: newGoogleProvider(oauthCfg, verifier)}
}

func (f providerFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	raw, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return raw
}

func validClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "google-sub-1",
		"email":          "Member@Example.com",
		"email_verified": true,
		"name":           " Sam Member ",
		"nonce":          nonce,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestVerifyIDTokenMapsClaims(t *testing.T) {
	fixture := newFixture(t, "")
	raw := fixture.sign(t, validClaims("nonce-1"))

	identity, err := fixture.provider.VerifyIDToken(context.Background(), raw, "nonce-1")
	if err != nil {
		t.Fatalf("VerifyIDToken returned error: %v", err)
	}
	if identity.Provider != ProviderGoogle || identity.Subject != "google-sub-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Email != "member@example.com" {
		t.Fatalf("expected normalised email, got %s", identity.Email)
	}
	if !identity.EmailVerified || identity.ProfileHints.DisplayName != "Sam Member" {
		t.Fatalf("unexpected identity details: %+v", identity)
	}
}

func TestVerifyIDTokenRejections(t *testing.T) {
	fixture := newFixture(t, "")
	other := newFixture(t, "")

	expired := validClaims("n")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongAudience := validClaims("n")
	wrongAudience["aud"] = "someone-else"

	missingEmail := validClaims("n")
	delete(missingEmail, "email")

	cases := []struct {
		name  string
		raw   string
		nonce string
	}{
		{name: "nonce mismatch", raw: fixture.sign(t, validClaims("n")), nonce: "different"},
		{name: "expired", raw: fixture.sign(t, expired), nonce: "n"},
		{name: "wrong audience", raw: fixture.sign(t, wrongAudience), nonce: "n"},
		{name: "foreign signature", raw: other.sign(t, validClaims("n")), nonce: "n"},
		{name: "missing email", raw: fixture.sign(t, missingEmail), nonce: "n"},
		{name: "garbage", raw: "not-a-jwt", nonce: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fixture.provider.VerifyIDToken(context.Background(), tc.raw, tc.nonce)
			if !errors.Is(err, ErrInvalidIDToken) {
				t.Fatalf("expected ErrInvalidIDToken, got %v", err)
			}
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Fatalf("expected error to map to unauthenticated, got %v", err)
			}
		})
	}
}

func TestVerifyIDTokenWithoutNonceSkipsComparison(t *testing.T) {
	fixture := newFixture(t, "")
	raw := fixture.sign(t, validClaims("issued-by-sdk"))

	if _, err := fixture.provider.VerifyIDToken(context.Background(), raw, ""); err != nil {
		t.Fatalf("expected token without expected nonce to verify, got %v", err)
	}
}

func TestAuthCodeURLCarriesStateAndNonce(t *testing.T) {
	fixture := newFixture(t, "")

	raw := fixture.provider.AuthCodeURL("state-1", "nonce-1")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != "state-1" || query.Get("nonce") != "nonce-1" {
		t.Fatalf("unexpected auth url query: %v", query)
	}
	if query.Get("client_id") != testClientID {
		t.Fatalf("unexpected client id: %s", query.Get("client_id"))
	}
}

func TestExchangeVerifiesReturnedIDToken(t *testing.T) {
	var fixture providerFixture
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "auth-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     fixture.sign(t, validClaims("nonce-2")),
		})
	}))
	defer server.Close()

	fixture = newFixture(t, server.URL)

	identity, err := fixture.provider.Exchange(context.Background(), "auth-code", "nonce-2")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}
	if identity.Subject != "google-sub-1" {
		t.Fatalf("unexpected subject: %s", identity.Subject)
	}

	if _, err := fixture.provider.Exchange(context.Background(), "wrong-code", "nonce-2"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
	if _, err := fixture.provider.Exchange(context.Background(), " ", "nonce-2"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed for empty code, got %v", err)
	}
}
