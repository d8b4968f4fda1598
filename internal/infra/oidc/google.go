// Package oidc consumes OpenID Connect assertions from federated identity providers.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
)

// ProviderGoogle is the provider name stored alongside federated subjects.
const ProviderGoogle = "google"

var (
	// ErrInvalidIDToken covers signature, issuer, audience, expiry and nonce failures.
	ErrInvalidIDToken = fmt.Errorf("%w: invalid id token", domain.ErrUnauthenticated)
	// ErrExchangeFailed indicates the authorization code could not be redeemed.
	ErrExchangeFailed = fmt.Errorf("%w: authorization code exchange failed", domain.ErrUnauthenticated)
)

type idTokenClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Nonce         string `json:"nonce"`
}

// GoogleProvider implements port.FederatedIdentityProvider for Google accounts.
type GoogleProvider struct {
	oauth    *oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

// NewGoogleProvider discovers the issuer endpoints and builds the OAuth2 client.
func NewGoogleProvider(ctx context.Context, cfg config.GoogleSettings) (*GoogleProvider, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
	}

	verifier := provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	return newGoogleProvider(oauthCfg, verifier), nil
}

func newGoogleProvider(oauthCfg *oauth2.Config, verifier *gooidc.IDTokenVerifier) *GoogleProvider {
	return &GoogleProvider{oauth: oauthCfg, verifier: verifier}
}

func (p *GoogleProvider) Name() string {
	return ProviderGoogle
}

// AuthCodeURL builds the consent redirect carrying state and nonce.
func (p *GoogleProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
}

// Exchange redeems the authorization code and verifies the returned ID token.
func (p *GoogleProvider) Exchange(ctx context.Context, code, nonce string) (*domain.ExternalIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrExchangeFailed
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: id_token missing from token response", ErrExchangeFailed)
	}

	return p.VerifyIDToken(ctx, rawIDToken, nonce)
}

// VerifyIDToken validates a raw ID token. An empty nonce skips the nonce comparison,
// which is the case for tokens obtained directly by a client SDK.
func (p *GoogleProvider) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*domain.ExternalIdentity, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		var expired *gooidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidIDToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrInvalidIDToken, err)
	}

	if nonce != "" && claims.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
	}
	if claims.Subject == "" || strings.TrimSpace(claims.Email) == "" {
		return nil, fmt.Errorf("%w: subject and email are required", ErrInvalidIDToken)
	}

	name := strings.TrimSpace(claims.Name)
	return &domain.ExternalIdentity{
		Provider:      ProviderGoogle,
		Subject:       claims.Subject,
		Email:         domain.NormalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          name,
		ProfileHints:  domain.ProfileFields{DisplayName: name},
	}, nil
}

var _ port.FederatedIdentityProvider = (*GoogleProvider)(nil)
