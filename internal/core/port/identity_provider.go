package port

import (
	"context"

	"github.com/arklim/community-identity/internal/core/domain"
)

// FederatedIdentityProvider turns provider artifacts into a verified external identity.
type FederatedIdentityProvider interface {
	Name() string
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*domain.ExternalIdentity, error)
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*domain.ExternalIdentity, error)
}
