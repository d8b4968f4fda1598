package port

import "github.com/arklim/community-identity/internal/core/domain"

// PasswordHasher hashes and verifies secrets using the configured algorithm.
// Verify reports false for mismatches and for digests it cannot parse.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) bool
}

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}

// SessionIssuer mints and verifies signed session credentials.
type SessionIssuer interface {
	Issue(accountID string, role domain.Role, credentialVersion int64, extended bool) (domain.Session, error)
	Verify(token string) (domain.Principal, error)
}
