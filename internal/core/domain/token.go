package domain

import "time"

// TokenPurpose scopes an opaque token to a single flow.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// OpaqueToken is a single-use, time-limited token persisted only as a hash.
type OpaqueToken struct {
	ID         string
	AccountID  string
	TokenHash  string
	Purpose    TokenPurpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	RevokedAt  *time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t OpaqueToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsConsumed reports whether the token was already redeemed.
func (t OpaqueToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsRevoked reports whether the token was superseded by a newer one.
func (t OpaqueToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsLive returns true when the token can still be redeemed.
func (t OpaqueToken) IsLive(at time.Time) bool {
	return !t.IsConsumed() && !t.IsRevoked() && !t.IsExpired(at)
}

// Consume marks the token as redeemed.
// Returns true when the token transitions from unused to used.
func (t *OpaqueToken) Consume(at time.Time) bool {
	if t.ConsumedAt != nil {
		return false
	}
	timeCopy := at
	t.ConsumedAt = &timeCopy
	return true
}

// Revoke marks the token as superseded.
func (t *OpaqueToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	return true
}
