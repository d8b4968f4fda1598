package domain

import "time"

// SessionTTLClass selects the lifetime baked into a session credential at issuance.
type SessionTTLClass string

const (
	SessionDefault  SessionTTLClass = "default"
	SessionExtended SessionTTLClass = "extended"
)

// Session is a signed, stateless bearer credential together with its decoded facts.
type Session struct {
	Token     string
	AccountID string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	TTLClass  SessionTTLClass
}

// Principal is the verified identity attached to an inbound request.
type Principal struct {
	AccountID         string
	Role              Role
	CredentialVersion int64
	ExpiresAt         time.Time
	TokenID           string
}

// IsAdmin reports whether the principal's credential carries the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
