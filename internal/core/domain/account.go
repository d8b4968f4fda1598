package domain

import (
	"strings"
	"time"
)

// Role enumerates the two authorization levels known to the platform.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// VerificationState tracks whether the account owner proved control of the email address.
type VerificationState string

const (
	VerificationUnverified VerificationState = "unverified"
	VerificationVerified   VerificationState = "verified"
)

// FederatedIdentity references the subject of an external identity provider.
type FederatedIdentity struct {
	Provider string
	Subject  string
}

// Matches reports whether other refers to the same provider subject.
func (f FederatedIdentity) Matches(other FederatedIdentity) bool {
	return f.Provider == other.Provider && f.Subject == other.Subject
}

// ProfileFields holds the community profile attributes collected after sign-up.
type ProfileFields struct {
	DisplayName   string
	ContactNumber string
	DateOfBirth   *time.Time
	Locality      string
}

// Complete reports whether every field required for full access is present.
func (p ProfileFields) Complete() bool {
	return strings.TrimSpace(p.ContactNumber) != "" &&
		p.DateOfBirth != nil && !p.DateOfBirth.IsZero() &&
		strings.TrimSpace(p.Locality) != ""
}

// Merge overlays non-empty values from patch onto p.
func (p ProfileFields) Merge(patch ProfileFields) ProfileFields {
	out := p
	if v := strings.TrimSpace(patch.DisplayName); v != "" {
		out.DisplayName = v
	}
	if v := strings.TrimSpace(patch.ContactNumber); v != "" {
		out.ContactNumber = v
	}
	if patch.DateOfBirth != nil && !patch.DateOfBirth.IsZero() {
		dob := patch.DateOfBirth.UTC()
		out.DateOfBirth = &dob
	}
	if v := strings.TrimSpace(patch.Locality); v != "" {
		out.Locality = v
	}
	return out
}

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                string
	Email             string
	PasswordHash      *string
	Federated         *FederatedIdentity
	Role              Role
	VerificationState VerificationState
	Profile           ProfileFields
	ProfileComplete   bool
	IsActive          bool
	CredentialVersion int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastLoginAt       *time.Time
}

// HasPassword reports whether a local password has been set.
func (a Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// IsVerified reports whether the email address has been confirmed.
func (a Account) IsVerified() bool {
	return a.VerificationState == VerificationVerified
}

// IsAdmin reports whether the account carries the admin role.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Sanitized returns a copy without credential material, safe to hand to transports.
func (a Account) Sanitized() Account {
	out := a
	out.PasswordHash = nil
	return out
}

// NormalizeEmail canonicalises an address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExternalIdentity is an identity already proven by a federated provider.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	ProfileHints  ProfileFields
}

// FederatedIdentity returns the provider reference carried by the identity.
func (e ExternalIdentity) FederatedIdentity() FederatedIdentity {
	return FederatedIdentity{Provider: e.Provider, Subject: e.Subject}
}

// AccountFilter narrows administrative account listings.
type AccountFilter struct {
	EmailPrefix string
	Role        *Role
	IsActive    *bool
	Limit       int
	Offset      int
}
