package domain

import "time"

// EmailKind selects the template the mailer renders for an EmailRequest.
type EmailKind string

const (
	EmailVerification    EmailKind = "email_verification"
	EmailPasswordReset   EmailKind = "password_reset"
	EmailWelcome         EmailKind = "welcome"
	EmailPasswordChanged EmailKind = "password_changed"
)

// EmailRequest is the fire-and-forget contract handed to the mail delivery collaborator.
// Token and Link are empty for purely informational notifications.
type EmailRequest struct {
	EventID        string
	Kind           EmailKind
	RecipientEmail string
	RecipientName  string
	AccountID      string
	Token          string
	Purpose        TokenPurpose
	Link           string
	ExpiresAt      *time.Time
	RequestedAt    time.Time
}

// AccountRegisteredEvent represents the payload for account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	AccountID    string
	Email        string
	Method       string
	Verification VerificationState
	RegisteredAt time.Time
}

// PasswordChangedEvent represents the payload for account.password.changed messages.
type PasswordChangedEvent struct {
	EventID           string
	AccountID         string
	ChangedAt         time.Time
	CredentialVersion int64
	Reason            string
}

// AccountStatusChangedEvent is emitted for administrative activation and role changes.
type AccountStatusChangedEvent struct {
	EventID   string
	AccountID string
	ActorID   string
	IsActive  bool
	Role      Role
	ChangedAt time.Time
}
