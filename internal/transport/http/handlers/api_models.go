package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
)

const dateLayout = "2006-01-02"

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRequest is the payload for password sign-up.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name" binding:"max=80"`
}

// RegisterResponse acknowledges a new, still unverified account.
type RegisterResponse struct {
	Account AccountResponse `json:"account"`
	Message string          `json:"message"`
}

// LoginRequest is shared by the member and admin login endpoints.
type LoginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

// TokenRequest carries a single-use token from an emailed link.
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// EmailAddressRequest names the account for resend and forgot-password flows.
type EmailAddressRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResetPasswordRequest redeems a reset token.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// IDTokenRequest exchanges a provider ID token obtained by a client SDK.
type IDTokenRequest struct {
	IDToken    string `json:"id_token" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

// UpdateProfileRequest patches profile fields; empty fields are left unchanged.
type UpdateProfileRequest struct {
	DisplayName   string `json:"display_name" binding:"max=80"`
	ContactNumber string `json:"contact_number" binding:"max=32"`
	DateOfBirth   string `json:"date_of_birth"`
	Locality      string `json:"locality" binding:"max=120"`
}

// SetActiveRequest toggles an account's active flag.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// ChangeRoleRequest assigns a role.
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=user admin"`
}

// AccountResponse is the transport view of an account. It never carries credential material.
type AccountResponse struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Role              string     `json:"role"`
	EmailVerified     bool       `json:"email_verified"`
	IsActive          bool       `json:"is_active"`
	ProfileComplete   bool       `json:"profile_complete"`
	DisplayName       string     `json:"display_name,omitempty"`
	ContactNumber     string     `json:"contact_number,omitempty"`
	DateOfBirth       string     `json:"date_of_birth,omitempty"`
	Locality          string     `json:"locality,omitempty"`
	FederatedProvider string     `json:"federated_provider,omitempty"`
	HasPassword       bool       `json:"has_password"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
}

// NewAccountResponse converts a domain account for the wire.
func NewAccountResponse(account domain.Account) AccountResponse {
	resp := AccountResponse{
		ID:              account.ID,
		Email:           account.Email,
		Role:            string(account.Role),
		EmailVerified:   account.IsVerified(),
		IsActive:        account.IsActive,
		ProfileComplete: account.ProfileComplete,
		DisplayName:     account.Profile.DisplayName,
		ContactNumber:   account.Profile.ContactNumber,
		Locality:        account.Profile.Locality,
		HasPassword:     account.HasPassword(),
		CreatedAt:       account.CreatedAt,
		LastLoginAt:     account.LastLoginAt,
	}
	if account.Profile.DateOfBirth != nil {
		resp.DateOfBirth = account.Profile.DateOfBirth.Format(dateLayout)
	}
	if account.Federated != nil {
		resp.FederatedProvider = account.Federated.Provider
	}
	return resp
}

// SessionResponse returns a freshly issued session credential.
type SessionResponse struct {
	AccessToken       string          `json:"access_token"`
	TokenType         string          `json:"token_type"`
	ExpiresAt         time.Time       `json:"expires_at"`
	ExpiresIn         int64           `json:"expires_in"`
	ProfileIncomplete bool            `json:"profile_incomplete"`
	Account           AccountResponse `json:"account"`
}

func newSessionResponse(session domain.Session, account domain.Account, profileIncomplete bool) SessionResponse {
	return SessionResponse{
		AccessToken:       session.Token,
		TokenType:         "Bearer",
		ExpiresAt:         session.ExpiresAt,
		ExpiresIn:         int64(session.ExpiresAt.Sub(session.IssuedAt).Seconds()),
		ProfileIncomplete: profileIncomplete,
		Account:           NewAccountResponse(account),
	}
}

// AccountListResponse is a page of accounts for administrators.
type AccountListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse reports dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}
