package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, missing password and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotVerified indicates the email address has not been confirmed yet.
	ErrNotVerified = errors.New("account not verified")
	// ErrAccountDisabled indicates the account was deactivated.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrForbidden indicates the caller is authenticated but lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated indicates a missing, malformed, expired or forged session credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrDuplicateEmail indicates another account already owns the email address.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTokenNotFound indicates no live token matches the presented value.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExpired indicates the token exists but its validity window elapsed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenAlreadyConsumed indicates the token was already redeemed.
	ErrTokenAlreadyConsumed = errors.New("token already consumed")
	// ErrThrottled is matched by every *ThrottledError.
	ErrThrottled = errors.New("too many attempts")
	// ErrAccountNotFound indicates an unknown account identifier.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidInput indicates the request payload failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy indicates the password does not satisfy complexity requirements.
	ErrPasswordPolicy = errors.New("password does not meet complexity requirements")
)

// ThrottledError reports an exhausted attempt budget and the remaining cool-down.
type ThrottledError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: too many attempts, retry after %s", e.Endpoint, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrThrottled) match any throttling error.
func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}

// IsTokenError reports whether err belongs to the opaque token family.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyConsumed)
}
