package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
)

// Machine readable codes for errors clients branch on.
const (
	CodeEmailNotVerified = "email_not_verified"
	CodeAccountDisabled  = "account_disabled"
	CodeInvalidLink      = "invalid_link"
	CodePasswordPolicy   = "password_policy"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
// An empty Message echoes the error text, for validation failures whose detail is safe to show.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
	Code    string
}

// domainErrorCases is the shared mapping of the identity error taxonomy.
// Token failures collapse into one message so callers cannot probe token state.
var domainErrorCases = []ErrorCase{
	{Err: domain.ErrTokenNotFound, Status: http.StatusBadRequest, Message: "invalid or expired link", Code: CodeInvalidLink},
	{Err: domain.ErrTokenExpired, Status: http.StatusBadRequest, Message: "invalid or expired link", Code: CodeInvalidLink},
	{Err: domain.ErrTokenAlreadyConsumed, Status: http.StatusBadRequest, Message: "invalid or expired link", Code: CodeInvalidLink},
	{Err: domain.ErrPasswordPolicy, Status: http.StatusBadRequest, Code: CodePasswordPolicy},
	{Err: domain.ErrInvalidInput, Status: http.StatusBadRequest},
	{Err: domain.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
	{Err: domain.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "unauthenticated"},
	{Err: domain.ErrNotVerified, Status: http.StatusForbidden, Message: "email address not verified", Code: CodeEmailNotVerified},
	{Err: domain.ErrAccountDisabled, Status: http.StatusForbidden, Message: "account disabled", Code: CodeAccountDisabled},
	{Err: domain.ErrForbidden, Status: http.StatusForbidden, Message: "forbidden"},
	{Err: domain.ErrDuplicateEmail, Status: http.StatusConflict, Message: "email already registered"},
	{Err: domain.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var throttled *domain.ThrottledError
	if errors.As(err, &throttled) {
		middleware.RespondThrottled(c, throttled)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil || !errors.Is(err, cs.Err) {
			continue
		}
		resp := NewErrorResponse(c, cs.Message)
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		resp.Code = cs.Code
		c.AbortWithStatusJSON(cs.Status, resp)
		return
	}

	c.AbortWithStatusJSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondError maps err through the shared table, logging anything that falls through as a server error.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	if !isMapped(err) {
		logger.WithContext(c.Request.Context(), log).Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
	}
	RespondWithMappedError(c, err, domainErrorCases, http.StatusInternalServerError, "internal server error")
}

func isMapped(err error) bool {
	if errors.Is(err, domain.ErrThrottled) {
		return true
	}
	for _, cs := range domainErrorCases {
		if errors.Is(err, cs.Err) {
			return true
		}
	}
	return false
}

func respondInvalidPayload(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse(c, message))
}
