package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireSession validates the bearer session credential and stores the principal on the context.
func RequireSession(auth *usecase.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		principal, err := auth.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "unauthenticated"))
			return
		}

		c.Set(AccountIDKey, principal.AccountID)
		c.Set(PrincipalKey, principal)
		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountID = principal.AccountID
		}

		c.Next()
	}
}

// RequireAdmin must run after RequireSession. The role claim is checked first,
// then the live account is re-read so deactivation, demotion and password changes
// take effect before the credential expires.
func RequireAdmin(auth *usecase.AuthService, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "unauthenticated"))
			return
		}
		if !principal.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "forbidden"))
			return
		}

		if _, err := auth.AuthorizeAdmin(c.Request.Context(), principal); err != nil {
			switch {
			case errors.Is(err, domain.ErrUnauthenticated):
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "unauthenticated"))
			case errors.Is(err, domain.ErrForbidden):
				c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "forbidden"))
			default:
				logger.WithContext(c.Request.Context(), log).Error("admin authorization failed",
					zap.String("account_id", principal.AccountID),
					zap.Error(err),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authorization failed"))
			}
			return
		}

		c.Next()
	}
}

// GetPrincipal returns the principal stored by RequireSession.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, exists := c.Get(PrincipalKey)
	if !exists {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}

// GetAuthenticatedAccountID extracts the authenticated account ID from the context.
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	accountID, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}
	id, ok := accountID.(string)
	return id, ok && id != ""
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "unauthenticated"))
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "unauthenticated"))
		return "", false
	}
	return token, true
}
