package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
	"github.com/arklim/community-identity/internal/usecase"
)

// AuthHandler exposes password login and logout endpoints.
type AuthHandler struct {
	auth   *usecase.AuthService
	logger *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: log}
}

// RegisterRoutes binds authentication routes. requireSession guards logout.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireSession gin.HandlerFunc) {
	r.POST("/login", h.login)
	r.POST("/admin/login", h.adminLogin)
	r.POST("/logout", requireSession, h.logout)
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Issues a session credential. remember_me selects the extended lifetime.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "email and password are required")
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(result.Session, result.Account, result.ProfileIncomplete))
}

// AdminLogin godoc
// @Summary Authenticate an administrator
// @Description Same as login, but only accounts holding the admin role receive a credential.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/admin/login [post]
func (h *AuthHandler) adminLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "email and password are required")
		return
	}

	result, err := h.auth.AdminLogin(c.Request.Context(), usecase.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(result.Session, result.Account, result.ProfileIncomplete))
}

// Logout acknowledges the end of a session. Credentials are stateless, so the
// client discards its token and nothing is revoked server side.
func (h *AuthHandler) logout(c *gin.Context) {
	if principal, ok := middleware.GetPrincipal(c); ok {
		logger.WithContext(c.Request.Context(), h.logger).Info("logout",
			zap.String("account_id", principal.AccountID),
		)
	}
	c.Status(http.StatusNoContent)
}
