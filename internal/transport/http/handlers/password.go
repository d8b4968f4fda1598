package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/usecase"
)

const forgotAcknowledgement = "if an account exists for that address, a password reset email is on its way"

// PasswordHandler exposes the forgotten password flow.
type PasswordHandler struct {
	reset  *usecase.PasswordResetService
	logger *zap.Logger
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(reset *usecase.PasswordResetService, log *zap.Logger) *PasswordHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordHandler{reset: reset, logger: log}
}

// RegisterRoutes binds the password routes.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/password/forgot", h.forgot)
	r.POST("/password/reset", h.resetPassword)
}

// Forgot godoc
// @Summary Request a password reset email
// @Description Responds identically whether or not the address is registered.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body EmailAddressRequest true "Account email"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/password/forgot [post]
func (h *PasswordHandler) forgot(c *gin.Context) {
	var req EmailAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "email is required")
		return
	}

	if err := h.reset.RequestReset(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: forgotAcknowledgement})
}

func (h *PasswordHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "token and new_password are required")
		return
	}

	if err := h.reset.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
