package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/usecase"
)

const resendAcknowledgement = "if the address belongs to an unverified account, a new verification email is on its way"

// RegistrationHandler exposes sign-up and email verification endpoints.
type RegistrationHandler struct {
	registration *usecase.RegistrationService
	logger       *zap.Logger
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registration *usecase.RegistrationService, log *zap.Logger) *RegistrationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationHandler{registration: registration, logger: log}
}

// RegisterRoutes binds registration routes, applying optional middleware ahead of the sign-up handler.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup, registerMiddlewares ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{}, registerMiddlewares...)
	r.POST("/register", append(chain, h.register)...)
	r.POST("/verify-email", h.verifyEmail)
	r.POST("/verify-email/resend", h.resendVerification)
}

// Register godoc
// @Summary Register a new member account
// @Description Creates an unverified account and emails a verification link.
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/register [post]
func (h *RegistrationHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "invalid registration payload")
		return
	}

	account, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		Account: NewAccountResponse(account),
		Message: "verification email sent",
	})
}

func (h *RegistrationHandler) verifyEmail(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "token is required")
		return
	}

	account, err := h.registration.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, NewAccountResponse(account))
}

// resendVerification always acknowledges so the response does not reveal whether an account exists.
func (h *RegistrationHandler) resendVerification(c *gin.Context) {
	var req EmailAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "email is required")
		return
	}

	if err := h.registration.ResendVerification(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: resendAcknowledgement})
}
