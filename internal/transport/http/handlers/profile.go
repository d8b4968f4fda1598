package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
	"github.com/arklim/community-identity/internal/usecase"
)

// ProfileHandler serves the signed-in member's own account.
type ProfileHandler struct {
	auth     *usecase.AuthService
	accounts *usecase.AccountService
	logger   *zap.Logger
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(auth *usecase.AuthService, accounts *usecase.AccountService, log *zap.Logger) *ProfileHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileHandler{auth: auth, accounts: accounts, logger: log}
}

// RegisterRoutes binds /me routes; the group must already require a session.
func (h *ProfileHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.me)
	r.PUT("/profile", h.updateProfile)
}

func (h *ProfileHandler) me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthenticated)
		return
	}

	account, err := h.auth.CurrentAccount(c.Request.Context(), principal)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountResponse(account))
}

// UpdateProfile godoc
// @Summary Complete or update the member profile
// @Description Merges the supplied fields; profile_complete flips once contact number, date of birth and locality are present.
// @Tags Profile
// @Accept json
// @Produce json
// @Param request body UpdateProfileRequest true "Profile fields"
// @Success 200 {object} AccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/me/profile [put]
func (h *ProfileHandler) updateProfile(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthenticated)
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "invalid profile payload")
		return
	}

	patch := domain.ProfileFields{
		DisplayName:   req.DisplayName,
		ContactNumber: req.ContactNumber,
		Locality:      req.Locality,
	}
	if raw := strings.TrimSpace(req.DateOfBirth); raw != "" {
		dob, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondInvalidPayload(c, "date_of_birth must be formatted as YYYY-MM-DD")
			return
		}
		patch.DateOfBirth = &dob
	}

	// Disabled or deleted accounts keep their unexpired credentials; refuse them here.
	if _, err := h.auth.CurrentAccount(c.Request.Context(), principal); err != nil {
		respondError(c, h.logger, err)
		return
	}

	account, err := h.accounts.CompleteProfile(c.Request.Context(), principal.AccountID, patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountResponse(account.Sanitized()))
}
