package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
	"github.com/arklim/community-identity/internal/usecase"
)

const defaultAccountPageSize = 50

// AdminAccountsHandler exposes back-office account management.
// Role and active flag changes happen only through these routes.
type AdminAccountsHandler struct {
	accounts *usecase.AccountService
	logger   *zap.Logger
}

// NewAdminAccountsHandler constructs AdminAccountsHandler.
func NewAdminAccountsHandler(accounts *usecase.AccountService, log *zap.Logger) *AdminAccountsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminAccountsHandler{accounts: accounts, logger: log}
}

// RegisterRoutes binds /admin/accounts routes; the group must already require an admin.
func (h *AdminAccountsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.list)
	r.PATCH("/accounts/:id/active", h.setActive)
	r.PATCH("/accounts/:id/role", h.changeRole)
}

// List godoc
// @Summary List accounts
// @Tags Admin
// @Produce json
// @Param email_prefix query string false "Email prefix"
// @Param role query string false "user or admin"
// @Param active query bool false "Active flag"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} AccountListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/admin/accounts [get]
func (h *AdminAccountsHandler) list(c *gin.Context) {
	filter := domain.AccountFilter{
		EmailPrefix: c.Query("email_prefix"),
		Limit:       defaultAccountPageSize,
	}

	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role := domain.Role(strings.ToLower(raw))
		if !role.Valid() {
			respondInvalidPayload(c, "role must be user or admin")
			return
		}
		filter.Role = &role
	}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondInvalidPayload(c, "active must be a boolean")
			return
		}
		filter.IsActive = &active
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondInvalidPayload(c, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			respondInvalidPayload(c, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	accounts, err := h.accounts.ListAccounts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := AccountListResponse{
		Accounts: make([]AccountResponse, 0, len(accounts)),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	for _, account := range accounts {
		resp.Accounts = append(resp.Accounts, NewAccountResponse(account))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminAccountsHandler) setActive(c *gin.Context) {
	actorID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthenticated)
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "is_active is required")
		return
	}

	account, err := h.accounts.SetActive(c.Request.Context(), actorID, c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountResponse(account))
}

func (h *AdminAccountsHandler) changeRole(c *gin.Context) {
	actorID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthenticated)
		return
	}

	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "role must be user or admin")
		return
	}

	account, err := h.accounts.ChangeRole(c.Request.Context(), actorID, c.Param("id"), domain.Role(req.Role))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountResponse(account))
}
