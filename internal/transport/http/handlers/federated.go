package handlers

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/infra/security"
	"github.com/arklim/community-identity/internal/usecase"
)

const (
	stateCookieSuffix = "_oidc_state"
	nonceCookieSuffix = "_oidc_nonce"
	rememberCookie    = "_oidc_remember"
	federatedLoginErr = "federated_login_failed"

	defaultStateMaxAge = 10 * time.Minute
)

// FederatedOptions configures browser redirects and the state cookies.
type FederatedOptions struct {
	BaseURL      string
	CookieSecure bool
	CookieMaxAge time.Duration
}

// FederatedHandler drives the OpenID Connect authorization code flow and the ID token exchange.
type FederatedHandler struct {
	provider port.FederatedIdentityProvider
	auth     *usecase.AuthService
	opts     FederatedOptions
	logger   *zap.Logger
}

// NewFederatedHandler constructs FederatedHandler for a single provider.
func NewFederatedHandler(provider port.FederatedIdentityProvider, auth *usecase.AuthService, opts FederatedOptions, log *zap.Logger) *FederatedHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = defaultStateMaxAge
	}
	return &FederatedHandler{provider: provider, auth: auth, opts: opts, logger: log}
}

// RegisterRoutes binds /federated/<provider>/{start,callback,token}.
func (h *FederatedHandler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/federated/" + h.provider.Name())
	group.GET("/start", h.start)
	group.GET("/callback", h.callback)
	group.POST("/token", h.exchangeIDToken)
}

// start stores fresh state and nonce values in HttpOnly cookies and redirects to the provider.
func (h *FederatedHandler) start(c *gin.Context) {
	state, err := security.GenerateSecureToken(32)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	nonce, err := security.GenerateSecureToken(32)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	maxAge := int(h.opts.CookieMaxAge.Seconds())
	h.setCookie(c, h.cookieName(stateCookieSuffix), state, maxAge)
	h.setCookie(c, h.cookieName(nonceCookieSuffix), nonce, maxAge)
	if remember, _ := strconv.ParseBool(c.Query("remember_me")); remember {
		h.setCookie(c, h.cookieName(rememberCookie), "1", maxAge)
	}

	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, nonce))
}

// callback validates state, redeems the code and hands the session to the front-end in the URL fragment.
func (h *FederatedHandler) callback(c *gin.Context) {
	log := logger.WithContext(c.Request.Context(), h.logger).With(zap.String("provider", h.provider.Name()))

	state, _ := c.Cookie(h.cookieName(stateCookieSuffix))
	nonce, _ := c.Cookie(h.cookieName(nonceCookieSuffix))
	remember, _ := c.Cookie(h.cookieName(rememberCookie))
	h.clearCookies(c)

	if errParam := c.Query("error"); errParam != "" {
		log.Info("provider returned an error", zap.String("error", errParam))
		h.redirectFailure(c)
		return
	}

	queryState := c.Query("state")
	if state == "" || nonce == "" || queryState == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(queryState)) != 1 {
		log.Warn("federated callback state mismatch")
		h.redirectFailure(c)
		return
	}

	identity, err := h.provider.Exchange(c.Request.Context(), c.Query("code"), nonce)
	if err != nil {
		log.Warn("federated code exchange failed", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	result, err := h.auth.FederatedLogin(c.Request.Context(), *identity, remember == "1")
	if err != nil {
		log.Warn("federated login rejected", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	fragment := url.Values{}
	fragment.Set("token", result.Session.Token)
	fragment.Set("expires_at", result.Session.ExpiresAt.UTC().Format(time.RFC3339))
	fragment.Set("profile_incomplete", strconv.FormatBool(result.ProfileIncomplete))
	c.Redirect(http.StatusFound, h.opts.BaseURL+"/auth/complete#"+fragment.Encode())
}

// ExchangeIDToken godoc
// @Summary Sign in with a provider ID token
// @Description For clients that obtained an ID token through the provider SDK.
// @Tags Federated
// @Accept json
// @Produce json
// @Param request body IDTokenRequest true "ID token"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/federated/google/token [post]
func (h *FederatedHandler) exchangeIDToken(c *gin.Context) {
	var req IDTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c, "id_token is required")
		return
	}

	identity, err := h.provider.VerifyIDToken(c.Request.Context(), req.IDToken, "")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := h.auth.FederatedLogin(c.Request.Context(), *identity, req.RememberMe)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, newSessionResponse(result.Session, result.Account, result.ProfileIncomplete))
}

func (h *FederatedHandler) redirectFailure(c *gin.Context) {
	c.Redirect(http.StatusFound, h.opts.BaseURL+"/login?error="+federatedLoginErr)
}

func (h *FederatedHandler) cookieName(suffix string) string {
	return h.provider.Name() + suffix
}

func (h *FederatedHandler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", h.opts.CookieSecure, true)
}

func (h *FederatedHandler) clearCookies(c *gin.Context) {
	for _, suffix := range []string{stateCookieSuffix, nonceCookieSuffix, rememberCookie} {
		h.setCookie(c, h.cookieName(suffix), "", -1)
	}
}
