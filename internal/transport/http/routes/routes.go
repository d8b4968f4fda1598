package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
	"github.com/arklim/community-identity/internal/transport/http/handlers"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
	"github.com/arklim/community-identity/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth          *usecase.AuthService
	Registration  *usecase.RegistrationService
	PasswordReset *usecase.PasswordResetService
	Accounts      *usecase.AccountService
	Guard         *usecase.AbuseGuard
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Services    ServiceSet
	Federated   port.FederatedIdentityProvider
	HTTPMetrics *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Database    Pinger
	Cache       Pinger
}

// Pinger exposes readiness behaviour for a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(deps.HTTPMetrics.Handler())
	if len(deps.Config.App.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler(log)
	if deps.Database != nil {
		healthHandler.WithReadinessCheck("database", deps.Database.Ping)
	}
	if deps.Cache != nil {
		healthHandler.WithReadinessCheck("redis", deps.Cache.Ping)
	}

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsHandler := promhttp.Handler()
	if deps.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	services := deps.Services
	requireSession := middleware.RequireSession(services.Auth)
	requireAdmin := middleware.RequireAdmin(services.Auth, log)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		handlers.NewAuthHandler(services.Auth, log).RegisterRoutes(authGroup, requireSession)

		var guard middleware.AttemptGuard
		if services.Guard != nil {
			guard = services.Guard
		}
		limiter := middleware.NewRateLimiter(guard, log)
		handlers.NewRegistrationHandler(services.Registration, log).
			RegisterRoutes(authGroup, limiter.Limit(usecase.EndpointRegister, middleware.ClientIPIdentifier()))

		handlers.NewPasswordHandler(services.PasswordReset, log).RegisterRoutes(authGroup)

		if deps.Federated != nil {
			handlers.NewFederatedHandler(deps.Federated, services.Auth, handlers.FederatedOptions{
				BaseURL:      deps.Config.Links.BaseURL,
				CookieSecure: deps.Config.Federated.StateCookieSecure,
				CookieMaxAge: deps.Config.Federated.StateCookieMaxAge,
			}, log).RegisterRoutes(authGroup)
		}

		meGroup := api.Group("/me")
		meGroup.Use(requireSession)
		handlers.NewProfileHandler(services.Auth, services.Accounts, log).RegisterRoutes(meGroup)

		adminGroup := api.Group("/admin")
		adminGroup.Use(requireSession, requireAdmin)
		handlers.NewAdminAccountsHandler(services.Accounts, log).RegisterRoutes(adminGroup)
	}

	return r
}
