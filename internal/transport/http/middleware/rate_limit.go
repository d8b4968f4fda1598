package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/usecase"
)

const (
	throttledProblemType  = "https://identity.community.example/problems/too-many-attempts"
	throttledProblemTitle = "Too Many Attempts"
)

// AttemptGuard is the subset of the abuse guard the middleware needs.
type AttemptGuard interface {
	Check(ctx context.Context, endpoint, key string) (usecase.Decision, error)
}

// IdentifierFunc extracts the key used to scope an attempt budget (e.g. client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// ProblemDetails represents an RFC 9457 compatible error payload for throttled requests.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// RateLimiter applies abuse guard budgets to whole routes, ahead of the handler.
type RateLimiter struct {
	guard  AttemptGuard
	logger *zap.Logger
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(guard AttemptGuard, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{guard: guard, logger: log}
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// Limit returns a Gin middleware charging one attempt against endpoint for the extracted key.
// Guard failures other than throttling let the request through.
func (rl *RateLimiter) Limit(endpoint string, identifier IdentifierFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.guard == nil || identifier == nil {
			c.Next()
			return
		}

		key, ok := identifier(c)
		if !ok || key == "" {
			c.Next()
			return
		}

		decision, err := rl.guard.Check(c.Request.Context(), endpoint, key)
		if err != nil {
			var throttled *domain.ThrottledError
			if errors.As(err, &throttled) {
				RespondThrottled(c, throttled)
				return
			}
			logger.WithContext(c.Request.Context(), rl.logger).Warn("rate limit check failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if decision.Remaining >= 0 {
			c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		c.Next()
	}
}

// RespondThrottled aborts with a 429 problem document and a Retry-After header.
func RespondThrottled(c *gin.Context, throttled *domain.ThrottledError) {
	retrySeconds := retryAfterSeconds(throttled.RetryAfter)
	c.Writer.Header().Set("Retry-After", strconv.Itoa(retrySeconds))

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       throttledProblemType,
		Title:      throttledProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many attempts. Try again in %d seconds.", retrySeconds),
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
		Extensions: map[string]any{"endpoint": throttled.Endpoint},
	})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
