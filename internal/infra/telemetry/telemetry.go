package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the authentication counters.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeThrottled = "throttled"
)

// Metrics holds the authentication outcome collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	authAttempts *prometheus.CounterVec
	tokensIssued *prometheus.CounterVec
	throttled    *prometheus.CounterVec
}

// NewMetrics registers the authentication collectors with reg, reusing collectors already registered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Name:      "auth_attempts_total",
		Help:      "Authentication attempts partitioned by flow and outcome.",
	}, "flow", "outcome")
	if err != nil {
		return nil, err
	}

	issued, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Name:      "tokens_issued_total",
		Help:      "Single-use tokens issued partitioned by purpose.",
	}, "purpose")
	if err != nil {
		return nil, err
	}

	throttled, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Name:      "rate_limit_throttled_total",
		Help:      "Requests rejected by the abuse guard partitioned by endpoint.",
	}, "endpoint")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		authAttempts: attempts,
		tokensIssued: issued,
		throttled:    throttled,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return vec, nil
}

// ObserveAuth counts one authentication attempt for flow.
func (m *Metrics) ObserveAuth(flow, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(flow, outcome).Inc()
}

// ObserveTokenIssued counts one issued single-use token.
func (m *Metrics) ObserveTokenIssued(purpose string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(purpose).Inc()
}

// ObserveThrottled counts one rejected attempt.
func (m *Metrics) ObserveThrottled(endpoint string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(endpoint).Inc()
}
