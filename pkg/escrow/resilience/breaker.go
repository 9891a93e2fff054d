// Package resilience wraps the external-facing operations (custody calls,
// audit-sink writes, notification dispatch) with circuit breakers and
// pre-configured retry policies (§4.9).
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
)

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// Registry holds the named circuit breakers the orchestrator depends on.
// It is constructed explicitly and injected — never a package-level
// singleton — so tests can swap in breakers with tight thresholds.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// DefaultConfigs returns the three breakers named in §4.9: custody (5
// failures / 60s recovery), audit-sink (10 failures / 30s recovery), and
// notification (3 failures / 120s recovery).
func DefaultConfigs() []BreakerConfig {
	return []BreakerConfig{
		{Name: "custody", FailureThreshold: 5, RecoveryTimeout: 60 * time.Second},
		{Name: "audit_sink", FailureThreshold: 10, RecoveryTimeout: 30 * time.Second},
		{Name: "notification", FailureThreshold: 3, RecoveryTimeout: 120 * time.Second},
	}
}

// NewRegistry builds a Registry from configs. Each breaker trips on
// consecutive-failure count (matching the original count-based threshold,
// not a request-ratio threshold) and requires two consecutive successes in
// HALF_OPEN before closing again.
func NewRegistry(configs []BreakerConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{logger: logger}
	r.breakers = buildBreakers(configs, logger)
	return r
}

func buildBreakers(configs []BreakerConfig, logger *zap.Logger) map[string]*gobreaker.CircuitBreaker {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(configs))
	for _, cfg := range configs {
		cfg := cfg
		settings := gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 2,
			Interval:    0,
			Timeout:     cfg.RecoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("circuit breaker state change",
					zap.String("circuit", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}
		breakers[cfg.Name] = gobreaker.NewCircuitBreaker(settings)
	}
	return breakers
}

// Rebuild replaces every breaker with a fresh one built from configs,
// resetting accumulated failure counts. In-flight Execute calls finish
// against the breaker they started with; only subsequent calls observe the
// new thresholds. Used by the config hot-reload path (§6) for
// resilience-threshold changes, which are safe to apply without a restart.
func (r *Registry) Rebuild(configs []BreakerConfig) {
	breakers := buildBreakers(configs, r.logger)
	r.mu.Lock()
	r.breakers = breakers
	r.mu.Unlock()
}

// Execute runs fn through the named breaker, translating an open-circuit
// rejection into ErrorTypeCircuitOpen.
func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return fn(ctx)
	}

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.NewCircuitOpenError(name)
	}
	return err
}

// State reports the current state of the named breaker, or "" if unknown.
func (r *Registry) State(name string) string {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return ""
	}
	return cb.State().String()
}
