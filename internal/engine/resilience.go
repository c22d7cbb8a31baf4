package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/dirigent/internal/model"
)

// RetryConfig configures transport-level retry behavior for engine calls.
// This is distinct from the work-item retry classifier: the classifier owns
// semantic retry decisions, this wrapper only smooths over flaky transports.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default transport retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry manages per-backend circuit breakers.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given backend, creating it on
// first use.
func (r *BreakerRegistry) Get(backend string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[backend]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backend,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Don't count caller cancellation as backend failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[backend] = cb
	return cb
}

// Resilient wraps an Engine with per-backend circuit breaking and
// exponential-backoff retry of transport errors. An open circuit is not an
// error return: it becomes a structured execution failure suggesting a
// backend switch, so the retry classifier can route it.
type Resilient struct {
	inner    Engine
	breakers *BreakerRegistry
	cfg      RetryConfig
}

// NewResilient wraps an engine. Zero-valued config fields use defaults.
func NewResilient(inner Engine, cfg RetryConfig) *Resilient {
	def := DefaultRetryConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.RandomizationFactor < 0 {
		cfg.RandomizationFactor = def.RandomizationFactor
	}
	return &Resilient{inner: inner, breakers: NewBreakerRegistry(), cfg: cfg}
}

// Execute runs the inner engine through the backend's circuit breaker with
// retry on transport errors.
func (r *Resilient) Execute(ctx context.Context, item *model.WorkItem, req Request) (*Result, error) {
	cb := r.breakers.Get(req.Backend)
	var result *Result

	operation := func() error {
		// Check context first - fail fast if cancelled.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := cb.Execute(func() (interface{}, error) {
			return r.inner.Execute(ctx, item, req)
		})

		if err != nil {
			// Circuit is open - don't retry here.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}

		result = out.(*Result)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	policy.MaxElapsedTime = r.cfg.MaxElapsedTime
	policy.Multiplier = r.cfg.Multiplier
	policy.RandomizationFactor = r.cfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &Result{
				Success: false,
				Err: &model.ExecutionError{
					Code:            "circuit_open",
					Message:         "backend " + req.Backend + " circuit breaker is open",
					Recoverable:     true,
					SuggestedAction: "switch_backend",
				},
			}, nil
		}
		return nil, err
	}

	return result, nil
}

// Abort passes through to the inner engine.
func (r *Resilient) Abort(runID string) error {
	return r.inner.Abort(runID)
}
