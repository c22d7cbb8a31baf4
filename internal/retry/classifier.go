package retry

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aristath/dirigent/internal/model"
)

// Strategy names what to do about a failed execution.
type Strategy string

const (
	SameBackend   Strategy = "same_backend"   // Retry on the same backend
	SwitchBackend Strategy = "switch_backend" // Retry on a different backend
	Escalate      Strategy = "escalate"       // Stop retrying, ask a human
)

// Decision is the classifier's verdict for one failed execution.
// Deterministic given the same inputs, except for the explicit jitter term
// in Delay.
type Decision struct {
	ShouldRetry bool
	Strategy    Strategy
	Reason      string
	Delay       time.Duration
}

// Pattern maps an error fingerprint to a strategy. Matching is a
// case-insensitive substring test against code + message + signature;
// the first matching pattern wins.
type Pattern struct {
	Name     string
	Match    []string
	Strategy Strategy
	Reason   string
}

// builtinPatterns is the ordered default rule set. Transient failures retry
// in place, capability limits switch backends, and anything needing account
// or policy intervention escalates.
var builtinPatterns = []Pattern{
	{
		Name:     "rate-limit",
		Match:    []string{"429", "rate limit", "too many requests", "overloaded"},
		Strategy: SameBackend,
		Reason:   "rate limited; backing off on the same backend",
	},
	{
		Name:     "server-error",
		Match:    []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"},
		Strategy: SameBackend,
		Reason:   "transient server error",
	},
	{
		Name:     "network",
		Match:    []string{"timeout", "timed out", "connection reset", "connection refused", "econnreset", "network", "dns"},
		Strategy: SameBackend,
		Reason:   "transient network error",
	},
	{
		Name:     "context-length",
		Match:    []string{"context length", "context_length", "maximum context", "token limit", "prompt too long"},
		Strategy: SwitchBackend,
		Reason:   "input exceeds backend context window",
	},
	{
		Name:     "unsupported-feature",
		Match:    []string{"unsupported", "not supported", "unknown model", "invalid model"},
		Strategy: SwitchBackend,
		Reason:   "backend does not support the request",
	},
	{
		Name:     "auth",
		Match:    []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication"},
		Strategy: Escalate,
		Reason:   "authentication or permission failure needs operator attention",
	},
	{
		Name:     "content-policy",
		Match:    []string{"content policy", "content_policy", "policy violation", "refused by safety"},
		Strategy: Escalate,
		Reason:   "request rejected by content policy",
	},
	{
		Name:     "billing",
		Match:    []string{"billing", "quota exceeded", "insufficient credit", "payment required", "402"},
		Strategy: Escalate,
		Reason:   "account or billing problem",
	},
}

// BackoffConfig shapes the retry delay schedule.
type BackoffConfig struct {
	BaseDelay    time.Duration // default 500ms
	MaxDelay     time.Duration // default 30s
	JitterFactor float64       // default 0.25
}

// DefaultBackoffConfig returns the default delay schedule.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// Classifier maps execution errors to retry decisions. Custom patterns
// registered at runtime take precedence over built-ins.
type Classifier struct {
	mu       sync.RWMutex
	patterns []Pattern
	backoff  BackoffConfig
	rng      func() float64 // injectable for deterministic tests
}

// NewClassifier creates a Classifier with the built-in pattern set.
func NewClassifier(cfg BackoffConfig) *Classifier {
	def := DefaultBackoffConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = def.JitterFactor
	}
	return &Classifier{
		patterns: append([]Pattern(nil), builtinPatterns...),
		backoff:  cfg,
		rng:      rand.Float64,
	}
}

// RegisterPattern prepends a custom pattern so it outranks the built-ins.
func (c *Classifier) RegisterPattern(p Pattern) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append([]Pattern{p}, c.patterns...)
}

// Decide classifies a failed execution. Order: retries exhausted and
// non-recoverable errors force escalation before any pattern is consulted,
// so a pattern can force escalation for a recoverable error but can never
// make a non-recoverable one retryable.
func (c *Classifier) Decide(item *model.WorkItem, execErr *model.ExecutionError) Decision {
	if item.RetryCount >= item.MaxRetries {
		return Decision{
			Strategy: Escalate,
			Reason:   fmt.Sprintf("retries exhausted (%d/%d)", item.RetryCount, item.MaxRetries),
		}
	}

	if !execErr.Recoverable {
		return Decision{
			Strategy: Escalate,
			Reason:   "error marked non-recoverable: " + execErr.Message,
		}
	}

	if p, ok := c.match(execErr); ok {
		return c.apply(p.Strategy, fmt.Sprintf("matched pattern %q: %s", p.Name, p.Reason), item)
	}

	if s, ok := parseStrategy(execErr.SuggestedAction); ok {
		return c.apply(s, "engine suggested action "+execErr.SuggestedAction, item)
	}

	return c.apply(SameBackend, "no pattern matched; defaulting to retry on same backend", item)
}

// Delay computes the backoff before the given attempt:
// min(maxDelay, baseDelay * 2^attempt) * (1 + jitterFactor * random()).
// Strictly increasing in expectation with attempt, capped at
// maxDelay * (1 + jitterFactor).
func (c *Classifier) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := c.backoff.BaseDelay
	// Cap the shift so the doubling cannot overflow int64 nanoseconds.
	if attempt > 32 {
		attempt = 32
	}
	d := base << uint(attempt)
	if d <= 0 || d > c.backoff.MaxDelay {
		d = c.backoff.MaxDelay
	}
	jittered := float64(d) * (1 + c.backoff.JitterFactor*c.rng())
	return time.Duration(jittered)
}

func (c *Classifier) apply(s Strategy, reason string, item *model.WorkItem) Decision {
	d := Decision{Strategy: s, Reason: reason}
	if s != Escalate {
		d.ShouldRetry = true
		d.Delay = c.Delay(item.RetryCount)
	}
	return d
}

func (c *Classifier) match(execErr *model.ExecutionError) (Pattern, bool) {
	haystack := strings.ToLower(execErr.Code + " " + execErr.Message + " " + execErr.Signature)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.patterns {
		for _, needle := range p.Match {
			if strings.Contains(haystack, strings.ToLower(needle)) {
				return p, true
			}
		}
	}
	return Pattern{}, false
}

func parseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case SameBackend, SwitchBackend, Escalate:
		return Strategy(s), true
	}
	return "", false
}
