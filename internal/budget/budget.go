package budget

import (
	"context"
	"fmt"

	"github.com/aristath/dirigent/internal/model"
)

// Level classifies how close a goal's spend is to its limits.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelCritical
	LevelExceeded
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelExceeded:
		return "exceeded"
	default:
		return "none"
	}
}

// Thresholds are spend/limit ratios at which each level triggers.
type Thresholds struct {
	Warning  float64 // default 0.80
	Critical float64 // default 0.95
	Exceeded float64 // default 1.00
}

// DefaultThresholds returns the built-in warning ratios.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.80, Critical: 0.95, Exceeded: 1.00}
}

// ResourceReport describes one resource's spend against its limit.
type ResourceReport struct {
	Resource string // "tokens", "time", "cost"
	Spent    float64
	Limit    float64
	Ratio    float64
	Level    Level
}

// Report aggregates per-resource levels; Level is the worst level across
// resources actually configured with a limit.
type Report struct {
	Level     Level
	Resources []ResourceReport
}

// Tracker computes spend-vs-limit ratios for goals and records usage.
// The tracker itself holds no per-goal state; spend lives on the Goal and is
// owned by the repository.
type Tracker struct {
	thresholds Thresholds
}

// NewTracker creates a Tracker. Zero-valued thresholds fall back to defaults.
func NewTracker(t Thresholds) *Tracker {
	def := DefaultThresholds()
	if t.Warning <= 0 {
		t.Warning = def.Warning
	}
	if t.Critical <= 0 {
		t.Critical = def.Critical
	}
	if t.Exceeded <= 0 {
		t.Exceeded = def.Exceeded
	}
	return &Tracker{thresholds: t}
}

// Check classifies the goal's current spend. Resources without a configured
// limit are skipped entirely.
func (t *Tracker) Check(g *model.Goal) Report {
	report := Report{Level: LevelNone}

	add := func(name string, spent, limit float64) {
		ratio := 0.0
		if limit > 0 {
			ratio = spent / limit
		}
		level := t.classify(ratio)
		report.Resources = append(report.Resources, ResourceReport{
			Resource: name,
			Spent:    spent,
			Limit:    limit,
			Ratio:    ratio,
			Level:    level,
		})
		if level > report.Level {
			report.Level = level
		}
	}

	if g.BudgetTokens != nil {
		add("tokens", float64(g.SpentTokens), float64(*g.BudgetTokens))
	}
	if g.BudgetSeconds != nil {
		add("time", g.SpentSeconds, *g.BudgetSeconds)
	}
	if g.BudgetCostUSD != nil {
		add("cost", g.SpentCostUSD, *g.BudgetCostUSD)
	}

	return report
}

// SpendWriter persists an append-only spend delta for a goal. Implemented by
// the repository.
type SpendWriter interface {
	AddGoalSpend(ctx context.Context, goalID string, tokens int64, seconds, costUSD float64) error
}

// RecordUsage appends a completed run's consumption to the goal's cumulative
// spend through w. Append-only: negative deltas are rejected so spend never
// decreases; an all-zero delta is skipped. Must be called exactly once per
// completed run, before the run's completion write.
func (t *Tracker) RecordUsage(ctx context.Context, w SpendWriter, goalID string, tokens int64, seconds, costUSD float64) error {
	if tokens < 0 || seconds < 0 || costUSD < 0 {
		return fmt.Errorf("refusing negative usage delta (tokens=%d time=%f cost=%f)", tokens, seconds, costUSD)
	}
	if tokens == 0 && seconds == 0 && costUSD == 0 {
		return nil
	}
	return w.AddGoalSpend(ctx, goalID, tokens, seconds, costUSD)
}

// WillExceed is a pre-flight check: would committing the estimated tokens and
// cost push any configured limit to or past exceeded?
func (t *Tracker) WillExceed(g *model.Goal, estTokens int64, estCostUSD float64) bool {
	if g.BudgetTokens != nil && *g.BudgetTokens > 0 {
		if float64(g.SpentTokens+estTokens)/float64(*g.BudgetTokens) >= t.thresholds.Exceeded {
			return true
		}
	}
	if g.BudgetCostUSD != nil && *g.BudgetCostUSD > 0 {
		if (g.SpentCostUSD+estCostUSD)/(*g.BudgetCostUSD) >= t.thresholds.Exceeded {
			return true
		}
	}
	return false
}

func (t *Tracker) classify(ratio float64) Level {
	switch {
	case ratio >= t.thresholds.Exceeded:
		return LevelExceeded
	case ratio >= t.thresholds.Critical:
		return LevelCritical
	case ratio >= t.thresholds.Warning:
		return LevelWarning
	default:
		return LevelNone
	}
}
