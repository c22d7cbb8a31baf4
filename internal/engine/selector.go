package engine

import (
	"fmt"

	"github.com/aristath/dirigent/internal/model"
)

// DefaultSelector picks backends by work-item shape: the tier follows
// estimated effort and the backend rotates through the configured list for
// switch-backend retries.
type DefaultSelector struct {
	Backends []string // Ordered preference list; first is the default
}

// NewDefaultSelector creates a selector over the configured backends.
// An empty list falls back to a single "claude" backend.
func NewDefaultSelector(backends []string) *DefaultSelector {
	if len(backends) == 0 {
		backends = []string{"claude"}
	}
	return &DefaultSelector{Backends: backends}
}

// Select maps effort to a tier and returns the preferred backend.
func (s *DefaultSelector) Select(item *model.WorkItem, goal *model.Goal) Selection {
	tier := "standard"
	switch item.Effort {
	case model.EffortXS, model.EffortS:
		tier = "fast"
	case model.EffortXL:
		tier = "max"
	}

	return Selection{
		Backend: s.Backends[0],
		Tier:    tier,
		Reason:  fmt.Sprintf("effort %s maps to %s tier on %s", item.Effort, tier, s.Backends[0]),
	}
}

// Next returns the backend after the given one in the preference ring.
func (s *DefaultSelector) Next(backend string) string {
	for i, b := range s.Backends {
		if b == backend {
			return s.Backends[(i+1)%len(s.Backends)]
		}
	}
	return s.Backends[0]
}
