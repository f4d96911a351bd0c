package session

import (
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

const (
	DefaultLiveGrace   = 10 * time.Minute
	DefaultSanityBound = 12 * time.Hour
)

// Resolver derives the broadcast phase of a session from its timestamps
type Resolver struct {
	liveGrace   time.Duration
	sanityBound time.Duration
}

// NewResolver creates a resolver. A zero sanityBound disables the bound.
func NewResolver(liveGrace, sanityBound time.Duration) *Resolver {
	if liveGrace <= 0 {
		liveGrace = DefaultLiveGrace
	}
	return &Resolver{liveGrace: liveGrace, sanityBound: sanityBound}
}

// Resolve returns the phase of w at now. A valid override always wins and is the
// only way to reach the pre phase.
func (r *Resolver) Resolve(w domain.SessionWindow, now time.Time, override *domain.Phase) domain.Phase {
	if override != nil && override.Valid() {
		return *override
	}

	live := w.EndedAt == nil || now.Sub(*w.EndedAt) < r.liveGrace
	if !live {
		return domain.PhasePost
	}

	if r.sanityBound > 0 && !w.StartedAt.IsZero() && now.Sub(w.StartedAt) > r.sanityBound {
		return domain.PhasePost
	}
	return domain.PhaseLive
}

// IsActive reports whether realtime aggregation runs in phase p
func IsActive(p domain.Phase) bool {
	return p == domain.PhaseLive
}
