package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrPhase(p domain.Phase) *domain.Phase { return &p }

func TestResolve(t *testing.T) {
	r := NewResolver(DefaultLiveGrace, DefaultSanityBound)
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		window   domain.SessionWindow
		override *domain.Phase
		want     domain.Phase
	}{
		{
			name:   "open session is live",
			window: domain.SessionWindow{StartedAt: now.Add(-time.Hour)},
			want:   domain.PhaseLive,
		},
		{
			name:   "ended five minutes ago is still live",
			window: domain.SessionWindow{StartedAt: now.Add(-time.Hour), EndedAt: ptrTime(now.Add(-5 * time.Minute))},
			want:   domain.PhaseLive,
		},
		{
			name:   "ended exactly at grace is post",
			window: domain.SessionWindow{StartedAt: now.Add(-time.Hour), EndedAt: ptrTime(now.Add(-10 * time.Minute))},
			want:   domain.PhasePost,
		},
		{
			name:   "open beyond sanity bound is post",
			window: domain.SessionWindow{StartedAt: now.Add(-13 * time.Hour)},
			want:   domain.PhasePost,
		},
		{
			name:     "override pre",
			window:   domain.SessionWindow{StartedAt: now.Add(-time.Hour)},
			override: ptrPhase(domain.PhasePre),
			want:     domain.PhasePre,
		},
		{
			name:     "override live on ended session",
			window:   domain.SessionWindow{StartedAt: now.Add(-time.Hour), EndedAt: ptrTime(now.Add(-30 * time.Minute))},
			override: ptrPhase(domain.PhaseLive),
			want:     domain.PhaseLive,
		},
		{
			name:     "invalid override ignored",
			window:   domain.SessionWindow{StartedAt: now.Add(-time.Hour)},
			override: ptrPhase("rehearsal"),
			want:     domain.PhaseLive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.window, now, tt.override))
		})
	}
}

func TestResolve_NeverAutoDetectsPre(t *testing.T) {
	r := NewResolver(DefaultLiveGrace, 0)
	now := time.Now()

	// a session scheduled in the future is still live without an override
	w := domain.SessionWindow{StartedAt: now.Add(time.Hour)}
	assert.Equal(t, domain.PhaseLive, r.Resolve(w, now, nil))
}

func TestIsActive(t *testing.T) {
	assert.True(t, IsActive(domain.PhaseLive))
	assert.False(t, IsActive(domain.PhasePre))
	assert.False(t, IsActive(domain.PhasePost))
}
