package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// Feed holds transient notifications until they expire. A dedup key is
// remembered for retention, so a redelivered event cannot fire twice.
type Feed struct {
	mu        sync.Mutex
	active    map[string]domain.Notification
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewFeed creates a feed. retention should exceed the display window.
func NewFeed(retention time.Duration, now func() time.Time) *Feed {
	if retention <= 0 {
		retention = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Feed{
		active:    make(map[string]domain.Notification),
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       now,
	}
}

// Push adds notifications and returns those not seen before
func (f *Feed) Push(notifications ...domain.Notification) []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.prune(now)

	var accepted []domain.Notification
	for _, n := range notifications {
		if _, dup := f.seen[n.DedupKey]; dup {
			continue
		}
		f.seen[n.DedupKey] = now.Add(f.retention)
		f.active[n.DedupKey] = n
		accepted = append(accepted, n)
	}
	return accepted
}

// Active returns unexpired notifications for a session, newest first
func (f *Feed) Active(sessionID string) []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prune(f.now())

	out := make([]domain.Notification, 0)
	for _, n := range f.active {
		if n.SessionID == sessionID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].DedupKey < out[j].DedupKey
	})
	return out
}

func (f *Feed) prune(now time.Time) {
	for key, n := range f.active {
		if !now.Before(n.ExpiresAt) {
			delete(f.active, key)
		}
	}
	for key, until := range f.seen {
		if !now.Before(until) {
			delete(f.seen, key)
		}
	}
}
