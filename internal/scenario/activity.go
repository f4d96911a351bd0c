package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// ActivityLog remembers the last time a user performed each goal event.
// repository.ActivityRepository implementations satisfy it.
type ActivityLog interface {
	RecordActivity(ctx context.Context, accountID, userID string, ev domain.GoalEvent, at time.Time) error
	LastActivity(ctx context.Context, accountID, userID string, ev domain.GoalEvent) (time.Time, bool, error)
}

// goalMet reports whether the user did something satisfying pred strictly after since
func goalMet(ctx context.Context, log ActivityLog, pred domain.GoalPredicate, accountID, userID string, since time.Time) (bool, error) {
	if log == nil {
		return false, nil
	}
	for _, ev := range pred.Events() {
		at, ok, err := log.LastActivity(ctx, accountID, userID, ev)
		if err != nil {
			return false, fmt.Errorf("failed to read %s activity of %s: %w", ev, userID, err)
		}
		if ok && at.After(since) {
			return true, nil
		}
	}
	return false, nil
}
