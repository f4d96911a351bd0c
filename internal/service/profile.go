package service

import (
	"context"
	"fmt"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

var _ aggregator.ProfileLookup = (*HistoryLookup)(nil)

// ViewerHistorian reads a viewer's payments outside one session
type ViewerHistorian interface {
	ViewerHistory(ctx context.Context, userID, excludeSessionID string) (*repository.ViewerHistory, error)
}

// HistoryLookup resolves aggregator profiles from the event store
type HistoryLookup struct {
	history ViewerHistorian
}

// NewHistoryLookup creates a profile lookup over the event store
func NewHistoryLookup(history ViewerHistorian) *HistoryLookup {
	return &HistoryLookup{history: history}
}

// Profile returns what the viewer spent before sessionID
func (h *HistoryLookup) Profile(ctx context.Context, sessionID, userID string) (aggregator.Profile, error) {
	hist, err := h.history.ViewerHistory(ctx, userID, sessionID)
	if err != nil {
		return aggregator.Profile{}, fmt.Errorf("failed to load history of viewer %s: %w", userID, err)
	}
	return aggregator.Profile{
		PriorLifetime: hist.TotalAmount,
		LastPaymentAt: hist.LastPaymentAt,
	}, nil
}
