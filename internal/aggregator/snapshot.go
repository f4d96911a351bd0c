package aggregator

import (
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// Snapshot is a point-in-time copy of a session's ledger and buckets.
// Holders may read it freely; it shares no memory with the aggregator.
type Snapshot struct {
	SessionID   string                     `json:"session_id"`
	Marker      uint64                     `json:"marker"`
	Viewers     []domain.ViewerLedgerEntry `json:"viewers"`
	Buckets     []domain.RevenueBucket     `json:"buckets"`
	TotalAmount int64                      `json:"total_amount"`
	PayerCount  int                        `json:"payer_count"`
	NewPayers   int                        `json:"new_payers"`
	Stats       Stats                      `json:"stats"`
	TakenAt     time.Time                  `json:"taken_at"`
}

// Viewer returns the ledger entry of userID, if present
func (s *Snapshot) Viewer(userID string) (domain.ViewerLedgerEntry, bool) {
	for _, v := range s.Viewers {
		if v.UserID == userID {
			return v, true
		}
	}
	return domain.ViewerLedgerEntry{}, false
}

// Top returns at most n viewers from the sorted list
func (s *Snapshot) Top(n int) []domain.ViewerLedgerEntry {
	if n <= 0 || n >= len(s.Viewers) {
		return s.Viewers
	}
	return s.Viewers[:n]
}

// Summary reduces the snapshot to the shared summary shape
func (s *Snapshot) Summary() *domain.SessionSummary {
	return &domain.SessionSummary{
		SessionID:   s.SessionID,
		TotalAmount: s.TotalAmount,
		PayerCount:  s.PayerCount,
		ViewerCount: len(s.Viewers),
		NewPayers:   s.NewPayers,
		EventCount:  s.Stats.Applied,
	}
}
