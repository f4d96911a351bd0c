package domain

import "time"

// Phase is the broadcast state of a session
type Phase string

const (
	PhasePre  Phase = "pre"
	PhaseLive Phase = "live"
	PhasePost Phase = "post"
)

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	return p == PhasePre || p == PhaseLive || p == PhasePost
}

// SessionWindow describes one broadcast. Phase is derived, never stored;
// PhaseOverride only records an operator request such as broadcast prep.
type SessionWindow struct {
	SessionID     string     `json:"session_id"`
	CastID        string     `json:"cast_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	PhaseOverride *Phase     `json:"phase_override,omitempty"`
}

// ViewerLedgerEntry holds per-user, per-session running totals
type ViewerLedgerEntry struct {
	UserID         string     `json:"user_id"`
	SessionID      string     `json:"session_id"`
	LifetimeAmount int64      `json:"lifetime_amount"`
	SessionAmount  int64      `json:"session_amount"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	IsNewPayer     bool       `json:"is_new_payer"`
	Present        bool       `json:"present"`
	Segment        *SegmentID `json:"segment,omitempty"`
}

// RevenueBucket is a fixed-width time window revenue aggregate
type RevenueBucket struct {
	SessionID     string `json:"session_id"`
	IntervalIndex int    `json:"interval_index"`
	Amount        int64  `json:"amount"`
	Cumulative    int64  `json:"cumulative"`
}

// SessionSummary is the shared output of every summary data source
type SessionSummary struct {
	SessionID   string `json:"session_id"`
	TotalAmount int64  `json:"total_amount"`
	PayerCount  int    `json:"payer_count"`
	ViewerCount int    `json:"viewer_count"`
	NewPayers   int    `json:"new_payers"`
	EventCount  int    `json:"event_count"`
	Source      string `json:"source"`
}
