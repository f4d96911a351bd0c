package dto

import (
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"session_id is required"`
}

// SessionResponse describes a session and its current phase
type SessionResponse struct {
	Session domain.SessionWindow `json:"session"`
	Phase   domain.Phase         `json:"phase"`
}

// PhaseResponse is the resolved phase of a session
type PhaseResponse struct {
	SessionID string        `json:"session_id"`
	Phase     domain.Phase  `json:"phase"`
	Active    bool          `json:"active"`
	Override  *domain.Phase `json:"override,omitempty"`
}

// IngestResponse reports how a submitted batch was applied
type IngestResponse struct {
	SessionID string   `json:"session_id"`
	Accepted  int      `json:"accepted"`
	Ignored   int      `json:"ignored"`
	NewPayers []string `json:"new_payers,omitempty"`
}

// ClassifyResponse is the segment of a viewer
type ClassifyResponse struct {
	Segment domain.SegmentID `json:"segment"`
	Label   string           `json:"label,omitempty"`
}

// LeaderboardEntry is one ranked viewer
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"user_id"`
	LifetimeAmount int64  `json:"lifetime_amount"`
}

// LeaderboardResponse lists the top viewers of a session
type LeaderboardResponse struct {
	SessionID string             `json:"session_id"`
	Viewers   []LeaderboardEntry `json:"viewers"`
}

// AlertsResponse lists the notifications still on display
type AlertsResponse struct {
	SessionID string                `json:"session_id"`
	Alerts    []domain.Notification `json:"alerts"`
}

// InsightResponse carries generated analysis text
type InsightResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// CampaignResponse is a campaign with its items
type CampaignResponse struct {
	Campaign *domain.Campaign `json:"campaign"`
	Items    []*domain.DMItem `json:"items"`
}

// UnlockResponse reports the send gate state of an account
type UnlockResponse struct {
	AccountID string     `json:"account_id"`
	Unlocked  bool       `json:"unlocked"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// QuotaResponse is today's unused DM quota of an account
type QuotaResponse struct {
	AccountID string `json:"account_id"`
	Remaining int    `json:"remaining"`
}

// EnrollmentsResponse lists enrollments created by a trigger
type EnrollmentsResponse struct {
	Enrollments []*domain.Enrollment `json:"enrollments"`
}

// GoalResponse reports how many enrollments a goal event ended
type GoalResponse struct {
	GoalReached int `json:"goal_reached"`
}
