package dto

import "time"

// OpenSessionRequest registers a broadcast window
type OpenSessionRequest struct {
	SessionID string     `json:"session_id" binding:"required"`
	CastID    string     `json:"cast_id" binding:"required"`
	StartedAt *time.Time `json:"started_at"`
}

// PhaseOverrideRequest forces a phase; an empty phase clears the override
type PhaseOverrideRequest struct {
	Phase string `json:"phase" binding:"omitempty,oneof=pre live post"`
}

// EventRequest is one room event submitted to a session
type EventRequest struct {
	EventID   string     `json:"event_id"`
	Seq       uint64     `json:"seq" binding:"required"`
	Type      string     `json:"type" binding:"required"`
	UserID    string     `json:"user_id"`
	Amount    int64      `json:"amount" binding:"min=0"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp"`
}

// IngestEventsRequest carries a batch of room events
type IngestEventsRequest struct {
	Events []EventRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

// ClassifyRequest asks for the segment of a viewer.
// A missing days_since_last_payment means the viewer never paid.
type ClassifyRequest struct {
	LifetimeAmount       int64 `form:"lifetime_amount" binding:"min=0"`
	DaysSinceLastPayment *int  `form:"days_since_last_payment" binding:"omitempty,min=0"`
}

// LeaderboardRequest bounds the number of ranked viewers returned
type LeaderboardRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// AlertRuleRequest creates or replaces an alert rule
type AlertRuleRequest struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id" binding:"required"`
	RuleType  string `json:"rule_type" binding:"required"`
	Threshold int64  `json:"threshold" binding:"min=0"`
	Enabled   *bool  `json:"enabled"`
}

// CreateCampaignRequest queues a DM batch
type CreateCampaignRequest struct {
	AccountID string   `json:"account_id" binding:"required"`
	Label     string   `json:"label"`
	Targets   []string `json:"targets" binding:"required,min=1"`
	Template  string   `json:"template" binding:"required"`
	SendMode  string   `json:"send_mode" binding:"omitempty,oneof=sequential pipeline"`
	LaneCount int      `json:"lane_count" binding:"omitempty,min=1"`
	Cap       int      `json:"cap" binding:"omitempty,min=0"`
}

// ReportStatusRequest is the Delivery Agent's status callback
type ReportStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Detail string `json:"detail"`
}

// UnlockRequest opens the send gate of an account for a while
type UnlockRequest struct {
	TTLSeconds int `json:"ttl_seconds" binding:"omitempty,min=1,max=3600"`
}

// ScenarioStepRequest is one step of a scenario definition
type ScenarioStepRequest struct {
	StepIndex  int    `json:"step_index"`
	Kind       string `json:"kind"`
	DelayHours int    `json:"delay_hours"`
	Template   string `json:"template"`
	Goal       string `json:"goal"`
}

// DefineScenarioRequest creates or replaces a scenario
type DefineScenarioRequest struct {
	ID             string                `json:"id"`
	AccountID      string                `json:"account_id" binding:"required"`
	Name           string                `json:"name" binding:"required"`
	TriggerType    string                `json:"trigger_type" binding:"required"`
	SegmentTargets []string              `json:"segment_targets"`
	Steps          []ScenarioStepRequest `json:"steps" binding:"required,min=1"`
	DailySendLimit int                   `json:"daily_send_limit"`
	IsActive       *bool                 `json:"is_active"`
}

// TriggerRequest reports a behavioural signal for a user
type TriggerRequest struct {
	TriggerType string `json:"trigger_type" binding:"required"`
	AccountID   string `json:"account_id" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
	Segment     string `json:"segment"`
}

// GoalRequest reports a user action that may end enrollments
type GoalRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	Event     string `json:"event" binding:"required"`
}
