package domain

import "time"

// SendMode is the concurrency policy communicated to the Delivery Agent
type SendMode string

const (
	SendSequential SendMode = "sequential"
	SendPipeline   SendMode = "pipeline"
)

// MaxLanes bounds pipeline parallelism
const MaxLanes = 5

// CampaignStatus tracks the lifecycle of a campaign
type CampaignStatus string

const (
	CampaignOpen      CampaignStatus = "open"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignComplete  CampaignStatus = "complete"
)

// Campaign groups a batch of DM items sharing a send mode and quota
type Campaign struct {
	ID        string         `json:"campaign_id"`
	AccountID string         `json:"account_id"`
	Label     string         `json:"label"`
	SendMode  SendMode       `json:"send_mode"`
	LaneCount int            `json:"lane_count"`
	Cap       int            `json:"cap"`
	Status    CampaignStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Counters  StatusCounters `json:"counters"`
}

// Lanes returns how many items may be in sending at once
func (c *Campaign) Lanes() int {
	if c.SendMode != SendPipeline || c.LaneCount < 1 {
		return 1
	}
	if c.LaneCount > MaxLanes {
		return MaxLanes
	}
	return c.LaneCount
}

// StatusCounters aggregates item statuses for a campaign
type StatusCounters struct {
	Queued  int `json:"queued"`
	Sending int `json:"sending"`
	Success int `json:"success"`
	Error   int `json:"error"`
}

// Total returns the number of items counted
func (c StatusCounters) Total() int {
	return c.Queued + c.Sending + c.Success + c.Error
}

// Add adjusts the counter for status s by delta
func (c *StatusCounters) Add(s DMStatus, delta int) {
	switch s {
	case DMQueued:
		c.Queued += delta
	case DMSending:
		c.Sending += delta
	case DMSuccess:
		c.Success += delta
	case DMError:
		c.Error += delta
	}
}

// DMStatus is the delivery state of a single DM item
type DMStatus string

const (
	DMQueued  DMStatus = "queued"
	DMSending DMStatus = "sending"
	DMSuccess DMStatus = "success"
	DMError   DMStatus = "error"
)

func (s DMStatus) rank() int {
	switch s {
	case DMQueued:
		return 0
	case DMSending:
		return 1
	case DMSuccess, DMError:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status
func (s DMStatus) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether no further transition is allowed
func (s DMStatus) Terminal() bool { return s == DMSuccess || s == DMError }

// CanTransition reports whether moving from s to next keeps statuses monotonic.
// Re-reporting the current status is allowed and treated as a no-op by callers.
func (s DMStatus) CanTransition(next DMStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// DMItem is one outbound direct message
type DMItem struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	AccountID    string     `json:"account_id"`
	UserID       string     `json:"user_id"`
	Message      string     `json:"message"`
	Status       DMStatus   `json:"status"`
	QueuedAt     time.Time  `json:"queued_at"`
	SendingAt    *time.Time `json:"sending_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	ScenarioID   string     `json:"scenario_id,omitempty"`
	EnrollmentID string     `json:"enrollment_id,omitempty"`
	StepIndex    *int       `json:"step_index,omitempty"`
}

// DispatchJob is what the Delivery Agent receives for each item
type DispatchJob struct {
	ItemID     string   `json:"item_id"`
	CampaignID string   `json:"campaign_id"`
	UserID     string   `json:"user_id"`
	Message    string   `json:"message"`
	SendMode   SendMode `json:"send_mode"`
	LaneCount  int      `json:"lane_count"`
}
