package domain

import "time"

// TriggerType names the behavioural signal that enrolls a user into a scenario
type TriggerType string

const (
	TriggerFirstPayment   TriggerType = "first_payment"
	TriggerPostSession    TriggerType = "post_session_no_action"
	TriggerChurnRisk      TriggerType = "churn_risk"
	TriggerFirstVisit     TriggerType = "first_visit"
	TriggerSegmentUpgrade TriggerType = "segment_upgrade"
)

// Valid reports whether t is a known trigger type
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerFirstPayment, TriggerPostSession, TriggerChurnRisk, TriggerFirstVisit, TriggerSegmentUpgrade:
		return true
	}
	return false
}

// GoalPredicate ends an enrollment early when satisfied
type GoalPredicate string

const (
	GoalNone         GoalPredicate = ""
	GoalVisit        GoalPredicate = "visit"
	GoalPayment      GoalPredicate = "payment"
	GoalReply        GoalPredicate = "reply"
	GoalReplyOrVisit GoalPredicate = "reply_or_visit"
)

// Valid reports whether g is a known predicate
func (g GoalPredicate) Valid() bool {
	switch g {
	case GoalNone, GoalVisit, GoalPayment, GoalReply, GoalReplyOrVisit:
		return true
	}
	return false
}

// Matches reports whether an observed goal event satisfies the predicate
func (g GoalPredicate) Matches(ev GoalEvent) bool {
	switch g {
	case GoalReplyOrVisit:
		return ev == GoalEventReply || ev == GoalEventVisit
	case GoalVisit:
		return ev == GoalEventVisit
	case GoalPayment:
		return ev == GoalEventPayment
	case GoalReply:
		return ev == GoalEventReply
	}
	return false
}

// Events lists the observations that can satisfy the predicate
func (g GoalPredicate) Events() []GoalEvent {
	switch g {
	case GoalVisit:
		return []GoalEvent{GoalEventVisit}
	case GoalPayment:
		return []GoalEvent{GoalEventPayment}
	case GoalReply:
		return []GoalEvent{GoalEventReply}
	case GoalReplyOrVisit:
		return []GoalEvent{GoalEventReply, GoalEventVisit}
	}
	return nil
}

// GoalEvent is a user action observed by the engine
type GoalEvent string

const (
	GoalEventVisit   GoalEvent = "visit"
	GoalEventPayment GoalEvent = "payment"
	GoalEventReply   GoalEvent = "reply"
)

// Valid reports whether e is a known goal event
func (e GoalEvent) Valid() bool {
	return e == GoalEventVisit || e == GoalEventPayment || e == GoalEventReply
}

// StepKind tags a scenario step variant
type StepKind string

const StepMessage StepKind = "message"

// ScenarioStep is one scheduled message of a scenario
type ScenarioStep struct {
	Index      int           `json:"step_index"`
	Kind       StepKind      `json:"kind"`
	DelayHours int           `json:"delay_hours"`
	Template   string        `json:"template"`
	Goal       GoalPredicate `json:"goal"`
}

// Delay returns the step delay as a duration
func (s ScenarioStep) Delay() time.Duration {
	return time.Duration(s.DelayHours) * time.Hour
}

// ScenarioDefinition is a multi-step automated DM sequence
type ScenarioDefinition struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	Name           string         `json:"name"`
	TriggerType    TriggerType    `json:"trigger_type"`
	SegmentTargets []SegmentID    `json:"segment_targets"`
	Steps          []ScenarioStep `json:"steps"`
	DailySendLimit int            `json:"daily_send_limit"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Targets reports whether a user in segment seg is eligible. An empty target
// list allows everyone; a user of unknown segment only qualifies for untargeted
// scenarios.
func (d *ScenarioDefinition) Targets(seg *SegmentID) bool {
	if len(d.SegmentTargets) == 0 {
		return true
	}
	if seg == nil {
		return false
	}
	for _, t := range d.SegmentTargets {
		if t == *seg {
			return true
		}
	}
	return false
}

// EnrollmentStatus is the state of an enrollment; only active is non-terminal
type EnrollmentStatus string

const (
	EnrollmentActive      EnrollmentStatus = "active"
	EnrollmentGoalReached EnrollmentStatus = "goal_reached"
	EnrollmentCompleted   EnrollmentStatus = "completed"
	EnrollmentCancelled   EnrollmentStatus = "cancelled"
)

// Terminal reports whether the status can no longer change
func (s EnrollmentStatus) Terminal() bool { return s != EnrollmentActive }

// Enrollment is a user's progress through a scenario
type Enrollment struct {
	ID              string           `json:"id"`
	ScenarioID      string           `json:"scenario_id"`
	AccountID       string           `json:"account_id"`
	UserID          string           `json:"user_id"`
	EnrolledAt      time.Time        `json:"enrolled_at"`
	CurrentStep     int              `json:"current_step"`
	Status          EnrollmentStatus `json:"status"`
	NextStepDueAt   *time.Time       `json:"next_step_due_at,omitempty"`
	GoalReachedAt   *time.Time       `json:"goal_reached_at,omitempty"`
	LastStepSentAt  *time.Time       `json:"last_step_sent_at,omitempty"`
	LastDeliveredAt *time.Time       `json:"last_delivered_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Trigger is a qualifying behavioural signal for a user
type Trigger struct {
	Type      TriggerType `json:"trigger_type"`
	AccountID string      `json:"account_id"`
	UserID    string      `json:"user_id"`
	Segment   *SegmentID  `json:"segment,omitempty"`
}
