package domain

import "time"

// AlertRuleType selects which matcher an alert rule uses
type AlertRuleType string

const (
	AlertHighTip         AlertRuleType = "high_tip"
	AlertWhaleEnter      AlertRuleType = "whale_enter"
	AlertFirstPayer      AlertRuleType = "first_payer"
	AlertViewerMilestone AlertRuleType = "viewer_milestone"
)

// Valid reports whether t is a known rule type
func (t AlertRuleType) Valid() bool {
	switch t {
	case AlertHighTip, AlertWhaleEnter, AlertFirstPayer, AlertViewerMilestone:
		return true
	}
	return false
}

// AlertRule is pure matching config
type AlertRule struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	RuleType  AlertRuleType `json:"rule_type"`
	Threshold int64         `json:"threshold"`
	Enabled   bool          `json:"enabled"`
}

// Notification is a transient alert shown to operators
type Notification struct {
	DedupKey  string        `json:"dedup_key"`
	RuleType  AlertRuleType `json:"rule_type"`
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id,omitempty"`
	EventID   string        `json:"event_id"`
	Amount    int64         `json:"amount,omitempty"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}
