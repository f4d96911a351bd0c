package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientIngest marks a malformed or duplicate event that was dropped
	ErrTransientIngest = errors.New("event dropped")
	// ErrSchedulingDeferral marks a scenario step postponed by a daily cap
	ErrSchedulingDeferral = errors.New("scenario step deferred")
	// ErrStaleConnection marks a disconnected push subscription
	ErrStaleConnection = errors.New("subscription connection is stale")

	ErrNotFound          = errors.New("not found")
	ErrSessionNotLive    = errors.New("session is not live")
	ErrSessionClosed     = errors.New("session aggregator is closed")
	ErrStatusRegression  = errors.New("dm status regression")
	ErrInvalidStatus     = errors.New("unknown dm status")
	ErrLaneLimit         = errors.New("campaign lane limit reached")
	ErrCampaignCancelled = errors.New("campaign cancelled")
	ErrSendLocked        = errors.New("sending is locked")
	ErrTestModeBlocked   = errors.New("target blocked by test mode")
	ErrCampaignRequired  = errors.New("campaign label is required")
	ErrNoTargets         = errors.New("no targets")
	ErrInvalidDefinition = errors.New("invalid scenario definition")
	ErrEnrollmentClosed  = errors.New("enrollment is no longer active")
	ErrAlreadyEnrolled   = errors.New("active enrollment already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsightDisabled   = errors.New("insight generation is not configured")
)

// QuotaExceededError is returned when a batch would exceed the remaining quota
type QuotaExceededError struct {
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d used of %d", e.Used, e.Limit)
}

// DeliveryError is a per-item delivery failure reported by the Delivery Agent
type DeliveryError struct {
	ItemID string
	Detail string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of item %s failed: %s", e.ItemID, e.Detail)
}
