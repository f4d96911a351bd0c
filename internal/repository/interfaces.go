package repository

import (
	"context"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// ViewerHistory is a user's payment history outside one session
type ViewerHistory struct {
	TotalAmount   int64
	LastPaymentAt *time.Time
}

// EventRepository defines the interface for event storage operations
type EventRepository interface {
	// InsertBatch inserts a batch of events into the storage
	InsertBatch(ctx context.Context, events []*domain.Event) (int, error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error

	// EventsSince returns up to limit events of a session with seq > afterSeq, in seq order
	EventsSince(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error)

	// SessionTotals aggregates a session's revenue and audience in the store
	SessionTotals(ctx context.Context, sessionID string) (*domain.SessionSummary, error)

	// ViewerHistory sums a user's payments in every session except excludeSessionID
	ViewerHistory(ctx context.Context, userID, excludeSessionID string) (*ViewerHistory, error)
}

// SessionRepository stores broadcast windows
type SessionRepository interface {
	SaveSession(ctx context.Context, w *domain.SessionWindow) error
	GetSession(ctx context.Context, sessionID string) (*domain.SessionWindow, error)
}

// CampaignRepository stores campaigns and their DM items
type CampaignRepository interface {
	// CreateCampaign persists a campaign with all of its items atomically
	CreateCampaign(ctx context.Context, c *domain.Campaign, items []*domain.DMItem) error
	GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)
	UpdateCampaign(ctx context.Context, c *domain.Campaign) error

	GetItem(ctx context.Context, itemID string) (*domain.DMItem, error)
	ListItems(ctx context.Context, campaignID string) ([]*domain.DMItem, error)
	// NextQueued returns the oldest queued item of a campaign, or ErrNotFound
	NextQueued(ctx context.Context, campaignID string) (*domain.DMItem, error)
	// SaveProgress writes an item and its campaign counters in one transaction
	SaveProgress(ctx context.Context, c *domain.Campaign, item *domain.DMItem) error

	// CountActiveSince counts an account's queued, sending and successful items queued at or after since
	CountActiveSince(ctx context.Context, accountID string, since time.Time) (int, error)
	// CountScenarioSince counts the same for items sent on behalf of one scenario
	CountScenarioSince(ctx context.Context, scenarioID string, since time.Time) (int, error)
	// LastUserSend returns the latest non-error item queued to a user of an
	// account strictly after the given time, or nil when there is none
	LastUserSend(ctx context.Context, accountID, userID string, after time.Time) (*domain.DMItem, error)
	// StaleSending returns items that entered sending before the cutoff
	StaleSending(ctx context.Context, before time.Time) ([]*domain.DMItem, error)
}

// ScenarioRepository stores scenario definitions and enrollments
type ScenarioRepository interface {
	SaveScenario(ctx context.Context, def *domain.ScenarioDefinition) error
	GetScenario(ctx context.Context, scenarioID string) (*domain.ScenarioDefinition, error)
	ActiveScenarios(ctx context.Context, accountID string, trigger domain.TriggerType) ([]*domain.ScenarioDefinition, error)

	// CreateEnrollment fails with ErrAlreadyEnrolled while an active enrollment
	// exists for the same scenario and user
	CreateEnrollment(ctx context.Context, e *domain.Enrollment) error
	GetEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error)
	UpdateEnrollment(ctx context.Context, e *domain.Enrollment) error
	// DueEnrollments returns active enrollments with next_step_due_at <= now, oldest first
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*domain.Enrollment, error)
	// ActiveEnrollments returns a user's active enrollments within an account
	ActiveEnrollments(ctx context.Context, accountID, userID string) ([]*domain.Enrollment, error)
}

// AlertRuleRepository stores alert matching configuration
type AlertRuleRepository interface {
	SaveAlertRule(ctx context.Context, rule *domain.AlertRule) error
	AlertRules(ctx context.Context, accountID string) ([]domain.AlertRule, error)
}

// ActivityRepository keeps the last time a user performed each goal event
type ActivityRepository interface {
	// RecordActivity keeps the later of at and the stored time
	RecordActivity(ctx context.Context, accountID, userID string, ev domain.GoalEvent, at time.Time) error
	LastActivity(ctx context.Context, accountID, userID string, ev domain.GoalEvent) (time.Time, bool, error)
}

// Store bundles the relational repositories
type Store interface {
	SessionRepository
	CampaignRepository
	ScenarioRepository
	AlertRuleRepository
	ActivityRepository
}
