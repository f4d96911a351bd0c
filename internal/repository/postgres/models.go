package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

type sessionRow struct {
	SessionID     string `gorm:"primaryKey;column:session_id"`
	CastID        string `gorm:"index;not null"`
	StartedAt     time.Time
	EndedAt       *time.Time
	PhaseOverride *string
}

func (sessionRow) TableName() string { return "session_windows" }

func sessionFromDomain(w *domain.SessionWindow) sessionRow {
	row := sessionRow{SessionID: w.SessionID, CastID: w.CastID, StartedAt: w.StartedAt, EndedAt: w.EndedAt}
	if w.PhaseOverride != nil {
		p := string(*w.PhaseOverride)
		row.PhaseOverride = &p
	}
	return row
}

func (r sessionRow) toDomain() *domain.SessionWindow {
	w := &domain.SessionWindow{SessionID: r.SessionID, CastID: r.CastID, StartedAt: r.StartedAt, EndedAt: r.EndedAt}
	if r.PhaseOverride != nil {
		p := domain.Phase(*r.PhaseOverride)
		w.PhaseOverride = &p
	}
	return w
}

type campaignRow struct {
	ID           string `gorm:"primaryKey"`
	AccountID    string `gorm:"index;not null"`
	Label        string
	SendMode     string `gorm:"not null"`
	LaneCount    int
	Cap          int
	Status       string    `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	CountQueued  int
	CountSending int
	CountSuccess int
	CountError   int
}

func (campaignRow) TableName() string { return "campaigns" }

func campaignFromDomain(c *domain.Campaign) campaignRow {
	return campaignRow{
		ID:           c.ID,
		AccountID:    c.AccountID,
		Label:        c.Label,
		SendMode:     string(c.SendMode),
		LaneCount:    c.LaneCount,
		Cap:          c.Cap,
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
		CountQueued:  c.Counters.Queued,
		CountSending: c.Counters.Sending,
		CountSuccess: c.Counters.Success,
		CountError:   c.Counters.Error,
	}
}

func (r campaignRow) toDomain() *domain.Campaign {
	return &domain.Campaign{
		ID:        r.ID,
		AccountID: r.AccountID,
		Label:     r.Label,
		SendMode:  domain.SendMode(r.SendMode),
		LaneCount: r.LaneCount,
		Cap:       r.Cap,
		Status:    domain.CampaignStatus(r.Status),
		CreatedAt: r.CreatedAt,
		Counters: domain.StatusCounters{
			Queued:  r.CountQueued,
			Sending: r.CountSending,
			Success: r.CountSuccess,
			Error:   r.CountError,
		},
	}
}

type dmItemRow struct {
	ID           string    `gorm:"primaryKey"`
	CampaignID   string    `gorm:"index:idx_dm_items_campaign_status,priority:1;not null"`
	AccountID    string    `gorm:"index:idx_dm_items_account_queued,priority:1;not null"`
	UserID       string    `gorm:"not null"`
	Message      string    `gorm:"type:text"`
	Status       string    `gorm:"index:idx_dm_items_campaign_status,priority:2;not null"`
	QueuedAt     time.Time `gorm:"index:idx_dm_items_account_queued,priority:2"`
	SendingAt    *time.Time
	SentAt       *time.Time
	ErrorDetail  string
	ScenarioID   string `gorm:"index"`
	EnrollmentID string
	StepIndex    *int
}

func (dmItemRow) TableName() string { return "dm_items" }

func itemFromDomain(it *domain.DMItem) dmItemRow {
	return dmItemRow{
		ID:           it.ID,
		CampaignID:   it.CampaignID,
		AccountID:    it.AccountID,
		UserID:       it.UserID,
		Message:      it.Message,
		Status:       string(it.Status),
		QueuedAt:     it.QueuedAt,
		SendingAt:    it.SendingAt,
		SentAt:       it.SentAt,
		ErrorDetail:  it.ErrorDetail,
		ScenarioID:   it.ScenarioID,
		EnrollmentID: it.EnrollmentID,
		StepIndex:    it.StepIndex,
	}
}

func (r dmItemRow) toDomain() *domain.DMItem {
	return &domain.DMItem{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		AccountID:    r.AccountID,
		UserID:       r.UserID,
		Message:      r.Message,
		Status:       domain.DMStatus(r.Status),
		QueuedAt:     r.QueuedAt,
		SendingAt:    r.SendingAt,
		SentAt:       r.SentAt,
		ErrorDetail:  r.ErrorDetail,
		ScenarioID:   r.ScenarioID,
		EnrollmentID: r.EnrollmentID,
		StepIndex:    r.StepIndex,
	}
}

type scenarioRow struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"index:idx_scenarios_trigger,priority:1;not null"`
	Name           string
	TriggerType    string         `gorm:"index:idx_scenarios_trigger,priority:2;not null"`
	SegmentTargets datatypes.JSON `gorm:"type:jsonb"`
	Steps          datatypes.JSON `gorm:"type:jsonb"`
	DailySendLimit int
	IsActive       bool
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
}

func (scenarioRow) TableName() string { return "scenarios" }

func scenarioFromDomain(def *domain.ScenarioDefinition) (scenarioRow, error) {
	targets := def.SegmentTargets
	if targets == nil {
		targets = []domain.SegmentID{}
	}
	targetsJSON, err := json.Marshal(targets)
	if err != nil {
		return scenarioRow{}, fmt.Errorf("failed to marshal segment targets: %w", err)
	}
	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return scenarioRow{}, fmt.Errorf("failed to marshal steps: %w", err)
	}

	return scenarioRow{
		ID:             def.ID,
		AccountID:      def.AccountID,
		Name:           def.Name,
		TriggerType:    string(def.TriggerType),
		SegmentTargets: datatypes.JSON(targetsJSON),
		Steps:          datatypes.JSON(stepsJSON),
		DailySendLimit: def.DailySendLimit,
		IsActive:       def.IsActive,
		CreatedAt:      def.CreatedAt,
	}, nil
}

func (r scenarioRow) toDomain() (*domain.ScenarioDefinition, error) {
	def := &domain.ScenarioDefinition{
		ID:             r.ID,
		AccountID:      r.AccountID,
		Name:           r.Name,
		TriggerType:    domain.TriggerType(r.TriggerType),
		DailySendLimit: r.DailySendLimit,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
	}
	if len(r.SegmentTargets) > 0 {
		if err := json.Unmarshal(r.SegmentTargets, &def.SegmentTargets); err != nil {
			return nil, fmt.Errorf("failed to decode segment targets of scenario %s: %w", r.ID, err)
		}
	}
	if len(r.Steps) > 0 {
		if err := json.Unmarshal(r.Steps, &def.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps of scenario %s: %w", r.ID, err)
		}
	}
	return def, nil
}

type enrollmentRow struct {
	ID              string    `gorm:"primaryKey"`
	ScenarioID      string    `gorm:"not null"`
	AccountID       string    `gorm:"index:idx_enrollments_user,priority:1;not null"`
	UserID          string    `gorm:"index:idx_enrollments_user,priority:2;not null"`
	EnrolledAt      time.Time
	CurrentStep     int
	Status          string     `gorm:"index:idx_enrollments_due,priority:1;not null"`
	NextStepDueAt   *time.Time `gorm:"index:idx_enrollments_due,priority:2"`
	GoalReachedAt   *time.Time
	LastStepSentAt  *time.Time
	LastDeliveredAt *time.Time
	CompletedAt     *time.Time
}

func (enrollmentRow) TableName() string { return "enrollments" }

func enrollmentFromDomain(e *domain.Enrollment) enrollmentRow {
	return enrollmentRow{
		ID:              e.ID,
		ScenarioID:      e.ScenarioID,
		AccountID:       e.AccountID,
		UserID:          e.UserID,
		EnrolledAt:      e.EnrolledAt,
		CurrentStep:     e.CurrentStep,
		Status:          string(e.Status),
		NextStepDueAt:   e.NextStepDueAt,
		GoalReachedAt:   e.GoalReachedAt,
		LastStepSentAt:  e.LastStepSentAt,
		LastDeliveredAt: e.LastDeliveredAt,
		CompletedAt:     e.CompletedAt,
	}
}

func (r enrollmentRow) toDomain() *domain.Enrollment {
	return &domain.Enrollment{
		ID:              r.ID,
		ScenarioID:      r.ScenarioID,
		AccountID:       r.AccountID,
		UserID:          r.UserID,
		EnrolledAt:      r.EnrolledAt,
		CurrentStep:     r.CurrentStep,
		Status:          domain.EnrollmentStatus(r.Status),
		NextStepDueAt:   r.NextStepDueAt,
		GoalReachedAt:   r.GoalReachedAt,
		LastStepSentAt:  r.LastStepSentAt,
		LastDeliveredAt: r.LastDeliveredAt,
		CompletedAt:     r.CompletedAt,
	}
}

type alertRuleRow struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index;not null"`
	RuleType  string `gorm:"not null"`
	Threshold int64
	Enabled   bool
}

func (alertRuleRow) TableName() string { return "alert_rules" }

func (r alertRuleRow) toDomain() domain.AlertRule {
	return domain.AlertRule{
		ID:        r.ID,
		AccountID: r.AccountID,
		RuleType:  domain.AlertRuleType(r.RuleType),
		Threshold: r.Threshold,
		Enabled:   r.Enabled,
	}
}

type activityRow struct {
	AccountID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	Event     string `gorm:"primaryKey"`
	LastAt    time.Time
}

func (activityRow) TableName() string { return "goal_activity" }
