package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store implements the relational repositories on Postgres
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres and returns a store
func Open(dsn string, log *zap.Logger) (*Store, error) {
	gormLog := gormLogger.New(
		zap.NewStdLog(log.Named("gorm")),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	log.Info("Postgres connection established successfully")
	return NewStore(db, log), nil
}

// NewStore wraps an open gorm handle
func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// Migrate creates or updates every table and the active-enrollment uniqueness index
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&sessionRow{},
		&campaignRow{},
		&dmItemRow{},
		&scenarioRow{},
		&enrollmentRow{},
		&alertRuleRow{},
		&activityRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_enrollments_active
		ON enrollments (scenario_id, user_id) WHERE status = 'active'`).Error; err != nil {
		return fmt.Errorf("failed to create active enrollment index: %w", err)
	}

	s.log.Info("Postgres schema migrated successfully")
	return nil
}

// Ping checks the connection pool
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}

// updateAll writes every column of row by primary key and fails when the row is missing
func updateAll(db *gorm.DB, row any, kind, id string) error {
	res := db.Select("*").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SaveSession(ctx context.Context, w *domain.SessionWindow) error {
	row := sessionFromDomain(w)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cast_id", "started_at", "ended_at", "phase_override"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", w.SessionID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.SessionWindow, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error; err != nil {
		return nil, notFound("session", sessionID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign, items []*domain.DMItem) error {
	campaign := campaignFromDomain(c)
	rows := make([]dmItemRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, itemFromDomain(it))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return fmt.Errorf("failed to insert campaign: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, 500).Error; err != nil {
				return fmt.Errorf("failed to insert dm items: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	var row campaignRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", campaignID).Error; err != nil {
		return nil, notFound("campaign", campaignID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	row := campaignFromDomain(c)
	return updateAll(s.db.WithContext(ctx), &row, "campaign", c.ID)
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*domain.DMItem, error) {
	var row dmItemRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", itemID).Error; err != nil {
		return nil, notFound("dm item", itemID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListItems(ctx context.Context, campaignID string) ([]*domain.DMItem, error) {
	return s.findItems(ctx, s.db.Where("campaign_id = ?", campaignID))
}

func (s *Store) NextQueued(ctx context.Context, campaignID string) (*domain.DMItem, error) {
	var row dmItemRow
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, string(domain.DMQueued)).
		Order("queued_at ASC, id ASC").
		First(&row).Error
	if err != nil {
		return nil, notFound("queued item in campaign", campaignID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) SaveProgress(ctx context.Context, c *domain.Campaign, item *domain.DMItem) error {
	campaign := campaignFromDomain(c)
	row := itemFromDomain(item)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateAll(tx, &row, "dm item", item.ID); err != nil {
			return err
		}
		return updateAll(tx, &campaign, "campaign", c.ID)
	})
}

func (s *Store) CountActiveSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&dmItemRow{}).
		Where("account_id = ? AND status <> ? AND queued_at >= ?", accountID, string(domain.DMError), since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count dm items of account %s: %w", accountID, err)
	}
	return int(n), nil
}

func (s *Store) CountScenarioSince(ctx context.Context, scenarioID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&dmItemRow{}).
		Where("scenario_id = ? AND status <> ? AND queued_at >= ?", scenarioID, string(domain.DMError), since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count dm items of scenario %s: %w", scenarioID, err)
	}
	return int(n), nil
}

// LastUserSend returns the newest non-error item queued to the user strictly after the given time
func (s *Store) LastUserSend(ctx context.Context, accountID, userID string, after time.Time) (*domain.DMItem, error) {
	var row dmItemRow
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ? AND status <> ? AND queued_at > ?", accountID, userID, string(domain.DMError), after).
		Order("queued_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last dm item of user %s: %w", userID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) StaleSending(ctx context.Context, before time.Time) ([]*domain.DMItem, error) {
	return s.findItems(ctx, s.db.Where("status = ? AND sending_at < ?", string(domain.DMSending), before))
}

func (s *Store) findItems(ctx context.Context, scope *gorm.DB) ([]*domain.DMItem, error) {
	var rows []dmItemRow
	if err := scope.WithContext(ctx).Order("queued_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list dm items: %w", err)
	}
	out := make([]*domain.DMItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveScenario(ctx context.Context, def *domain.ScenarioDefinition) error {
	row, err := scenarioFromDomain(def)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"account_id",
				"name",
				"trigger_type",
				"segment_targets",
				"steps",
				"daily_send_limit",
				"is_active",
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save scenario %s: %w", def.ID, err)
	}
	return nil
}

func (s *Store) GetScenario(ctx context.Context, scenarioID string) (*domain.ScenarioDefinition, error) {
	var row scenarioRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", scenarioID).Error; err != nil {
		return nil, notFound("scenario", scenarioID, err)
	}
	return row.toDomain()
}

func (s *Store) ActiveScenarios(ctx context.Context, accountID string, trigger domain.TriggerType) ([]*domain.ScenarioDefinition, error) {
	var rows []scenarioRow
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND trigger_type = ? AND is_active", accountID, string(trigger)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios for %s: %w", trigger, err)
	}

	out := make([]*domain.ScenarioDefinition, 0, len(rows))
	for _, r := range rows {
		def, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	row := enrollmentFromDomain(e)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAlreadyEnrolled
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

func (s *Store) GetEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	var row enrollmentRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", enrollmentID).Error; err != nil {
		return nil, notFound("enrollment", enrollmentID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	row := enrollmentFromDomain(e)
	return updateAll(s.db.WithContext(ctx), &row, "enrollment", e.ID)
}

func (s *Store) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*domain.Enrollment, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND next_step_due_at <= ?", string(domain.EnrollmentActive), now).
		Order("next_step_due_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.findEnrollments(q)
}

func (s *Store) ActiveEnrollments(ctx context.Context, accountID, userID string) ([]*domain.Enrollment, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND account_id = ? AND user_id = ?", string(domain.EnrollmentActive), accountID, userID).
		Order("id ASC")
	return s.findEnrollments(q)
}

func (s *Store) findEnrollments(q *gorm.DB) ([]*domain.Enrollment, error) {
	var rows []enrollmentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	out := make([]*domain.Enrollment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SaveAlertRule(ctx context.Context, rule *domain.AlertRule) error {
	row := alertRuleRow{
		ID:        rule.ID,
		AccountID: rule.AccountID,
		RuleType:  string(rule.RuleType),
		Threshold: rule.Threshold,
		Enabled:   rule.Enabled,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"account_id", "rule_type", "threshold", "enabled"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save alert rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *Store) AlertRules(ctx context.Context, accountID string) ([]domain.AlertRule, error) {
	var rows []alertRuleRow
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules of %s: %w", accountID, err)
	}
	out := make([]domain.AlertRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) RecordActivity(ctx context.Context, accountID, userID string, ev domain.GoalEvent, at time.Time) error {
	row := activityRow{AccountID: accountID, UserID: userID, Event: string(ev), LastAt: at}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "user_id"}, {Name: "event"}},
			DoUpdates: clause.Set{{
				Column: clause.Column{Name: "last_at"},
				Value:  gorm.Expr("GREATEST(goal_activity.last_at, EXCLUDED.last_at)"),
			}},
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record %s activity of user %s: %w", ev, userID, err)
	}
	return nil
}

func (s *Store) LastActivity(ctx context.Context, accountID, userID string, ev domain.GoalEvent) (time.Time, bool, error) {
	var row activityRow
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ? AND event = ?", accountID, userID, string(ev)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load %s activity of user %s: %w", ev, userID, err)
	}
	return row.LastAt, true, nil
}
