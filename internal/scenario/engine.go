package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/dispatch"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

const (
	defaultBatchLimit = 100
	// duplicateWindow is how long a user is left alone after any DM
	duplicateWindow = 24 * time.Hour
)

// Sender queues scenario steps as DM batches
type Sender interface {
	CreateAutomated(ctx context.Context, req dispatch.BatchRequest) (*domain.Campaign, []*domain.DMItem, error)
	StartOfDay(t time.Time) time.Time
}

// SendHistory reads DMs already queued, for the daily cap and the duplicate guard
type SendHistory interface {
	CountScenarioSince(ctx context.Context, scenarioID string, since time.Time) (int, error)
	LastUserSend(ctx context.Context, accountID, userID string, after time.Time) (*domain.DMItem, error)
}

// Report summarizes one ProcessDue run
type Report struct {
	Sent        int `json:"sent"`
	Completed   int `json:"completed"`
	GoalReached int `json:"goal_reached"`
	Deferred    int `json:"deferred"`
	Retried     int `json:"retried"`
	Skipped     int `json:"skipped"`
}

// Engine drives enrollments through their scenario steps
type Engine struct {
	mu         sync.Mutex
	repo       repository.ScenarioRepository
	sender     Sender
	history    SendHistory
	activity   ActivityLog
	batchLimit int
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine creates a scenario engine
func NewEngine(repo repository.ScenarioRepository, sender Sender, history SendHistory, activity ActivityLog, batchLimit int, logger *zap.Logger) *Engine {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &Engine{
		repo:       repo,
		sender:     sender,
		history:    history,
		activity:   activity,
		batchLimit: batchLimit,
		now:        time.Now,
		logger:     logger,
	}
}

// Define validates and stores a scenario definition
func (e *Engine) Define(ctx context.Context, def *domain.ScenarioDefinition) (*domain.ScenarioDefinition, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = e.now()
	}

	if err := e.repo.SaveScenario(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save scenario: %w", err)
	}

	e.logger.Info("Scenario defined",
		zap.String("scenario_id", def.ID),
		zap.String("trigger_type", string(def.TriggerType)),
		zap.Int("steps", len(def.Steps)))
	return def, nil
}

// Enroll creates enrollments for every active scenario the trigger qualifies
// for. A user with an active enrollment in a scenario is not enrolled again.
func (e *Engine) Enroll(ctx context.Context, trig domain.Trigger) ([]*domain.Enrollment, error) {
	if !trig.Type.Valid() {
		return nil, fmt.Errorf("unknown trigger type %q", trig.Type)
	}
	if trig.UserID == "" {
		return nil, fmt.Errorf("trigger has no user")
	}

	defs, err := e.repo.ActiveScenarios(ctx, trig.AccountID, trig.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}

	var created []*domain.Enrollment
	for _, def := range defs {
		if !def.Targets(trig.Segment) || len(def.Steps) == 0 {
			continue
		}

		now := e.now()
		due := now.Add(def.Steps[0].Delay())
		en := &domain.Enrollment{
			ID:            uuid.New().String(),
			ScenarioID:    def.ID,
			AccountID:     trig.AccountID,
			UserID:        trig.UserID,
			EnrolledAt:    now,
			CurrentStep:   0,
			Status:        domain.EnrollmentActive,
			NextStepDueAt: &due,
		}

		if err := e.repo.CreateEnrollment(ctx, en); err != nil {
			if errors.Is(err, domain.ErrAlreadyEnrolled) {
				continue
			}
			return created, fmt.Errorf("failed to enroll user in scenario %s: %w", def.ID, err)
		}

		e.logger.Info("User enrolled",
			zap.String("scenario_id", def.ID),
			zap.String("enrollment_id", en.ID),
			zap.String("user_id", en.UserID),
			zap.String("trigger_type", string(trig.Type)))
		created = append(created, en)
	}
	return created, nil
}

// ProcessDue advances every enrollment whose next step is due
func (e *Engine) ProcessDue(ctx context.Context) (Report, error) {
	var report Report

	due, err := e.repo.DueEnrollments(ctx, e.now(), e.batchLimit)
	if err != nil {
		return report, fmt.Errorf("failed to load due enrollments: %w", err)
	}

	defs := make(map[string]*domain.ScenarioDefinition)
	var errs []error
	for _, en := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.process(ctx, en.ID, defs, &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (e *Engine) process(ctx context.Context, enrollmentID string, defs map[string]*domain.ScenarioDefinition, report *Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, err := e.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	now := e.now()
	if en.Status != domain.EnrollmentActive || en.NextStepDueAt == nil || en.NextStepDueAt.After(now) {
		return nil
	}

	def, ok := defs[en.ScenarioID]
	if !ok {
		def, err = e.repo.GetScenario(ctx, en.ScenarioID)
		if err != nil {
			return fmt.Errorf("failed to load scenario for enrollment %s: %w", en.ID, err)
		}
		defs[en.ScenarioID] = def
	}
	if !def.IsActive {
		report.Skipped++
		return nil
	}

	if en.CurrentStep >= len(def.Steps) {
		e.complete(en, now)
		report.Completed++
		return e.save(ctx, en)
	}
	step := def.Steps[en.CurrentStep]

	met, err := goalMet(ctx, e.activity, step.Goal, en.AccountID, en.UserID, en.EnrolledAt)
	if err != nil {
		return err
	}
	if met {
		e.reachGoal(en, now)
		report.GoalReached++
		return e.save(ctx, en)
	}

	stepIndex := en.CurrentStep
	last, err := e.lastSend(ctx, en, now)
	if err != nil {
		return err
	}
	if last != nil {
		if last.EnrollmentID == en.ID && last.StepIndex != nil && *last.StepIndex == stepIndex {
			// queued by an earlier cycle whose enrollment update was lost
			e.logger.Info("Scenario step already queued",
				zap.String("enrollment_id", en.ID),
				zap.String("item_id", last.ID),
				zap.Int("step", stepIndex))
			e.advance(en, def, last.QueuedAt, now, report)
			return e.save(ctx, en)
		}

		next := last.QueuedAt.Add(duplicateWindow)
		en.NextStepDueAt = &next
		report.Skipped++
		e.logger.Debug("Scenario step skipped, user messaged recently",
			zap.String("enrollment_id", en.ID),
			zap.String("user_id", en.UserID),
			zap.Time("next_step_due_at", next))
		return e.save(ctx, en)
	}

	if err := e.checkDailyCap(ctx, def, now); err != nil {
		if !errors.Is(err, domain.ErrSchedulingDeferral) {
			return err
		}
		next := e.sender.StartOfDay(now).Add(24 * time.Hour)
		en.NextStepDueAt = &next
		report.Deferred++
		e.logger.Debug("Scenario step deferred",
			zap.String("enrollment_id", en.ID),
			zap.Time("next_step_due_at", next))
		return e.save(ctx, en)
	}

	_, _, err = e.sender.CreateAutomated(ctx, dispatch.BatchRequest{
		AccountID:    en.AccountID,
		Label:        "scenario:" + def.Name,
		Targets:      []string{en.UserID},
		Template:     step.Template,
		SendMode:     domain.SendSequential,
		ScenarioID:   def.ID,
		EnrollmentID: en.ID,
		StepIndex:    &stepIndex,
	})
	if err != nil {
		// the step is retried next cycle with the enrollment untouched
		report.Retried++
		var quotaErr *domain.QuotaExceededError
		if errors.As(err, &quotaErr) {
			e.logger.Info("Scenario step waiting for quota",
				zap.String("enrollment_id", en.ID),
				zap.Int("used", quotaErr.Used),
				zap.Int("limit", quotaErr.Limit))
			return nil
		}
		return fmt.Errorf("failed to send step %d of enrollment %s: %w", stepIndex, en.ID, err)
	}

	report.Sent++
	e.advance(en, def, now, now, report)
	return e.save(ctx, en)
}

// advance moves en past a step queued at sentAt
func (e *Engine) advance(en *domain.Enrollment, def *domain.ScenarioDefinition, sentAt, now time.Time, report *Report) {
	en.CurrentStep++
	en.LastStepSentAt = &sentAt
	if en.CurrentStep >= len(def.Steps) {
		e.complete(en, now)
		report.Completed++
		return
	}
	next := sentAt.Add(def.Steps[en.CurrentStep].Delay())
	en.NextStepDueAt = &next
}

// lastSend returns the latest live DM to the enrollment's user inside the duplicate window
func (e *Engine) lastSend(ctx context.Context, en *domain.Enrollment, now time.Time) (*domain.DMItem, error) {
	if e.history == nil {
		return nil, nil
	}
	last, err := e.history.LastUserSend(ctx, en.AccountID, en.UserID, now.Add(-duplicateWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to check recent DMs of %s: %w", en.UserID, err)
	}
	return last, nil
}

func (e *Engine) checkDailyCap(ctx context.Context, def *domain.ScenarioDefinition, now time.Time) error {
	if def.DailySendLimit <= 0 || e.history == nil {
		return nil
	}
	sent, err := e.history.CountScenarioSince(ctx, def.ID, e.sender.StartOfDay(now))
	if err != nil {
		return fmt.Errorf("failed to count scenario sends: %w", err)
	}
	if sent >= def.DailySendLimit {
		return fmt.Errorf("scenario %s sent %d of %d today: %w", def.ID, sent, def.DailySendLimit, domain.ErrSchedulingDeferral)
	}
	return nil
}

func (e *Engine) complete(en *domain.Enrollment, now time.Time) {
	en.Status = domain.EnrollmentCompleted
	en.CompletedAt = &now
	en.NextStepDueAt = nil
}

func (e *Engine) reachGoal(en *domain.Enrollment, now time.Time) {
	en.Status = domain.EnrollmentGoalReached
	en.GoalReachedAt = &now
	en.NextStepDueAt = nil
	e.logger.Info("Scenario goal reached",
		zap.String("enrollment_id", en.ID),
		zap.String("user_id", en.UserID),
		zap.Int("step", en.CurrentStep))
}

func (e *Engine) save(ctx context.Context, en *domain.Enrollment) error {
	if err := e.repo.UpdateEnrollment(ctx, en); err != nil {
		return fmt.Errorf("failed to update enrollment %s: %w", en.ID, err)
	}
	return nil
}

// ObserveGoal records a user action and ends every active enrollment whose
// pending step goal it satisfies. It returns how many enrollments ended.
func (e *Engine) ObserveGoal(ctx context.Context, accountID, userID string, ev domain.GoalEvent) (int, error) {
	if !ev.Valid() {
		return 0, fmt.Errorf("unknown goal event %q", ev)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.activity != nil {
		if err := e.activity.RecordActivity(ctx, accountID, userID, ev, now); err != nil {
			return 0, fmt.Errorf("failed to record goal event: %w", err)
		}
	}

	active, err := e.repo.ActiveEnrollments(ctx, accountID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load enrollments: %w", err)
	}

	reached := 0
	for _, en := range active {
		def, err := e.repo.GetScenario(ctx, en.ScenarioID)
		if err != nil {
			return reached, fmt.Errorf("failed to load scenario %s: %w", en.ScenarioID, err)
		}
		if en.CurrentStep >= len(def.Steps) || !def.Steps[en.CurrentStep].Goal.Matches(ev) {
			continue
		}

		e.reachGoal(en, now)
		if err := e.save(ctx, en); err != nil {
			return reached, err
		}
		reached++
	}
	return reached, nil
}

// Cancel ends an enrollment on operator request. Cancelling twice is a no-op;
// enrollments that already finished cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, err := e.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	switch en.Status {
	case domain.EnrollmentCancelled:
		return en, nil
	case domain.EnrollmentActive:
	default:
		return nil, fmt.Errorf("enrollment %s is %s: %w", en.ID, en.Status, domain.ErrEnrollmentClosed)
	}

	en.Status = domain.EnrollmentCancelled
	en.NextStepDueAt = nil
	if err := e.save(ctx, en); err != nil {
		return nil, err
	}

	e.logger.Info("Enrollment cancelled", zap.String("enrollment_id", en.ID))
	return en, nil
}

// OnDelivery records successful step deliveries on their enrollment while it
// is still active
func (e *Engine) OnDelivery(ctx context.Context, item domain.DMItem) {
	if item.EnrollmentID == "" {
		return
	}

	if item.Status == domain.DMError {
		e.logger.Warn("Scenario step delivery failed",
			zap.String("enrollment_id", item.EnrollmentID),
			zap.String("item_id", item.ID),
			zap.String("detail", item.ErrorDetail))
		return
	}
	if item.Status != domain.DMSuccess || item.SentAt == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	en, err := e.repo.GetEnrollment(ctx, item.EnrollmentID)
	if err != nil {
		e.logger.Error("Failed to load enrollment for delivery", zap.String("enrollment_id", item.EnrollmentID), zap.Error(err))
		return
	}
	if en.Status != domain.EnrollmentActive {
		return
	}
	if en.LastDeliveredAt != nil && !item.SentAt.After(*en.LastDeliveredAt) {
		return
	}

	sentAt := *item.SentAt
	en.LastDeliveredAt = &sentAt
	if err := e.save(ctx, en); err != nil {
		e.logger.Error("Failed to record delivery", zap.String("enrollment_id", en.ID), zap.Error(err))
	}
}

// Run processes due enrollments on every tick until ctx is done
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Scenario scheduler shutting down")
			return
		case <-ticker.C:
			report, err := e.ProcessDue(ctx)
			if err != nil {
				e.logger.Error("Scenario processing finished with errors", zap.Error(err))
			}
			if report != (Report{}) {
				e.logger.Info("Scenario steps processed",
					zap.Int("sent", report.Sent),
					zap.Int("completed", report.Completed),
					zap.Int("goal_reached", report.GoalReached),
					zap.Int("deferred", report.Deferred),
					zap.Int("retried", report.Retried),
					zap.Int("skipped", report.Skipped))
			}
		}
	}
}
