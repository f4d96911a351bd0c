package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
	"github.com/BarkinBalci/livespot-engine/internal/telemetry"
)

var _ ScenarioServicer = (*ScenarioService)(nil)

// ScenarioService exposes scenario definitions, triggers and goals
type ScenarioService struct {
	engine ScenarioEngine
	log    *zap.Logger
}

// NewScenarioService creates a scenario service
func NewScenarioService(engine ScenarioEngine, log *zap.Logger) *ScenarioService {
	return &ScenarioService{engine: engine, log: log}
}

// DefineScenario validates and stores a scenario definition
func (s *ScenarioService) DefineScenario(ctx context.Context, req *dto.DefineScenarioRequest) (*domain.ScenarioDefinition, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ScenarioService.DefineScenario", trace.WithAttributes(
		attribute.String("account_id", req.AccountID),
		attribute.String("trigger_type", req.TriggerType),
	))
	defer span.End()

	def := &domain.ScenarioDefinition{
		ID:             req.ID,
		AccountID:      req.AccountID,
		Name:           req.Name,
		TriggerType:    domain.TriggerType(strings.ToLower(req.TriggerType)),
		DailySendLimit: req.DailySendLimit,
		IsActive:       true,
	}
	if req.IsActive != nil {
		def.IsActive = *req.IsActive
	}

	for _, raw := range req.SegmentTargets {
		seg, err := domain.ParseSegmentID(raw)
		if err != nil {
			return nil, fail(span, fmt.Errorf("%w: %s", domain.ErrInvalidDefinition, err.Error()))
		}
		def.SegmentTargets = append(def.SegmentTargets, seg)
	}

	for _, st := range req.Steps {
		def.Steps = append(def.Steps, domain.ScenarioStep{
			Index:      st.StepIndex,
			Kind:       domain.StepKind(strings.ToLower(st.Kind)),
			DelayHours: st.DelayHours,
			Template:   st.Template,
			Goal:       domain.GoalPredicate(strings.ToLower(st.Goal)),
		})
	}

	saved, err := s.engine.Define(ctx, def)
	if err != nil {
		return nil, fail(span, err)
	}
	return saved, nil
}

// Trigger enrolls a user into every active scenario the signal qualifies for
func (s *ScenarioService) Trigger(ctx context.Context, req *dto.TriggerRequest) (*dto.EnrollmentsResponse, error) {
	trig := domain.Trigger{
		Type:      domain.TriggerType(strings.ToLower(req.TriggerType)),
		AccountID: req.AccountID,
		UserID:    req.UserID,
	}
	if !trig.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger type %q", domain.ErrInvalidInput, req.TriggerType)
	}
	if req.Segment != "" {
		seg, err := domain.ParseSegmentID(req.Segment)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
		}
		trig.Segment = &seg
	}

	created, err := s.engine.Enroll(ctx, trig)
	if err != nil {
		return nil, err
	}
	if created == nil {
		created = []*domain.Enrollment{}
	}
	return &dto.EnrollmentsResponse{Enrollments: created}, nil
}

// CancelEnrollment ends an enrollment on operator request
func (s *ScenarioService) CancelEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	return s.engine.Cancel(ctx, enrollmentID)
}

// ObserveGoal records a user action reported from outside the live stream,
// such as a DM reply
func (s *ScenarioService) ObserveGoal(ctx context.Context, req *dto.GoalRequest) (*dto.GoalResponse, error) {
	ev := domain.GoalEvent(strings.ToLower(req.Event))
	if !ev.Valid() {
		return nil, fmt.Errorf("%w: unknown goal event %q", domain.ErrInvalidInput, req.Event)
	}

	reached, err := s.engine.ObserveGoal(ctx, req.AccountID, req.UserID, ev)
	if err != nil {
		return nil, err
	}
	if reached > 0 {
		s.log.Info("Goal reached",
			zap.String("account_id", req.AccountID),
			zap.String("user_id", req.UserID),
			zap.String("goal_event", string(ev)),
			zap.Int("enrollments", reached))
	}
	return &dto.GoalResponse{GoalReached: reached}, nil
}
