package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
)

func TestScenarioService_DefineScenario(t *testing.T) {
	engine := new(MockEnroller)
	svc := NewScenarioService(engine, zap.NewNop())

	engine.On("Define", mock.Anything, mock.MatchedBy(func(def *domain.ScenarioDefinition) bool {
		return def.TriggerType == domain.TriggerFirstPayment &&
			def.IsActive &&
			assert.ObjectsAreEqual([]domain.SegmentID{"S9", "S10"}, def.SegmentTargets) &&
			len(def.Steps) == 2 &&
			def.Steps[1].Goal == domain.GoalReplyOrVisit &&
			def.Steps[1].Kind == domain.StepMessage
	})).Return(&domain.ScenarioDefinition{ID: "sc1"}, nil).Once()

	def, err := svc.DefineScenario(context.Background(), &dto.DefineScenarioRequest{
		AccountID:      "cast-1",
		Name:           "welcome",
		TriggerType:    "First_Payment",
		SegmentTargets: []string{"s9", " S10 "},
		Steps: []dto.ScenarioStepRequest{
			{StepIndex: 0, Kind: "message", Template: "thanks {username}"},
			{StepIndex: 1, Kind: "MESSAGE", DelayHours: 24, Template: "see you tonight", Goal: "reply_or_visit"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "sc1", def.ID)
	engine.AssertExpectations(t)
}

func TestScenarioService_DefineScenarioRejectsBadSegment(t *testing.T) {
	engine := new(MockEnroller)
	svc := NewScenarioService(engine, zap.NewNop())

	_, err := svc.DefineScenario(context.Background(), &dto.DefineScenarioRequest{
		AccountID:      "cast-1",
		Name:           "welcome",
		TriggerType:    "first_payment",
		SegmentTargets: []string{"S11"},
		Steps:          []dto.ScenarioStepRequest{{Kind: "message", Template: "hi"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
	engine.AssertNotCalled(t, "Define", mock.Anything, mock.Anything)
}

func TestScenarioService_Trigger(t *testing.T) {
	engine := new(MockEnroller)
	svc := NewScenarioService(engine, zap.NewNop())
	ctx := context.Background()

	engine.On("Enroll", mock.Anything, mock.MatchedBy(func(trig domain.Trigger) bool {
		return trig.Type == domain.TriggerChurnRisk && trig.Segment != nil && *trig.Segment == "S4"
	})).Return(nil, nil).Once()

	resp, err := svc.Trigger(ctx, &dto.TriggerRequest{TriggerType: "churn_risk", AccountID: "cast-1", UserID: "u1", Segment: "s4"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Enrollments)
	assert.Empty(t, resp.Enrollments)

	_, err = svc.Trigger(ctx, &dto.TriggerRequest{TriggerType: "birthday", AccountID: "cast-1", UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Trigger(ctx, &dto.TriggerRequest{TriggerType: "first_visit", AccountID: "cast-1", UserID: "u1", Segment: "gold"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	engine.AssertExpectations(t)
}

func TestScenarioService_ObserveGoal(t *testing.T) {
	engine := new(MockEnroller)
	svc := NewScenarioService(engine, zap.NewNop())
	ctx := context.Background()

	engine.On("ObserveGoal", mock.Anything, "cast-1", "u1", domain.GoalEventReply).Return(2, nil).Once()

	resp, err := svc.ObserveGoal(ctx, &dto.GoalRequest{AccountID: "cast-1", UserID: "u1", Event: "Reply"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.GoalReached)

	_, err = svc.ObserveGoal(ctx, &dto.GoalRequest{AccountID: "cast-1", UserID: "u1", Event: "follow"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	engine.AssertExpectations(t)
}

func TestScenarioService_CancelEnrollment(t *testing.T) {
	engine := new(MockEnroller)
	svc := NewScenarioService(engine, zap.NewNop())

	engine.On("Cancel", mock.Anything, "e1").Return(&domain.Enrollment{ID: "e1", Status: domain.EnrollmentCancelled}, nil).Once()
	engine.On("Cancel", mock.Anything, "e2").Return(nil, domain.ErrEnrollmentClosed).Once()

	e, err := svc.CancelEnrollment(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCancelled, e.Status)

	_, err = svc.CancelEnrollment(context.Background(), "e2")
	assert.ErrorIs(t, err, domain.ErrEnrollmentClosed)
	engine.AssertExpectations(t)
}
