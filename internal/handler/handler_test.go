package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
)

// MockSessionService is a mock implementation of service.SessionServicer
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) OpenSession(ctx context.Context, req *dto.OpenSessionRequest) (*dto.SessionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.SessionResponse), args.Error(1)
}

func (m *MockSessionService) EndSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.SessionResponse), args.Error(1)
}

func (m *MockSessionService) SetPhaseOverride(ctx context.Context, sessionID string, req *dto.PhaseOverrideRequest) (*dto.PhaseResponse, error) {
	args := m.Called(ctx, sessionID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.PhaseResponse), args.Error(1)
}

func (m *MockSessionService) Phase(ctx context.Context, sessionID string) (*dto.PhaseResponse, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.PhaseResponse), args.Error(1)
}

func (m *MockSessionService) IngestEvents(ctx context.Context, sessionID string, req *dto.IngestEventsRequest) (*dto.IngestResponse, error) {
	args := m.Called(ctx, sessionID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.IngestResponse), args.Error(1)
}

func (m *MockSessionService) Snapshot(ctx context.Context, sessionID string) (*aggregator.Snapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*aggregator.Snapshot), args.Error(1)
}

func (m *MockSessionService) Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSummary), args.Error(1)
}

func (m *MockSessionService) Alerts(ctx context.Context, sessionID string) (*dto.AlertsResponse, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.AlertsResponse), args.Error(1)
}

func (m *MockSessionService) Leaderboard(ctx context.Context, sessionID string, limit int) (*dto.LeaderboardResponse, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.LeaderboardResponse), args.Error(1)
}

func (m *MockSessionService) Insight(ctx context.Context, sessionID string) (*dto.InsightResponse, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.InsightResponse), args.Error(1)
}

func (m *MockSessionService) Classify(req *dto.ClassifyRequest) *dto.ClassifyResponse {
	args := m.Called(req)
	return args.Get(0).(*dto.ClassifyResponse)
}

func (m *MockSessionService) SaveAlertRule(ctx context.Context, req *dto.AlertRuleRequest) (*domain.AlertRule, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AlertRule), args.Error(1)
}

func (m *MockSessionService) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockCampaignService is a mock implementation of service.CampaignServicer
type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CampaignResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CampaignResponse), args.Error(1)
}

func (m *MockCampaignService) GetCampaign(ctx context.Context, campaignID string) (*dto.CampaignResponse, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CampaignResponse), args.Error(1)
}

func (m *MockCampaignService) CancelCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *MockCampaignService) Claim(ctx context.Context, campaignID string) (*domain.DMItem, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DMItem), args.Error(1)
}

func (m *MockCampaignService) ReportStatus(ctx context.Context, itemID string, req *dto.ReportStatusRequest) (*domain.DMItem, error) {
	args := m.Called(ctx, itemID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DMItem), args.Error(1)
}

func (m *MockCampaignService) Unlock(ctx context.Context, accountID string, req *dto.UnlockRequest) (*dto.UnlockResponse, error) {
	args := m.Called(ctx, accountID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.UnlockResponse), args.Error(1)
}

func (m *MockCampaignService) Lock(ctx context.Context, accountID string) (*dto.UnlockResponse, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.UnlockResponse), args.Error(1)
}

func (m *MockCampaignService) Quota(ctx context.Context, accountID string) (*dto.QuotaResponse, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.QuotaResponse), args.Error(1)
}

// MockScenarioService is a mock implementation of service.ScenarioServicer
type MockScenarioService struct {
	mock.Mock
}

func (m *MockScenarioService) DefineScenario(ctx context.Context, req *dto.DefineScenarioRequest) (*domain.ScenarioDefinition, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScenarioDefinition), args.Error(1)
}

func (m *MockScenarioService) Trigger(ctx context.Context, req *dto.TriggerRequest) (*dto.EnrollmentsResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.EnrollmentsResponse), args.Error(1)
}

func (m *MockScenarioService) CancelEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	args := m.Called(ctx, enrollmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Enrollment), args.Error(1)
}

func (m *MockScenarioService) ObserveGoal(ctx context.Context, req *dto.GoalRequest) (*dto.GoalResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.GoalResponse), args.Error(1)
}

type testHandler struct {
	*Handler
	sessions  *MockSessionService
	campaigns *MockCampaignService
	scenarios *MockScenarioService
}

func newTestHandler() *testHandler {
	th := &testHandler{
		sessions:  new(MockSessionService),
		campaigns: new(MockCampaignService),
		scenarios: new(MockScenarioService),
	}
	th.Handler = NewHandler(th.sessions, th.campaigns, th.scenarios, zap.NewNop())
	return th
}

func (th *testHandler) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	th.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var response dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestHandler_HealthCheck(t *testing.T) {
	th := newTestHandler()
	th.sessions.On("Health", mock.Anything).Return(nil).Once()

	w := th.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])

	th.sessions.On("Health", mock.Anything).Return(errors.New("clickhouse down")).Once()
	w = th.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_OpenSession(t *testing.T) {
	th := newTestHandler()
	req := dto.OpenSessionRequest{SessionID: "s1", CastID: "cast-1"}
	th.sessions.On("OpenSession", mock.Anything, &req).Return(&dto.SessionResponse{
		Session: domain.SessionWindow{SessionID: "s1", CastID: "cast-1"},
		Phase:   domain.PhaseLive,
	}, nil).Once()

	w := th.do(http.MethodPost, "/sessions", req)
	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, domain.PhaseLive, response.Phase)
	th.sessions.AssertExpectations(t)
}

func TestHandler_OpenSession_MissingRequiredFields(t *testing.T) {
	th := newTestHandler()

	w := th.do(http.MethodPost, "/sessions", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error)
	th.sessions.AssertNotCalled(t, "OpenSession", mock.Anything, mock.Anything)
}

func TestHandler_IngestEvents(t *testing.T) {
	th := newTestHandler()
	body := dto.IngestEventsRequest{Events: []dto.EventRequest{
		{Seq: 1, Type: "enter", UserID: "u1"},
		{Seq: 2, Type: "tip", UserID: "u1", Amount: 100},
	}}
	th.sessions.On("IngestEvents", mock.Anything, "s1", &body).Return(&dto.IngestResponse{
		SessionID: "s1", Accepted: 2, NewPayers: []string{"u1"},
	}, nil).Once()

	w := th.do(http.MethodPost, "/sessions/s1/events", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var response dto.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Accepted)
	assert.Equal(t, []string{"u1"}, response.NewPayers)
	th.sessions.AssertExpectations(t)
}

func TestHandler_IngestEvents_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "invalid json", body: []byte(`{"events": [invalid}`)},
		{name: "empty batch", body: dto.IngestEventsRequest{Events: []dto.EventRequest{}}},
		{name: "missing seq", body: dto.IngestEventsRequest{Events: []dto.EventRequest{{Type: "chat"}}}},
		{name: "negative amount", body: dto.IngestEventsRequest{Events: []dto.EventRequest{{Seq: 1, Type: "tip", UserID: "u1", Amount: -5}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandler()
			w := th.do(http.MethodPost, "/sessions/s1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			th.sessions.AssertNotCalled(t, "IngestEvents", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectErr  string
	}{
		{name: "not live", err: fmt.Errorf("session s1 is post: %w", domain.ErrSessionNotLive), expectCode: http.StatusConflict, expectErr: "conflict"},
		{name: "unknown session", err: fmt.Errorf("session s1: %w", domain.ErrNotFound), expectCode: http.StatusNotFound, expectErr: "not_found"},
		{name: "bad event", err: fmt.Errorf("%w: unknown type", domain.ErrInvalidInput), expectCode: http.StatusBadRequest, expectErr: "validation_error"},
		{name: "store failure", err: errors.New("clickhouse down"), expectCode: http.StatusInternalServerError, expectErr: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandler()
			th.sessions.On("IngestEvents", mock.Anything, "s1", mock.Anything).Return(nil, tt.err).Once()

			w := th.do(http.MethodPost, "/sessions/s1/events", dto.IngestEventsRequest{Events: []dto.EventRequest{{Seq: 1, Type: "chat"}}})
			assert.Equal(t, tt.expectCode, w.Code)
			assert.Equal(t, tt.expectErr, decodeError(t, w).Error)
		})
	}
}

func TestHandler_SessionReads(t *testing.T) {
	th := newTestHandler()
	th.sessions.On("Snapshot", mock.Anything, "s1").Return(&aggregator.Snapshot{SessionID: "s1", TotalAmount: 300}, nil).Once()
	th.sessions.On("Summary", mock.Anything, "s1").Return(&domain.SessionSummary{SessionID: "s1", Source: "store"}, nil).Once()
	th.sessions.On("Alerts", mock.Anything, "s1").Return(&dto.AlertsResponse{SessionID: "s1", Alerts: []domain.Notification{}}, nil).Once()
	th.sessions.On("Leaderboard", mock.Anything, "s1", 3).Return(&dto.LeaderboardResponse{SessionID: "s1", Viewers: []dto.LeaderboardEntry{{Rank: 1, UserID: "u1"}}}, nil).Once()
	th.sessions.On("Leaderboard", mock.Anything, "s1", 0).Return(&dto.LeaderboardResponse{SessionID: "s1", Viewers: []dto.LeaderboardEntry{}}, nil).Once()
	th.sessions.On("Phase", mock.Anything, "s1").Return(&dto.PhaseResponse{SessionID: "s1", Phase: domain.PhasePost}, nil).Once()

	for _, path := range []string{"/sessions/s1/snapshot", "/sessions/s1/summary", "/sessions/s1/alerts", "/sessions/s1/leaderboard?limit=3", "/sessions/s1/phase"} {
		w := th.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := th.do(http.MethodGet, "/sessions/s1/leaderboard?limit=0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = th.do(http.MethodGet, "/sessions/s1/leaderboard?limit=9999", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	th.sessions.AssertExpectations(t)
}

func TestHandler_PhaseOverride(t *testing.T) {
	th := newTestHandler()
	pre := domain.PhasePre
	th.sessions.On("SetPhaseOverride", mock.Anything, "s1", &dto.PhaseOverrideRequest{Phase: "pre"}).Return(&dto.PhaseResponse{
		SessionID: "s1", Phase: domain.PhasePre, Override: &pre,
	}, nil).Once()
	th.sessions.On("EndSession", mock.Anything, "s1").Return(&dto.SessionResponse{Phase: domain.PhaseLive}, nil).Once()

	w := th.do(http.MethodPost, "/sessions/s1/phase", dto.PhaseOverrideRequest{Phase: "pre"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = th.do(http.MethodPost, "/sessions/s1/phase", dto.PhaseOverrideRequest{Phase: "paused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = th.do(http.MethodPost, "/sessions/s1/end", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	th.sessions.AssertExpectations(t)
}

func TestHandler_Insight_NotConfigured(t *testing.T) {
	th := newTestHandler()
	th.sessions.On("Insight", mock.Anything, "s1").Return(nil, domain.ErrInsightDisabled).Once()

	w := th.do(http.MethodPost, "/sessions/s1/insight", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "not_configured", decodeError(t, w).Error)
}

func TestHandler_Classify(t *testing.T) {
	th := newTestHandler()
	days := 3
	th.sessions.On("Classify", &dto.ClassifyRequest{LifetimeAmount: 6000, DaysSinceLastPayment: &days}).Return(&dto.ClassifyResponse{Segment: "S1"}).Once()
	th.sessions.On("Classify", &dto.ClassifyRequest{LifetimeAmount: 20}).Return(&dto.ClassifyResponse{Segment: "S10"}).Once()

	w := th.do(http.MethodGet, "/segments/classify?lifetime_amount=6000&days_since_last_payment=3", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var response dto.ClassifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, domain.SegmentID("S1"), response.Segment)

	w = th.do(http.MethodGet, "/segments/classify?lifetime_amount=20", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = th.do(http.MethodGet, "/segments/classify?lifetime_amount=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	th.sessions.AssertExpectations(t)
}

func TestHandler_SaveAlertRule(t *testing.T) {
	th := newTestHandler()
	req := dto.AlertRuleRequest{AccountID: "cast-1", RuleType: "high_tip", Threshold: 1000}
	th.sessions.On("SaveAlertRule", mock.Anything, &req).Return(&domain.AlertRule{ID: "r1", RuleType: domain.AlertHighTip, Threshold: 1000, Enabled: true}, nil).Once()

	w := th.do(http.MethodPost, "/alert-rules", req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = th.do(http.MethodPost, "/alert-rules", map[string]string{"rule_type": "high_tip"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	th.sessions.AssertExpectations(t)
}

func TestHandler_CreateCampaign(t *testing.T) {
	th := newTestHandler()
	req := dto.CreateCampaignRequest{AccountID: "cast-1", Targets: []string{"u1", "u2"}, Template: "hi {username}", SendMode: "pipeline", LaneCount: 2}
	th.campaigns.On("CreateCampaign", mock.Anything, &req).Return(&dto.CampaignResponse{
		Campaign: &domain.Campaign{ID: "c1", AccountID: "cast-1"},
		Items:    []*domain.DMItem{{ID: "i1"}, {ID: "i2"}},
	}, nil).Once()

	w := th.do(http.MethodPost, "/campaigns", req)
	assert.Equal(t, http.StatusCreated, w.Code)

	var response dto.CampaignResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "c1", response.Campaign.ID)
	assert.Len(t, response.Items, 2)
	th.campaigns.AssertExpectations(t)
}

func TestHandler_CreateCampaign_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectErr  string
	}{
		{name: "quota", err: &domain.QuotaExceededError{Used: 4990, Limit: 5000}, expectCode: http.StatusTooManyRequests, expectErr: "quota_exceeded"},
		{name: "locked", err: domain.ErrSendLocked, expectCode: http.StatusForbidden, expectErr: "send_blocked"},
		{name: "test mode", err: domain.ErrTestModeBlocked, expectCode: http.StatusForbidden, expectErr: "send_blocked"},
		{name: "lanes", err: domain.ErrLaneLimit, expectCode: http.StatusConflict, expectErr: "conflict"},
		{name: "no targets", err: domain.ErrNoTargets, expectCode: http.StatusBadRequest, expectErr: "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandler()
			th.campaigns.On("CreateCampaign", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			w := th.do(http.MethodPost, "/campaigns", dto.CreateCampaignRequest{AccountID: "cast-1", Targets: []string{"u1"}, Template: "hi"})
			assert.Equal(t, tt.expectCode, w.Code)
			assert.Equal(t, tt.expectErr, decodeError(t, w).Error)
		})
	}
}

func TestHandler_CampaignLifecycle(t *testing.T) {
	th := newTestHandler()
	th.campaigns.On("GetCampaign", mock.Anything, "c1").Return(&dto.CampaignResponse{Campaign: &domain.Campaign{ID: "c1"}}, nil).Once()
	th.campaigns.On("Claim", mock.Anything, "c1").Return(&domain.DMItem{ID: "i1", Status: domain.DMSending}, nil).Once()
	th.campaigns.On("CancelCampaign", mock.Anything, "c1").Return(&domain.Campaign{ID: "c1", Status: domain.CampaignCancelled}, nil).Once()
	th.campaigns.On("ReportStatus", mock.Anything, "i1", &dto.ReportStatusRequest{Status: "queued"}).Return(nil, domain.ErrStatusRegression).Once()
	th.campaigns.On("GetCampaign", mock.Anything, "missing").Return(nil, domain.ErrNotFound).Once()

	assert.Equal(t, http.StatusOK, th.do(http.MethodGet, "/campaigns/c1", nil).Code)
	assert.Equal(t, http.StatusOK, th.do(http.MethodPost, "/campaigns/c1/claim", nil).Code)
	assert.Equal(t, http.StatusOK, th.do(http.MethodPost, "/campaigns/c1/cancel", nil).Code)
	assert.Equal(t, http.StatusConflict, th.do(http.MethodPost, "/dm/items/i1/status", dto.ReportStatusRequest{Status: "queued"}).Code)
	assert.Equal(t, http.StatusBadRequest, th.do(http.MethodPost, "/dm/items/i1/status", map[string]string{}).Code)
	assert.Equal(t, http.StatusNotFound, th.do(http.MethodGet, "/campaigns/missing", nil).Code)
	th.campaigns.AssertExpectations(t)
}

func TestHandler_UnlockAndQuota(t *testing.T) {
	th := newTestHandler()
	th.campaigns.On("Unlock", mock.Anything, "cast-1", &dto.UnlockRequest{}).Return(&dto.UnlockResponse{AccountID: "cast-1", Unlocked: true}, nil).Once()
	th.campaigns.On("Unlock", mock.Anything, "cast-1", &dto.UnlockRequest{TTLSeconds: 120}).Return(&dto.UnlockResponse{AccountID: "cast-1", Unlocked: true}, nil).Once()
	th.campaigns.On("Lock", mock.Anything, "cast-1").Return(&dto.UnlockResponse{AccountID: "cast-1"}, nil).Once()
	th.campaigns.On("Quota", mock.Anything, "cast-1").Return(&dto.QuotaResponse{AccountID: "cast-1", Remaining: 12}, nil).Once()

	assert.Equal(t, http.StatusOK, th.do(http.MethodPost, "/accounts/cast-1/unlock", nil).Code)
	assert.Equal(t, http.StatusOK, th.do(http.MethodPost, "/accounts/cast-1/unlock", dto.UnlockRequest{TTLSeconds: 120}).Code)
	assert.Equal(t, http.StatusBadRequest, th.do(http.MethodPost, "/accounts/cast-1/unlock", dto.UnlockRequest{TTLSeconds: 7200}).Code)
	assert.Equal(t, http.StatusOK, th.do(http.MethodDelete, "/accounts/cast-1/unlock", nil).Code)

	w := th.do(http.MethodGet, "/accounts/cast-1/quota", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var response dto.QuotaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 12, response.Remaining)
	th.campaigns.AssertExpectations(t)
}

func TestHandler_Scenarios(t *testing.T) {
	th := newTestHandler()
	def := dto.DefineScenarioRequest{
		AccountID:   "cast-1",
		Name:        "welcome",
		TriggerType: "first_payment",
		Steps:       []dto.ScenarioStepRequest{{Kind: "message", Template: "thanks"}},
	}
	th.scenarios.On("DefineScenario", mock.Anything, &def).Return(&domain.ScenarioDefinition{ID: "sc1"}, nil).Once()
	th.scenarios.On("Trigger", mock.Anything, &dto.TriggerRequest{TriggerType: "churn_risk", AccountID: "cast-1", UserID: "u1"}).
		Return(&dto.EnrollmentsResponse{Enrollments: []*domain.Enrollment{{ID: "e1"}}}, nil).Once()
	th.scenarios.On("CancelEnrollment", mock.Anything, "e1").Return(nil, domain.ErrEnrollmentClosed).Once()
	th.scenarios.On("ObserveGoal", mock.Anything, &dto.GoalRequest{AccountID: "cast-1", UserID: "u1", Event: "reply"}).
		Return(&dto.GoalResponse{GoalReached: 1}, nil).Once()

	assert.Equal(t, http.StatusOK, th.do(http.MethodPost, "/scenarios", def).Code)
	assert.Equal(t, http.StatusOK, th.do(http.MethodPost, "/scenarios/triggers", dto.TriggerRequest{TriggerType: "churn_risk", AccountID: "cast-1", UserID: "u1"}).Code)
	assert.Equal(t, http.StatusConflict, th.do(http.MethodPost, "/enrollments/e1/cancel", nil).Code)

	w := th.do(http.MethodPost, "/goals", dto.GoalRequest{AccountID: "cast-1", UserID: "u1", Event: "reply"})
	assert.Equal(t, http.StatusOK, w.Code)
	var response dto.GoalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.GoalReached)

	w = th.do(http.MethodPost, "/scenarios", dto.DefineScenarioRequest{AccountID: "cast-1", Name: "empty", TriggerType: "first_payment"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	th.scenarios.AssertExpectations(t)
}

func TestHandler_DefineScenario_InvalidDefinition(t *testing.T) {
	th := newTestHandler()
	th.scenarios.On("DefineScenario", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: step 1 has no template", domain.ErrInvalidDefinition)).Once()

	w := th.do(http.MethodPost, "/scenarios", dto.DefineScenarioRequest{
		AccountID:   "cast-1",
		Name:        "welcome",
		TriggerType: "first_payment",
		Steps:       []dto.ScenarioStepRequest{{Kind: "message"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error)
}
