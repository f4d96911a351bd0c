package service

import (
	"context"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/dispatch"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
	"github.com/BarkinBalci/livespot-engine/internal/stream"
)

// SessionServicer defines the session analytics operations
type SessionServicer interface {
	OpenSession(ctx context.Context, req *dto.OpenSessionRequest) (*dto.SessionResponse, error)
	EndSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error)
	SetPhaseOverride(ctx context.Context, sessionID string, req *dto.PhaseOverrideRequest) (*dto.PhaseResponse, error)
	Phase(ctx context.Context, sessionID string) (*dto.PhaseResponse, error)
	IngestEvents(ctx context.Context, sessionID string, req *dto.IngestEventsRequest) (*dto.IngestResponse, error)
	Snapshot(ctx context.Context, sessionID string) (*aggregator.Snapshot, error)
	Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
	Alerts(ctx context.Context, sessionID string) (*dto.AlertsResponse, error)
	Leaderboard(ctx context.Context, sessionID string, limit int) (*dto.LeaderboardResponse, error)
	Insight(ctx context.Context, sessionID string) (*dto.InsightResponse, error)
	Classify(req *dto.ClassifyRequest) *dto.ClassifyResponse
	SaveAlertRule(ctx context.Context, req *dto.AlertRuleRequest) (*domain.AlertRule, error)
	Health(ctx context.Context) error
}

// CampaignServicer defines the DM campaign operations
type CampaignServicer interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CampaignResponse, error)
	GetCampaign(ctx context.Context, campaignID string) (*dto.CampaignResponse, error)
	CancelCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Claim(ctx context.Context, campaignID string) (*domain.DMItem, error)
	ReportStatus(ctx context.Context, itemID string, req *dto.ReportStatusRequest) (*domain.DMItem, error)
	Unlock(ctx context.Context, accountID string, req *dto.UnlockRequest) (*dto.UnlockResponse, error)
	Lock(ctx context.Context, accountID string) (*dto.UnlockResponse, error)
	Quota(ctx context.Context, accountID string) (*dto.QuotaResponse, error)
}

// ScenarioServicer defines the scenario automation operations
type ScenarioServicer interface {
	DefineScenario(ctx context.Context, req *dto.DefineScenarioRequest) (*domain.ScenarioDefinition, error)
	Trigger(ctx context.Context, req *dto.TriggerRequest) (*dto.EnrollmentsResponse, error)
	CancelEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error)
	ObserveGoal(ctx context.Context, req *dto.GoalRequest) (*dto.GoalResponse, error)
}

// SessionRegistry hosts the per-session aggregators
type SessionRegistry interface {
	Open(window domain.SessionWindow) bool
	IsOpen(sessionID string) bool
	Sessions() []string
	Submit(ctx context.Context, sessionID string, events []domain.Event) error
	Ingest(ctx context.Context, sessionID string, events []domain.Event) ([]*aggregator.Delta, error)
	Snapshot(ctx context.Context, sessionID string) (*aggregator.Snapshot, error)
	Close(ctx context.Context, sessionID string) (*aggregator.Snapshot, error)
}

// Enroller is the part of the scenario engine driven by live sessions
type Enroller interface {
	Enroll(ctx context.Context, trig domain.Trigger) ([]*domain.Enrollment, error)
	ObserveGoal(ctx context.Context, accountID, userID string, ev domain.GoalEvent) (int, error)
}

// ScenarioEngine is the full scenario engine surface used by the API
type ScenarioEngine interface {
	Enroller
	Define(ctx context.Context, def *domain.ScenarioDefinition) (*domain.ScenarioDefinition, error)
	Cancel(ctx context.Context, enrollmentID string) (*domain.Enrollment, error)
}

// Leaderboard mirrors and reads the ranked viewers of a session
type Leaderboard interface {
	Mirror(ctx context.Context, sessionID string, viewers []domain.ViewerLedgerEntry) error
	Top(ctx context.Context, sessionID string, n int) ([]stream.RankedViewer, error)
}

// CampaignDispatcher is the dispatcher surface used by the API
type CampaignDispatcher interface {
	CreateBatch(ctx context.Context, req dispatch.BatchRequest) (*domain.Campaign, []*domain.DMItem, error)
	Campaign(ctx context.Context, campaignID string) (*domain.Campaign, []*domain.DMItem, error)
	Cancel(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Claim(ctx context.Context, campaignID string) (*domain.DMItem, error)
	ReportStatus(ctx context.Context, itemID string, status domain.DMStatus, detail string) (*domain.DMItem, error)
	Remaining(ctx context.Context, accountID string) (int, error)
}

