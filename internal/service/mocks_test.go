package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/dispatch"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
	"github.com/BarkinBalci/livespot-engine/internal/stream"
)

var testNow = time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// MockEventRepository is a mock implementation of repository.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEventRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockEventRepository) EventsSince(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	args := m.Called(ctx, sessionID, afterSeq, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Event), args.Error(1)
}

func (m *MockEventRepository) SessionTotals(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSummary), args.Error(1)
}

func (m *MockEventRepository) ViewerHistory(ctx context.Context, userID, excludeSessionID string) (*repository.ViewerHistory, error) {
	args := m.Called(ctx, userID, excludeSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ViewerHistory), args.Error(1)
}

// MockEventPublisher is a mock implementation of queue.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishEvents(ctx context.Context, events []domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// MockEnroller is a mock implementation of ScenarioEngine
type MockEnroller struct {
	mock.Mock
}

func (m *MockEnroller) Enroll(ctx context.Context, trig domain.Trigger) ([]*domain.Enrollment, error) {
	args := m.Called(ctx, trig)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Enrollment), args.Error(1)
}

func (m *MockEnroller) ObserveGoal(ctx context.Context, accountID, userID string, ev domain.GoalEvent) (int, error) {
	args := m.Called(ctx, accountID, userID, ev)
	return args.Int(0), args.Error(1)
}

func (m *MockEnroller) Define(ctx context.Context, def *domain.ScenarioDefinition) (*domain.ScenarioDefinition, error) {
	args := m.Called(ctx, def)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScenarioDefinition), args.Error(1)
}

func (m *MockEnroller) Cancel(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	args := m.Called(ctx, enrollmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Enrollment), args.Error(1)
}

// triggers returns the recorded Enroll triggers of the given type
func (m *MockEnroller) triggers(tt domain.TriggerType) []domain.Trigger {
	var out []domain.Trigger
	for _, call := range m.Calls {
		if call.Method != "Enroll" {
			continue
		}
		if trig := call.Arguments.Get(1).(domain.Trigger); trig.Type == tt {
			out = append(out, trig)
		}
	}
	return out
}

// MockLeaderboard is a mock implementation of Leaderboard
type MockLeaderboard struct {
	mock.Mock
}

func (m *MockLeaderboard) Mirror(ctx context.Context, sessionID string, viewers []domain.ViewerLedgerEntry) error {
	args := m.Called(ctx, sessionID, viewers)
	return args.Error(0)
}

func (m *MockLeaderboard) Top(ctx context.Context, sessionID string, n int) ([]stream.RankedViewer, error) {
	args := m.Called(ctx, sessionID, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]stream.RankedViewer), args.Error(1)
}

// MockDispatcher is a mock implementation of CampaignDispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) CreateBatch(ctx context.Context, req dispatch.BatchRequest) (*domain.Campaign, []*domain.DMItem, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Campaign), args.Get(1).([]*domain.DMItem), args.Error(2)
}

func (m *MockDispatcher) Campaign(ctx context.Context, campaignID string) (*domain.Campaign, []*domain.DMItem, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Campaign), args.Get(1).([]*domain.DMItem), args.Error(2)
}

func (m *MockDispatcher) Cancel(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *MockDispatcher) Claim(ctx context.Context, campaignID string) (*domain.DMItem, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DMItem), args.Error(1)
}

func (m *MockDispatcher) ReportStatus(ctx context.Context, itemID string, status domain.DMStatus, detail string) (*domain.DMItem, error) {
	args := m.Called(ctx, itemID, status, detail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DMItem), args.Error(1)
}

func (m *MockDispatcher) Remaining(ctx context.Context, accountID string) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

func tipEvent(seq uint64, user string, amount int64, at time.Time) domain.Event {
	return domain.Event{
		EventID:   domain.EventIDFor("s1", seq),
		SessionID: "s1",
		Seq:       seq,
		Type:      domain.EventTip,
		UserID:    user,
		Amount:    amount,
		Timestamp: at,
	}
}

func delta(ev domain.Event, lifetime int64, seg domain.SegmentID, signals ...aggregator.Signal) *aggregator.Delta {
	return &aggregator.Delta{
		Event:   ev,
		Ledger:  &domain.ViewerLedgerEntry{UserID: ev.UserID, SessionID: ev.SessionID, LifetimeAmount: lifetime, Segment: &seg},
		Signals: signals,
	}
}
