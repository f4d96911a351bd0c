package stream

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

type fakeState struct{ up atomic.Bool }

func (f *fakeState) Connected() bool { return f.up.Load() }

type countingResyncer struct{ calls atomic.Int32 }

func (c *countingResyncer) ResyncAll(context.Context) { c.calls.Add(1) }

type recordingSink struct {
	mu      sync.Mutex
	batches map[string][]domain.Event
	err     error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{batches: map[string][]domain.Event{}}
}

func (s *recordingSink) Submit(_ context.Context, sessionID string, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches[sessionID] = append(s.batches[sessionID], events...)
	return nil
}

func (s *recordingSink) events(sessionID string) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.batches[sessionID]...)
}

func TestPoller_OnlyPollsWhileDisconnected(t *testing.T) {
	state := &fakeState{}
	target := &countingResyncer{}
	p := NewPoller(state, target, time.Second, zap.NewNop())

	state.up.Store(true)
	assert.False(t, p.Tick(context.Background()))
	assert.Equal(t, int32(0), target.calls.Load())

	state.up.Store(false)
	assert.True(t, p.Tick(context.Background()))
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	state := &fakeState{}
	target := &countingResyncer{}
	p := NewPoller(state, target, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return target.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("poller did not stop")
	}
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	p := NewPoller(&fakeState{}, &countingResyncer{}, 0, zap.NewNop())
	assert.Equal(t, DefaultPollInterval, p.interval)
}

func TestSubscriber_HandleSubmitsBatch(t *testing.T) {
	sink := newRecordingSink()
	s := NewSubscriber(nil, "live-events", sink, nil, zap.NewNop())

	s.handle(context.Background(), []byte(`{"session_id":"s1","events":[{"event_id":"e1","session_id":"s1","seq":1,"type":"enter","user_id":"u1","timestamp":"2024-05-01T09:00:00Z"}]}`))

	got := sink.events("s1")
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, domain.EventEnter, got[0].Type)
}

func TestSubscriber_HandleIgnoresBadPayloads(t *testing.T) {
	sink := newRecordingSink()
	s := NewSubscriber(nil, "live-events", sink, nil, zap.NewNop())

	s.handle(context.Background(), []byte(`{not json`))
	s.handle(context.Background(), []byte(`{"session_id":"","events":[{"seq":1}]}`))
	s.handle(context.Background(), []byte(`{"session_id":"s1","events":[]}`))

	assert.Empty(t, sink.events("s1"))
}

func TestSubscriber_HandleToleratesUnhostedSession(t *testing.T) {
	sink := newRecordingSink()
	sink.err = fmt.Errorf("session s9: %w", domain.ErrNotFound)
	s := NewSubscriber(nil, "live-events", sink, nil, zap.NewNop())

	assert.NotPanics(t, func() {
		s.handle(context.Background(), []byte(`{"session_id":"s9","events":[{"seq":1}]}`))
	})
}

func TestSubscriber_MarkUpResyncsOncePerConnection(t *testing.T) {
	resync := &countingResyncer{}
	s := NewSubscriber(nil, "live-events", newRecordingSink(), resync, zap.NewNop())
	ctx := context.Background()

	s.markUp(ctx)
	s.markUp(ctx)
	assert.True(t, s.Connected())
	assert.Equal(t, int32(1), resync.calls.Load())

	s.markDown(assert.AnError)
	assert.False(t, s.Connected())

	s.markUp(ctx)
	assert.Equal(t, int32(2), resync.calls.Load())
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedis_PublishReachesSubscriber(t *testing.T) {
	rdb := redisClient(t)
	channel := fmt.Sprintf("test-live-%d", time.Now().UnixNano())

	sink := newRecordingSink()
	resync := &countingResyncer{}
	sub := NewSubscriber(rdb, channel, sink, resync, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	require.Eventually(t, sub.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), resync.calls.Load())

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	pub := NewPublisher(rdb, channel, zap.NewNop())
	require.NoError(t, pub.PublishEvents(ctx, []*domain.Event{
		{EventID: "a", SessionID: "s1", Seq: 1, Type: domain.EventEnter, UserID: "u1", Timestamp: ts},
		{EventID: "b", SessionID: "s2", Seq: 1, Type: domain.EventEnter, UserID: "u2", Timestamp: ts},
		{EventID: "c", SessionID: "s1", Seq: 2, Type: domain.EventTip, UserID: "u1", Amount: 50, Timestamp: ts},
	}))

	require.Eventually(t, func() bool { return len(sink.events("s1")) == 2 && len(sink.events("s2")) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(50), sink.events("s1")[1].Amount)
}

func TestRedis_LeaderboardMirror(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()
	session := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { rdb.Del(ctx, Key(session)) })

	lb := NewLeaderboard(rdb, 2)
	require.NoError(t, lb.Mirror(ctx, session, []domain.ViewerLedgerEntry{
		{UserID: "whale", LifetimeAmount: 9000},
		{UserID: "fan", LifetimeAmount: 300},
		{UserID: "lurker", LifetimeAmount: 0},
	}))

	top, err := lb.Top(ctx, session, 10)
	require.NoError(t, err)
	assert.Equal(t, []RankedViewer{{UserID: "whale", LifetimeAmount: 9000}, {UserID: "fan", LifetimeAmount: 300}}, top)

	require.NoError(t, lb.Mirror(ctx, session, []domain.ViewerLedgerEntry{{UserID: "fan", LifetimeAmount: 400}}))
	top, err = lb.Top(ctx, session, 10)
	require.NoError(t, err)
	assert.Equal(t, []RankedViewer{{UserID: "fan", LifetimeAmount: 400}}, top)
}
