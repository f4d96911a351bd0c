package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/alert"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
	"github.com/BarkinBalci/livespot-engine/internal/telemetry"
)

var _ aggregator.Listener = (*LiveListener)(nil)

// DefaultFreshness is how old an applied event may be and still raise alerts
// or drive scenarios. Older events only update the ledger, so replays after a
// restart stay quiet.
const DefaultFreshness = 15 * time.Minute

// LiveListener reacts to every batch a session aggregator applies. It matches
// alert rules, turns viewer activity into scenario goals and triggers, and
// mirrors the session ranking.
type LiveListener struct {
	rules     repository.AlertRuleRepository
	matcher   *alert.Matcher
	feed      *alert.Feed
	enroller  Enroller
	board     Leaderboard
	freshness time.Duration
	now       func() time.Time
	log       *zap.Logger

	mu       sync.Mutex
	accounts map[string]string
	segments map[string]map[string]domain.SegmentID
}

// NewLiveListener creates a listener. enroller and board may be nil.
func NewLiveListener(rules repository.AlertRuleRepository, matcher *alert.Matcher, feed *alert.Feed, enroller Enroller, board Leaderboard, log *zap.Logger) *LiveListener {
	return &LiveListener{
		rules:     rules,
		matcher:   matcher,
		feed:      feed,
		enroller:  enroller,
		board:     board,
		freshness: DefaultFreshness,
		now:       time.Now,
		log:       log,
		accounts:  make(map[string]string),
		segments:  make(map[string]map[string]domain.SegmentID),
	}
}

// Track binds a session to the account owning its alert rules and scenarios
func (l *LiveListener) Track(w domain.SessionWindow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[w.SessionID] = w.CastID
}

// Forget drops the state kept for a closed session
func (l *LiveListener) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, sessionID)
	delete(l.segments, sessionID)
}

// OnBatch implements aggregator.Listener
func (l *LiveListener) OnBatch(ctx context.Context, sessionID string, deltas []*aggregator.Delta, snap *aggregator.Snapshot) {
	ctx, span := telemetry.Tracer().Start(ctx, "LiveListener.OnBatch", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("deltas", len(deltas)),
	))
	defer span.End()

	account := l.account(sessionID)
	rules := l.loadRules(ctx, account)
	cutoff := l.now().Add(-l.freshness)

	for _, d := range deltas {
		if d.Event.Timestamp.Before(cutoff) {
			continue
		}
		if len(rules) > 0 && l.feed != nil {
			if fired := l.feed.Push(l.matcher.Match(rules, alertInput(sessionID, d))...); len(fired) > 0 {
				l.log.Debug("Alerts raised",
					zap.String("session_id", sessionID),
					zap.String("event_id", d.Event.EventID),
					zap.Int("count", len(fired)))
			}
		}
		if account != "" && l.enroller != nil {
			l.drive(ctx, sessionID, account, d)
		}
	}

	if l.board != nil && snap != nil {
		if err := l.board.Mirror(ctx, sessionID, snap.Viewers); err != nil {
			l.log.Warn("Failed to mirror leaderboard", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (l *LiveListener) account(sessionID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[sessionID]
}

func (l *LiveListener) loadRules(ctx context.Context, account string) []domain.AlertRule {
	if l.rules == nil || l.matcher == nil || account == "" {
		return nil
	}
	rules, err := l.rules.AlertRules(ctx, account)
	if err != nil {
		l.log.Warn("Failed to load alert rules", zap.String("account_id", account), zap.Error(err))
		return nil
	}
	return rules
}

func alertInput(sessionID string, d *aggregator.Delta) alert.Input {
	in := alert.Input{
		Event:           d.Event,
		ViewerCount:     d.ViewerCount,
		PrevViewerCount: d.PrevViewerCount,
	}
	in.Event.SessionID = sessionID
	if d.Ledger != nil {
		in.Lifetime = d.Ledger.LifetimeAmount
	}
	for _, s := range d.Signals {
		if s.Kind == aggregator.SignalNewPayer {
			in.NewPayer = true
		}
	}
	return in
}

// drive records goal activity before raising triggers, so an enrollment
// created by this event is never ended by the same event
func (l *LiveListener) drive(ctx context.Context, sessionID, account string, d *aggregator.Delta) {
	ev := d.Event
	if ev.UserID == "" {
		return
	}

	switch {
	case ev.Type == domain.EventEnter:
		l.observe(ctx, account, ev.UserID, domain.GoalEventVisit)
	case ev.Type.IsPayment() && ev.Amount > 0:
		l.observe(ctx, account, ev.UserID, domain.GoalEventPayment)
	}

	var seg *domain.SegmentID
	if d.Ledger != nil {
		seg = d.Ledger.Segment
	}
	for _, s := range d.Signals {
		if s.Kind == aggregator.SignalNewPayer {
			l.enroll(ctx, domain.Trigger{Type: domain.TriggerFirstPayment, AccountID: account, UserID: ev.UserID, Segment: seg})
		}
	}
	if seg != nil && l.upgraded(sessionID, ev.UserID, *seg) {
		l.enroll(ctx, domain.Trigger{Type: domain.TriggerSegmentUpgrade, AccountID: account, UserID: ev.UserID, Segment: seg})
	}
}

// upgraded records seg and reports whether it ranks above the user's previous
// segment in this session
func (l *LiveListener) upgraded(sessionID, userID string, seg domain.SegmentID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	users, ok := l.segments[sessionID]
	if !ok {
		users = make(map[string]domain.SegmentID)
		l.segments[sessionID] = users
	}
	prev, seen := users[userID]
	users[userID] = seg
	return seen && seg.Rank() < prev.Rank()
}

func (l *LiveListener) observe(ctx context.Context, account, userID string, ev domain.GoalEvent) {
	if _, err := l.enroller.ObserveGoal(ctx, account, userID, ev); err != nil {
		l.log.Warn("Failed to record goal event",
			zap.String("account_id", account),
			zap.String("user_id", userID),
			zap.String("goal_event", string(ev)),
			zap.Error(err))
	}
}

func (l *LiveListener) enroll(ctx context.Context, trig domain.Trigger) {
	if _, err := l.enroller.Enroll(ctx, trig); err != nil {
		l.log.Warn("Failed to enroll viewer",
			zap.String("account_id", trig.AccountID),
			zap.String("user_id", trig.UserID),
			zap.String("trigger_type", string(trig.Type)),
			zap.Error(err))
	}
}
