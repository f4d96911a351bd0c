package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/alert"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
	"github.com/BarkinBalci/livespot-engine/internal/insight"
	"github.com/BarkinBalci/livespot-engine/internal/queue"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
	"github.com/BarkinBalci/livespot-engine/internal/segment"
	"github.com/BarkinBalci/livespot-engine/internal/session"
	"github.com/BarkinBalci/livespot-engine/internal/stream"
	"github.com/BarkinBalci/livespot-engine/internal/telemetry"
)

var (
	_ SessionServicer = (*SessionService)(nil)
	_ stream.Sink     = (*SessionService)(nil)
)

const defaultLeaderboardLimit = 10

// SessionDeps wires the collaborators of SessionService. Publisher, Listener,
// Leaderboard, Enroller and Insight may be nil.
type SessionDeps struct {
	Sessions    repository.SessionRepository
	AlertRules  repository.AlertRuleRepository
	Events      repository.EventRepository
	Publisher   queue.EventPublisher
	Registry    SessionRegistry
	Resolver    *session.Resolver
	Classifier  *segment.Classifier
	Feed        *alert.Feed
	Listener    *LiveListener
	Leaderboard Leaderboard
	Enroller    Enroller
	Insight     insight.Generator
	// Options rebuilds sessions that are no longer hosted by the registry
	Options aggregator.Options
}

// SessionService hosts live sessions and answers analytics reads
type SessionService struct {
	sessions    repository.SessionRepository
	alertRules  repository.AlertRuleRepository
	events      repository.EventRepository
	publisher   queue.EventPublisher
	registry    SessionRegistry
	resolver    *session.Resolver
	classifier  *segment.Classifier
	feed        *alert.Feed
	listener    *LiveListener
	board       Leaderboard
	enroller    Enroller
	insight     insight.Generator
	opts        aggregator.Options
	maxBackfill int
	summaries   *session.SummaryChain
	now         func() time.Time
	log         *zap.Logger
}

// NewSessionService creates a session service
func NewSessionService(deps SessionDeps, log *zap.Logger) *SessionService {
	maxBackfill := deps.Options.MaxBackfill
	if maxBackfill <= 0 {
		maxBackfill = aggregator.DefaultMaxBackfill
	}

	s := &SessionService{
		sessions:    deps.Sessions,
		alertRules:  deps.AlertRules,
		events:      deps.Events,
		publisher:   deps.Publisher,
		registry:    deps.Registry,
		resolver:    deps.Resolver,
		classifier:  deps.Classifier,
		feed:        deps.Feed,
		listener:    deps.Listener,
		board:       deps.Leaderboard,
		enroller:    deps.Enroller,
		insight:     deps.Insight,
		opts:        deps.Options,
		maxBackfill: maxBackfill,
		now:         time.Now,
		log:         log,
	}

	s.summaries = session.NewSummaryChain(log,
		session.SourceFunc{Label: "live", Fn: s.liveSummary},
		session.SourceFunc{Label: "store", Fn: s.events.SessionTotals},
		session.SourceFunc{Label: "replay", Fn: s.replaySummary},
	)
	return s
}

func startSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attribute.String("session_id", sessionID)))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// OpenSession registers a broadcast window. Opening a known session returns it
// unchanged as long as the cast matches.
func (s *SessionService) OpenSession(ctx context.Context, req *dto.OpenSessionRequest) (*dto.SessionResponse, error) {
	ctx, span := startSpan(ctx, "SessionService.OpenSession", req.SessionID)
	defer span.End()

	w, err := s.sessions.GetSession(ctx, req.SessionID)
	switch {
	case err == nil:
		if w.CastID != req.CastID {
			return nil, fail(span, fmt.Errorf("%w: session %s belongs to cast %s", domain.ErrInvalidInput, w.SessionID, w.CastID))
		}
	case errors.Is(err, domain.ErrNotFound):
		started := s.now().UTC()
		if req.StartedAt != nil {
			started = req.StartedAt.UTC()
		}
		w = &domain.SessionWindow{SessionID: req.SessionID, CastID: req.CastID, StartedAt: started}
		if err := s.sessions.SaveSession(ctx, w); err != nil {
			return nil, fail(span, fmt.Errorf("failed to save session: %w", err))
		}
		s.log.Info("Session registered",
			zap.String("session_id", w.SessionID),
			zap.String("cast_id", w.CastID),
			zap.Time("started_at", w.StartedAt))
	default:
		return nil, fail(span, fmt.Errorf("failed to load session: %w", err))
	}

	return &dto.SessionResponse{Session: *w, Phase: s.sync(ctx, w)}, nil
}

// EndSession records the end of a broadcast. The aggregator keeps running
// through the live grace period and is closed by the sweeper.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error) {
	ctx, span := startSpan(ctx, "SessionService.EndSession", sessionID)
	defer span.End()

	w, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	if w.EndedAt == nil {
		ended := s.now().UTC()
		w.EndedAt = &ended
		if err := s.sessions.SaveSession(ctx, w); err != nil {
			return nil, fail(span, fmt.Errorf("failed to save session: %w", err))
		}
		s.log.Info("Session ended", zap.String("session_id", sessionID), zap.Time("ended_at", ended))
	}

	return &dto.SessionResponse{Session: *w, Phase: s.sync(ctx, w)}, nil
}

// SetPhaseOverride forces the phase of a session, or clears the override when
// the requested phase is empty
func (s *SessionService) SetPhaseOverride(ctx context.Context, sessionID string, req *dto.PhaseOverrideRequest) (*dto.PhaseResponse, error) {
	ctx, span := startSpan(ctx, "SessionService.SetPhaseOverride", sessionID)
	defer span.End()

	w, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}

	w.PhaseOverride = nil
	if req.Phase != "" {
		p := domain.Phase(strings.ToLower(req.Phase))
		if !p.Valid() {
			return nil, fail(span, fmt.Errorf("%w: unknown phase %q", domain.ErrInvalidInput, req.Phase))
		}
		w.PhaseOverride = &p
	}
	if err := s.sessions.SaveSession(ctx, w); err != nil {
		return nil, fail(span, fmt.Errorf("failed to save session: %w", err))
	}

	phase := s.sync(ctx, w)
	s.log.Info("Session phase override changed",
		zap.String("session_id", sessionID),
		zap.String("override", req.Phase),
		zap.String("phase", string(phase)))
	return phaseResponse(w, phase), nil
}

// Phase resolves the current phase of a session
func (s *SessionService) Phase(ctx context.Context, sessionID string) (*dto.PhaseResponse, error) {
	w, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return phaseResponse(w, s.resolve(w)), nil
}

func phaseResponse(w *domain.SessionWindow, phase domain.Phase) *dto.PhaseResponse {
	return &dto.PhaseResponse{
		SessionID: w.SessionID,
		Phase:     phase,
		Active:    session.IsActive(phase),
		Override:  w.PhaseOverride,
	}
}

// IngestEvents publishes events to the ingest queue and applies them to the
// live aggregator. Redeliveries through the queue are absorbed by the
// aggregator's sequence dedup.
func (s *SessionService) IngestEvents(ctx context.Context, sessionID string, req *dto.IngestEventsRequest) (*dto.IngestResponse, error) {
	ctx, span := startSpan(ctx, "SessionService.IngestEvents", sessionID)
	defer span.End()
	span.SetAttributes(attribute.Int("events", len(req.Events)))

	w, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	if phase := s.resolve(w); !session.IsActive(phase) {
		return nil, fail(span, fmt.Errorf("session %s is %s: %w", sessionID, phase, domain.ErrSessionNotLive))
	}

	events, err := s.toEvents(w, req.Events)
	if err != nil {
		return nil, fail(span, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishEvents(ctx, events); err != nil {
			return nil, fail(span, fmt.Errorf("failed to publish events: %w", err))
		}
	}

	s.ensureOpen(w)
	deltas, err := s.registry.Ingest(ctx, sessionID, events)
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to apply events: %w", err))
	}

	resp := &dto.IngestResponse{
		SessionID: sessionID,
		Accepted:  len(deltas),
		Ignored:   len(events) - len(deltas),
	}
	for _, d := range deltas {
		for _, sig := range d.Signals {
			if sig.Kind == aggregator.SignalNewPayer {
				resp.NewPayers = append(resp.NewPayers, sig.UserID)
			}
		}
	}

	s.log.Debug("Events ingested",
		zap.String("session_id", sessionID),
		zap.Int("accepted", resp.Accepted),
		zap.Int("ignored", resp.Ignored))
	return resp, nil
}

func (s *SessionService) toEvents(w *domain.SessionWindow, reqs []dto.EventRequest) ([]domain.Event, error) {
	now := s.now().UTC()
	events := make([]domain.Event, 0, len(reqs))

	for i, r := range reqs {
		typ := domain.EventType(strings.ToLower(r.Type))
		if !typ.Valid() {
			return nil, fmt.Errorf("%w: event %d has unknown type %q", domain.ErrInvalidInput, i, r.Type)
		}
		if typ.IsPayment() && r.UserID == "" {
			return nil, fmt.Errorf("%w: %s event %d has no user", domain.ErrInvalidInput, typ, i)
		}

		ts := now
		if r.Timestamp != nil {
			ts = r.Timestamp.UTC()
		}
		id := r.EventID
		if id == "" {
			id = domain.EventIDFor(w.SessionID, r.Seq)
		}

		events = append(events, domain.Event{
			EventID:   id,
			SessionID: w.SessionID,
			CastID:    w.CastID,
			Seq:       r.Seq,
			Type:      typ,
			UserID:    r.UserID,
			Amount:    r.Amount,
			Text:      r.Text,
			Timestamp: ts,
		})
	}
	return events, nil
}

// Submit routes pushed events to the session aggregator. A live session not yet
// hosted here is opened first; events of sessions in another phase are dropped.
func (s *SessionService) Submit(ctx context.Context, sessionID string, events []domain.Event) error {
	if s.registry.IsOpen(sessionID) {
		return s.registry.Submit(ctx, sessionID, events)
	}

	w, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if phase := s.sync(ctx, w); !session.IsActive(phase) {
		s.log.Debug("Dropping pushed events of inactive session",
			zap.String("session_id", sessionID),
			zap.String("phase", string(phase)),
			zap.Int("events", len(events)))
		return nil
	}
	return s.registry.Submit(ctx, sessionID, events)
}

// Snapshot returns the live ledger of a session, or replays the stored event
// log when the session is not hosted
func (s *SessionService) Snapshot(ctx context.Context, sessionID string) (*aggregator.Snapshot, error) {
	ctx, span := startSpan(ctx, "SessionService.Snapshot", sessionID)
	defer span.End()

	if s.registry.IsOpen(sessionID) {
		snap, err := s.registry.Snapshot(ctx, sessionID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrSessionClosed) {
			return nil, fail(span, err)
		}
	}

	snap, err := s.rebuild(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	return snap, nil
}

func (s *SessionService) rebuild(ctx context.Context, sessionID string) (*aggregator.Snapshot, error) {
	w, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.EventsSince(ctx, sessionID, 0, s.maxBackfill)
	if err != nil {
		return nil, fmt.Errorf("failed to load events of session %s: %w", sessionID, err)
	}

	agg := aggregator.New(*w, s.opts)
	agg.Backfill(ctx, events)
	return agg.Snapshot(), nil
}

// Summary answers from the first data source able to summarize the session
func (s *SessionService) Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	ctx, span := startSpan(ctx, "SessionService.Summary", sessionID)
	defer span.End()

	summary, err := s.summaries.Summary(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("source", summary.Source))
	return summary, nil
}

func (s *SessionService) liveSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	if !s.registry.IsOpen(sessionID) {
		return nil, fmt.Errorf("session %s is not hosted: %w", sessionID, domain.ErrNotFound)
	}
	snap, err := s.registry.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return snap.Summary(), nil
}

func (s *SessionService) replaySummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	snap, err := s.rebuild(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return snap.Summary(), nil
}

// Alerts lists the notifications of a session still on display
func (s *SessionService) Alerts(_ context.Context, sessionID string) (*dto.AlertsResponse, error) {
	resp := &dto.AlertsResponse{SessionID: sessionID, Alerts: []domain.Notification{}}
	if s.feed != nil {
		if active := s.feed.Active(sessionID); len(active) > 0 {
			resp.Alerts = active
		}
	}
	return resp, nil
}

// Leaderboard returns the top viewers from the mirrored ranking, falling back
// to a snapshot when the mirror is unavailable
func (s *SessionService) Leaderboard(ctx context.Context, sessionID string, limit int) (*dto.LeaderboardResponse, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	resp := &dto.LeaderboardResponse{SessionID: sessionID, Viewers: []dto.LeaderboardEntry{}}

	if s.board != nil {
		ranked, err := s.board.Top(ctx, sessionID, limit)
		if err == nil && len(ranked) > 0 {
			for i, r := range ranked {
				resp.Viewers = append(resp.Viewers, dto.LeaderboardEntry{Rank: i + 1, UserID: r.UserID, LifetimeAmount: r.LifetimeAmount})
			}
			return resp, nil
		}
		if err != nil {
			s.log.Warn("Failed to read mirrored leaderboard", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	snap, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i, v := range snap.Top(limit) {
		resp.Viewers = append(resp.Viewers, dto.LeaderboardEntry{Rank: i + 1, UserID: v.UserID, LifetimeAmount: v.LifetimeAmount})
	}
	return resp, nil
}

// Insight asks the insight generator to analyse the stored event log
func (s *SessionService) Insight(ctx context.Context, sessionID string) (*dto.InsightResponse, error) {
	ctx, span := startSpan(ctx, "SessionService.Insight", sessionID)
	defer span.End()

	if s.insight == nil {
		return nil, fail(span, domain.ErrInsightDisabled)
	}
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, fail(span, err)
	}

	events, err := s.events.EventsSince(ctx, sessionID, 0, s.maxBackfill)
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to load events of session %s: %w", sessionID, err))
	}
	text, err := s.insight.Generate(ctx, sessionID, events)
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to generate insight: %w", err))
	}

	s.log.Info("Insight generated", zap.String("session_id", sessionID), zap.Int("events", len(events)))
	return &dto.InsightResponse{SessionID: sessionID, Text: text}, nil
}

// Classify maps a viewer's lifetime amount and payment recency to a segment
func (s *SessionService) Classify(req *dto.ClassifyRequest) *dto.ClassifyResponse {
	days := segment.NeverPaid
	if req.DaysSinceLastPayment != nil {
		days = *req.DaysSinceLastPayment
	}

	seg := s.classifier.Classify(req.LifetimeAmount, days)
	resp := &dto.ClassifyResponse{Segment: seg}
	for _, r := range s.classifier.Rules() {
		if r.ID == seg {
			resp.Label = r.Label
			break
		}
	}
	return resp
}

// SaveAlertRule creates or replaces an alert rule of an account
func (s *SessionService) SaveAlertRule(ctx context.Context, req *dto.AlertRuleRequest) (*domain.AlertRule, error) {
	rt := domain.AlertRuleType(strings.ToLower(req.RuleType))
	if !rt.Valid() {
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidInput, req.RuleType)
	}
	if rt == domain.AlertViewerMilestone && req.Threshold <= 0 {
		return nil, fmt.Errorf("%w: viewer_milestone needs a positive threshold", domain.ErrInvalidInput)
	}

	rule := &domain.AlertRule{
		ID:        req.ID,
		AccountID: req.AccountID,
		RuleType:  rt,
		Threshold: req.Threshold,
		Enabled:   true,
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := s.alertRules.SaveAlertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save alert rule: %w", err)
	}

	s.log.Info("Alert rule saved",
		zap.String("rule_id", rule.ID),
		zap.String("account_id", rule.AccountID),
		zap.String("rule_type", string(rule.RuleType)),
		zap.Int64("threshold", rule.Threshold))
	return rule, nil
}

// Health checks the event store
func (s *SessionService) Health(ctx context.Context) error {
	if err := s.events.Ping(ctx); err != nil {
		return fmt.Errorf("event store unavailable: %w", err)
	}
	return nil
}

// Sweep closes every hosted session that is no longer live and returns how many
// were closed
func (s *SessionService) Sweep(ctx context.Context) int {
	closed := 0
	for _, id := range s.registry.Sessions() {
		w, err := s.sessions.GetSession(ctx, id)
		if err != nil {
			s.log.Warn("Failed to load hosted session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		phase := s.resolve(w)
		if session.IsActive(phase) {
			continue
		}
		if s.closeSession(ctx, w, phase) {
			closed++
		}
	}
	return closed
}

// RunSweeper calls Sweep on every tick until ctx is done
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Session sweeper shutting down")
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.log.Info("Closed finished sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *SessionService) loadSession(ctx context.Context, sessionID string) (*domain.SessionWindow, error) {
	w, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return w, nil
}

func (s *SessionService) resolve(w *domain.SessionWindow) domain.Phase {
	return s.resolver.Resolve(*w, s.now(), w.PhaseOverride)
}

// sync starts or stops aggregation so it matches the resolved phase
func (s *SessionService) sync(ctx context.Context, w *domain.SessionWindow) domain.Phase {
	phase := s.resolve(w)
	switch {
	case session.IsActive(phase):
		s.ensureOpen(w)
	case s.registry.IsOpen(w.SessionID):
		s.closeSession(ctx, w, phase)
	}
	return phase
}

func (s *SessionService) ensureOpen(w *domain.SessionWindow) {
	if s.registry.IsOpen(w.SessionID) {
		return
	}
	if s.listener != nil {
		s.listener.Track(*w)
	}
	s.registry.Open(*w)
}

func (s *SessionService) closeSession(ctx context.Context, w *domain.SessionWindow, phase domain.Phase) bool {
	snap, err := s.registry.Close(ctx, w.SessionID)
	if s.listener != nil {
		s.listener.Forget(w.SessionID)
	}
	if err != nil {
		s.log.Warn("Failed to close session aggregation", zap.String("session_id", w.SessionID), zap.Error(err))
		return false
	}

	s.log.Info("Session aggregation finished",
		zap.String("session_id", w.SessionID),
		zap.String("phase", string(phase)),
		zap.Int64("total_amount", snap.TotalAmount),
		zap.Int("viewers", len(snap.Viewers)),
		zap.Int("new_payers", snap.NewPayers))

	if phase == domain.PhasePost {
		s.enrollIdleViewers(ctx, w, snap)
	}
	return true
}

// enrollIdleViewers raises post_session_no_action for viewers who spent nothing
func (s *SessionService) enrollIdleViewers(ctx context.Context, w *domain.SessionWindow, snap *aggregator.Snapshot) {
	if s.enroller == nil {
		return
	}

	enrolled := 0
	for _, v := range snap.Viewers {
		if v.SessionAmount > 0 {
			continue
		}
		created, err := s.enroller.Enroll(ctx, domain.Trigger{
			Type:      domain.TriggerPostSession,
			AccountID: w.CastID,
			UserID:    v.UserID,
			Segment:   v.Segment,
		})
		if err != nil {
			s.log.Warn("Failed to enroll idle viewer",
				zap.String("session_id", w.SessionID),
				zap.String("user_id", v.UserID),
				zap.Error(err))
			continue
		}
		enrolled += len(created)
	}

	if enrolled > 0 {
		s.log.Info("Idle viewers enrolled", zap.String("session_id", w.SessionID), zap.Int("enrollments", enrolled))
	}
}
