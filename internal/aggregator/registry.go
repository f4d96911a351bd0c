package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

const defaultInboxSize = 256

// EventSource loads stored events for catch-up and polling
type EventSource interface {
	EventsSince(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error)
}

// Listener observes every batch applied to a session. It runs on the session's
// worker goroutine and must not call back into the Registry for the same session.
type Listener interface {
	OnBatch(ctx context.Context, sessionID string, deltas []*Delta, snap *Snapshot)
}

type request struct {
	events   []domain.Event
	resync   bool
	reply    chan []*Delta
	snapshot chan *Snapshot
}

type worker struct {
	agg    *Aggregator
	inbox  chan request
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns one aggregator per live session. Every session gets a single
// worker goroutine draining a serialized inbox, so push, poll and API callers
// never write to an aggregator concurrently.
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]*worker
	opts      Options
	inboxSize int
	source    EventSource
	listener  Listener
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewRegistry creates a registry. source and listener may be nil.
func NewRegistry(opts Options, inboxSize int, source EventSource, listener Listener, logger *zap.Logger) *Registry {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	return &Registry{
		workers:   make(map[string]*worker),
		opts:      opts,
		inboxSize: inboxSize,
		source:    source,
		listener:  listener,
		logger:    logger,
	}
}

// Open starts aggregation for a session. Opening an already open session is a no-op.
// The worker bulk-loads stored events before it accepts live batches.
func (r *Registry) Open(window domain.SessionWindow) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[window.SessionID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		agg:    New(window, r.opts),
		inbox:  make(chan request, r.inboxSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.workers[window.SessionID] = w

	r.wg.Add(1)
	go r.run(ctx, w)

	r.logger.Info("Session aggregation opened", zap.String("session_id", window.SessionID))
	return true
}

// IsOpen reports whether the session has a running aggregator
func (r *Registry) IsOpen(sessionID string) bool {
	_, ok := r.get(sessionID)
	return ok
}

// Sessions returns the ids of all open sessions
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit queues events for a session without waiting for them to be applied
func (r *Registry) Submit(ctx context.Context, sessionID string, events []domain.Event) error {
	_, err := r.enqueue(ctx, sessionID, request{events: events})
	return err
}

// Ingest applies events and waits for the resulting deltas
func (r *Registry) Ingest(ctx context.Context, sessionID string, events []domain.Event) ([]*Delta, error) {
	reply := make(chan []*Delta, 1)
	w, err := r.enqueue(ctx, sessionID, request{events: events, reply: reply})
	if err != nil {
		return nil, err
	}

	select {
	case deltas := <-reply:
		return deltas, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, domain.ErrSessionClosed
	}
}

// Snapshot returns an immutable copy of a session's state
func (r *Registry) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	reply := make(chan *Snapshot, 1)
	w, err := r.enqueue(ctx, sessionID, request{snapshot: reply})
	if err != nil {
		return nil, err
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, domain.ErrSessionClosed
	}
}

// Resync asks a session to pull stored events past its marker
func (r *Registry) Resync(ctx context.Context, sessionID string) error {
	_, err := r.enqueue(ctx, sessionID, request{resync: true})
	return err
}

// ResyncAll asks every open session to pull stored events past its marker
func (r *Registry) ResyncAll(ctx context.Context) {
	for _, id := range r.Sessions() {
		if err := r.Resync(ctx, id); err != nil {
			r.logger.Warn("Failed to queue resync", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Close stops aggregation for a session and returns its final snapshot
func (r *Registry) Close(ctx context.Context, sessionID string) (*Snapshot, error) {
	snap, err := r.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	w, ok := r.workers[sessionID]
	delete(r.workers, sessionID)
	r.mu.Unlock()

	if ok {
		w.cancel()
		<-w.done
		r.logger.Info("Session aggregation closed", zap.String("session_id", sessionID))
	}
	return snap, nil
}

// Shutdown stops every worker and waits for them to exit
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for id, w := range r.workers {
		w.cancel()
		delete(r.workers, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Registry) get(sessionID string) (*worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[sessionID]
	return w, ok
}

func (r *Registry) enqueue(ctx context.Context, sessionID string, req request) (*worker, error) {
	w, ok := r.get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	select {
	case w.inbox <- req:
		return w, nil
	case <-w.done:
		return nil, domain.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) run(ctx context.Context, w *worker) {
	defer r.wg.Done()
	defer close(w.done)

	r.apply(ctx, w, r.load(ctx, w))

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.inbox:
			r.handle(ctx, w, req)
		}
	}
}

func (r *Registry) handle(ctx context.Context, w *worker, req request) {
	if req.snapshot != nil {
		req.snapshot <- w.agg.Snapshot()
		return
	}

	var deltas []*Delta
	if req.resync {
		deltas = r.load(ctx, w)
	} else {
		deltas = r.ingest(ctx, w, req.events)
	}
	r.apply(ctx, w, deltas)

	if req.reply != nil {
		req.reply <- deltas
	}
}

func (r *Registry) ingest(ctx context.Context, w *worker, events []domain.Event) []*Delta {
	sessionID := w.agg.Window().SessionID
	deltas := make([]*Delta, 0, len(events))

	for _, ev := range sortedBySeq(events) {
		d, err := w.agg.Ingest(ctx, ev)
		if err != nil {
			r.logger.Debug("Dropped event",
				zap.String("session_id", sessionID),
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			continue
		}
		if d != nil {
			deltas = append(deltas, d)
		}
	}
	return deltas
}

func (r *Registry) load(ctx context.Context, w *worker) []*Delta {
	if r.source == nil {
		return nil
	}

	sessionID := w.agg.Window().SessionID
	events, err := r.source.EventsSince(ctx, sessionID, w.agg.Marker(), w.agg.opts.MaxBackfill)
	if err != nil {
		r.logger.Warn("Failed to load stored events",
			zap.String("session_id", sessionID),
			zap.Uint64("marker", w.agg.Marker()),
			zap.Error(err))
		return nil
	}

	deltas := w.agg.Backfill(ctx, events)
	if len(deltas) > 0 {
		r.logger.Debug("Caught up from store",
			zap.String("session_id", sessionID),
			zap.Int("loaded", len(events)),
			zap.Int("applied", len(deltas)))
	}
	return deltas
}

func (r *Registry) apply(ctx context.Context, w *worker, deltas []*Delta) {
	if r.listener == nil || len(deltas) == 0 {
		return
	}
	r.listener.OnBatch(ctx, w.agg.Window().SessionID, deltas, w.agg.Snapshot())
}
