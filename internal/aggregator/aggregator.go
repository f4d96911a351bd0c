package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/segment"
)

const (
	DefaultReorderWindow = 64
	DefaultBucketWidth   = 10 * time.Minute
	DefaultMaxBackfill   = 5000
)

// Profile is what the store knows about a viewer before the current session
type Profile struct {
	PriorLifetime int64
	LastPaymentAt *time.Time
}

// ProfileLookup resolves viewer history outside sessionID. Failures never block
// ingestion; the lookup is retried on the next event from the same user.
type ProfileLookup interface {
	Profile(ctx context.Context, sessionID, userID string) (Profile, error)
}

// Options configures an Aggregator
type Options struct {
	ReorderWindow int
	BucketWidth   time.Duration
	MaxBackfill   int
	Lookup        ProfileLookup
	Classifier    *segment.Classifier
	Now           func() time.Time
}

// SignalKind names a side-channel notification raised by ingestion
type SignalKind string

const (
	// SignalNewPayer fires once per session for a user whose first ever payment lands in it
	SignalNewPayer SignalKind = "new_payer"
	// SignalFirstSeen fires the first time a user appears in the session
	SignalFirstSeen SignalKind = "first_seen"
)

// Signal is a side-channel notification produced by Ingest
type Signal struct {
	Kind      SignalKind `json:"kind"`
	UserID    string     `json:"user_id"`
	EventID   string     `json:"event_id"`
	Amount    int64      `json:"amount,omitempty"`
	Lifetime  int64      `json:"lifetime"`
	Timestamp time.Time  `json:"timestamp"`
}

// Delta describes what a single applied event changed
type Delta struct {
	Event           domain.Event
	Ledger          *domain.ViewerLedgerEntry
	Bucket          *domain.RevenueBucket
	Signals         []Signal
	ViewerCount     int
	PrevViewerCount int
}

// Stats counts ingestion outcomes
type Stats struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Late       int `json:"late"`
	Dropped    int `json:"dropped"`
}

type viewer struct {
	entry          domain.ViewerLedgerEntry
	baseline       int64
	baselineKnown  bool
	lastPaymentAt  *time.Time
	presenceSeq    uint64
	newPayerRaised bool
}

// Aggregator owns the ledger and revenue buckets of one session.
// It is not safe for concurrent use; the Registry gives each instance a single writer.
type Aggregator struct {
	window  domain.SessionWindow
	opts    Options
	marker  uint64
	maxSeq  uint64
	applied map[uint64]struct{}
	viewers map[string]*viewer
	buckets map[int]int64
	total   int64
	stats   Stats
}

// New creates an aggregator for the given session
func New(window domain.SessionWindow, opts Options) *Aggregator {
	if opts.ReorderWindow <= 0 {
		opts.ReorderWindow = DefaultReorderWindow
	}
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = DefaultBucketWidth
	}
	if opts.MaxBackfill <= 0 {
		opts.MaxBackfill = DefaultMaxBackfill
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Aggregator{
		window:  window,
		opts:    opts,
		applied: make(map[uint64]struct{}),
		viewers: make(map[string]*viewer),
		buckets: make(map[int]int64),
	}
}

// Window returns the session this aggregator covers
func (a *Aggregator) Window() domain.SessionWindow { return a.window }

// Marker returns the highest sequence number below which every event is settled
func (a *Aggregator) Marker() uint64 { return a.marker }

// Stats returns the ingestion counters
func (a *Aggregator) Stats() Stats { return a.stats }

// Ingest applies one event. Duplicates and events at or before the marker return
// a nil Delta and nil error. Malformed events are counted and return an error
// wrapping domain.ErrTransientIngest.
func (a *Aggregator) Ingest(ctx context.Context, ev domain.Event) (*Delta, error) {
	if err := a.validate(ev); err != nil {
		a.stats.Dropped++
		return nil, fmt.Errorf("%w: %s", domain.ErrTransientIngest, err.Error())
	}

	if ev.Seq <= a.marker {
		a.stats.Late++
		return nil, nil
	}
	if _, ok := a.applied[ev.Seq]; ok {
		a.stats.Duplicates++
		return nil, nil
	}

	delta := &Delta{Event: ev, PrevViewerCount: len(a.viewers)}
	a.apply(ctx, ev, delta)
	delta.ViewerCount = len(a.viewers)

	a.markApplied(ev.Seq)
	a.stats.Applied++
	return delta, nil
}

// Backfill bulk-loads historical events in sequence order, bounded by MaxBackfill.
// It converges with live ingestion because both paths share the same marker.
func (a *Aggregator) Backfill(ctx context.Context, events []domain.Event) []*Delta {
	sorted := sortedBySeq(events)
	if len(sorted) > a.opts.MaxBackfill {
		sorted = sorted[:a.opts.MaxBackfill]
	}

	deltas := make([]*Delta, 0, len(sorted))
	for _, ev := range sorted {
		d, err := a.Ingest(ctx, ev)
		if err != nil || d == nil {
			continue
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// sortedBySeq returns a copy of events in sequence order. Applying a batch out
// of order would move the marker past its own earlier events.
func sortedBySeq(events []domain.Event) []domain.Event {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	return sorted
}

func (a *Aggregator) validate(ev domain.Event) error {
	switch {
	case !ev.Type.Valid():
		return fmt.Errorf("unknown event type %q", ev.Type)
	case ev.SessionID != "" && ev.SessionID != a.window.SessionID:
		return fmt.Errorf("event for session %s routed to %s", ev.SessionID, a.window.SessionID)
	case ev.Seq == 0:
		return fmt.Errorf("event %s has no sequence number", ev.EventID)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("event %s has no timestamp", ev.EventID)
	case ev.Amount < 0:
		return fmt.Errorf("event %s has negative amount", ev.EventID)
	case ev.Type.IsPayment() && ev.UserID == "":
		return fmt.Errorf("%s event %s has no user", ev.Type, ev.EventID)
	}
	return nil
}

func (a *Aggregator) apply(ctx context.Context, ev domain.Event, delta *Delta) {
	if ev.UserID == "" || ev.Type == domain.EventSystem {
		return
	}

	v, created := a.viewer(ev)
	if created {
		delta.Signals = append(delta.Signals, Signal{
			Kind:      SignalFirstSeen,
			UserID:    ev.UserID,
			EventID:   ev.EventID,
			Timestamp: ev.Timestamp,
		})
	}

	if ev.Timestamp.Before(v.entry.FirstSeen) {
		v.entry.FirstSeen = ev.Timestamp
	}
	if ev.Timestamp.After(v.entry.LastSeen) {
		v.entry.LastSeen = ev.Timestamp
	}

	switch ev.Type {
	case domain.EventEnter, domain.EventLeave:
		if ev.Seq > v.presenceSeq {
			v.presenceSeq = ev.Seq
			v.entry.Present = ev.Type == domain.EventEnter
		}
	}

	if ev.Type.IsPayment() && ev.Amount > 0 {
		v.entry.SessionAmount += ev.Amount
		a.total += ev.Amount

		idx := a.bucketIndex(ev.Timestamp)
		a.buckets[idx] += ev.Amount
		delta.Bucket = &domain.RevenueBucket{
			SessionID:     a.window.SessionID,
			IntervalIndex: idx,
			Amount:        a.buckets[idx],
			Cumulative:    a.cumulativeAt(idx),
		}
	}

	if !v.baselineKnown {
		a.resolveProfile(ctx, v)
	}
	a.refresh(v)

	if v.entry.IsNewPayer && !v.newPayerRaised {
		v.newPayerRaised = true
		delta.Signals = append(delta.Signals, Signal{
			Kind:      SignalNewPayer,
			UserID:    ev.UserID,
			EventID:   ev.EventID,
			Amount:    ev.Amount,
			Lifetime:  v.entry.LifetimeAmount,
			Timestamp: ev.Timestamp,
		})
	}

	entry := copyEntry(v.entry)
	delta.Ledger = &entry
}

func (a *Aggregator) viewer(ev domain.Event) (*viewer, bool) {
	if v, ok := a.viewers[ev.UserID]; ok {
		return v, false
	}
	v := &viewer{entry: domain.ViewerLedgerEntry{
		UserID:    ev.UserID,
		SessionID: a.window.SessionID,
		FirstSeen: ev.Timestamp,
		LastSeen:  ev.Timestamp,
	}}
	a.viewers[ev.UserID] = v
	return v, true
}

func (a *Aggregator) resolveProfile(ctx context.Context, v *viewer) {
	if a.opts.Lookup == nil {
		v.baselineKnown = true
		return
	}
	p, err := a.opts.Lookup.Profile(ctx, a.window.SessionID, v.entry.UserID)
	if err != nil {
		return
	}
	v.baseline = p.PriorLifetime
	v.lastPaymentAt = p.LastPaymentAt
	v.baselineKnown = true
}

// refresh recomputes the fields derived from the session amount and the profile.
// A user is a new payer when nothing was spent before this session and something
// was spent in it, which does not depend on the order events arrive in.
func (a *Aggregator) refresh(v *viewer) {
	v.entry.LifetimeAmount = v.baseline + v.entry.SessionAmount
	v.entry.IsNewPayer = v.baselineKnown && v.baseline == 0 && v.entry.SessionAmount > 0

	if !v.baselineKnown || a.opts.Classifier == nil {
		v.entry.Segment = nil
		return
	}
	seg := a.opts.Classifier.Classify(v.entry.LifetimeAmount, a.daysSincePayment(v))
	v.entry.Segment = &seg
}

func (a *Aggregator) daysSincePayment(v *viewer) int {
	if v.entry.SessionAmount > 0 {
		return 0
	}
	if v.lastPaymentAt == nil {
		return segment.NeverPaid
	}
	days := int(a.opts.Now().Sub(*v.lastPaymentAt) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

func (a *Aggregator) bucketIndex(ts time.Time) int {
	offset := ts.Sub(a.window.StartedAt)
	if offset < 0 {
		return 0
	}
	return int(offset / a.opts.BucketWidth)
}

func (a *Aggregator) cumulativeAt(idx int) int64 {
	var sum int64
	for i, amount := range a.buckets {
		if i <= idx {
			sum += amount
		}
	}
	return sum
}

// markApplied records seq and advances the marker over the contiguous prefix.
// Gaps older than the reorder window are given up on so memory stays bounded.
func (a *Aggregator) markApplied(seq uint64) {
	a.applied[seq] = struct{}{}
	if seq > a.maxSeq {
		a.maxSeq = seq
	}

	window := uint64(a.opts.ReorderWindow)
	if a.maxSeq > window && a.maxSeq-window > a.marker {
		a.marker = a.maxSeq - window
	}

	for {
		if _, ok := a.applied[a.marker+1]; !ok {
			break
		}
		a.marker++
	}

	for s := range a.applied {
		if s <= a.marker {
			delete(a.applied, s)
		}
	}
}

// Snapshot returns an immutable copy of the current session state
func (a *Aggregator) Snapshot() *Snapshot {
	snap := &Snapshot{
		SessionID:   a.window.SessionID,
		Marker:      a.marker,
		TotalAmount: a.total,
		Stats:       a.stats,
		TakenAt:     a.opts.Now(),
	}

	snap.Viewers = make([]domain.ViewerLedgerEntry, 0, len(a.viewers))
	for _, v := range a.viewers {
		snap.Viewers = append(snap.Viewers, copyEntry(v.entry))
		if v.entry.SessionAmount > 0 {
			snap.PayerCount++
		}
		if v.entry.IsNewPayer {
			snap.NewPayers++
		}
	}
	SortViewers(snap.Viewers)

	indexes := make([]int, 0, len(a.buckets))
	for i := range a.buckets {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var running int64
	snap.Buckets = make([]domain.RevenueBucket, 0, len(indexes))
	for _, i := range indexes {
		running += a.buckets[i]
		snap.Buckets = append(snap.Buckets, domain.RevenueBucket{
			SessionID:     a.window.SessionID,
			IntervalIndex: i,
			Amount:        a.buckets[i],
			Cumulative:    running,
		})
	}

	return snap
}

// SortViewers orders entries by lifetime amount, most recent first_seen on ties,
// then user id.
func SortViewers(entries []domain.ViewerLedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.LifetimeAmount != b.LifetimeAmount {
			return a.LifetimeAmount > b.LifetimeAmount
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.After(b.FirstSeen)
		}
		return a.UserID < b.UserID
	})
}

func copyEntry(e domain.ViewerLedgerEntry) domain.ViewerLedgerEntry {
	if e.Segment != nil {
		seg := *e.Segment
		e.Segment = &seg
	}
	return e
}
