package alert

import (
	"fmt"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

const DefaultDisplayWindow = 30 * time.Second

// Input is everything a rule may look at for one event
type Input struct {
	Event           domain.Event
	Lifetime        int64
	NewPayer        bool
	ViewerCount     int
	PrevViewerCount int
}

// Matcher evaluates events against alert rules. It keeps no per-event state.
type Matcher struct {
	window time.Duration
	now    func() time.Time
}

// NewMatcher creates a matcher whose notifications expire after window
func NewMatcher(window time.Duration, now func() time.Time) *Matcher {
	if window <= 0 {
		window = DefaultDisplayWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Matcher{window: window, now: now}
}

// DedupKey identifies one rule type firing for one event
func DedupKey(eventID string, rt domain.AlertRuleType) string {
	return eventID + ":" + string(rt)
}

// Match returns one notification per enabled rule type that the event satisfies
func (m *Matcher) Match(rules []domain.AlertRule, in Input) []domain.Notification {
	var out []domain.Notification
	fired := make(map[domain.AlertRuleType]bool)
	now := m.now()

	for _, rule := range rules {
		if !rule.Enabled || fired[rule.RuleType] {
			continue
		}
		msg, ok := evaluate(rule, in)
		if !ok {
			continue
		}
		fired[rule.RuleType] = true

		out = append(out, domain.Notification{
			DedupKey:  DedupKey(in.Event.EventID, rule.RuleType),
			RuleType:  rule.RuleType,
			SessionID: in.Event.SessionID,
			UserID:    in.Event.UserID,
			EventID:   in.Event.EventID,
			Amount:    in.Event.Amount,
			Message:   msg,
			CreatedAt: now,
			ExpiresAt: now.Add(m.window),
		})
	}
	return out
}

func evaluate(rule domain.AlertRule, in Input) (string, bool) {
	ev := in.Event

	switch rule.RuleType {
	case domain.AlertHighTip:
		if ev.Type.IsPayment() && ev.Amount > 0 && ev.Amount >= rule.Threshold {
			return fmt.Sprintf("%s sent %d", ev.UserID, ev.Amount), true
		}
	case domain.AlertWhaleEnter:
		if ev.Type == domain.EventEnter && in.Lifetime >= rule.Threshold && in.Lifetime > 0 {
			return fmt.Sprintf("%s entered with lifetime %d", ev.UserID, in.Lifetime), true
		}
	case domain.AlertFirstPayer:
		if in.NewPayer {
			return fmt.Sprintf("%s paid for the first time", ev.UserID), true
		}
	case domain.AlertViewerMilestone:
		if rule.Threshold > 0 {
			step := int(rule.Threshold)
			if in.ViewerCount/step > in.PrevViewerCount/step {
				return fmt.Sprintf("Viewer count reached %d", (in.ViewerCount/step)*step), true
			}
		}
	}
	return "", false
}
