package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// NeverPaid is passed as days since last payment for users without payments
const NeverPaid = -1

// Classifier maps ledger state to a segment tier. It holds no per-user state,
// so results always reflect the arguments of the current call.
type Classifier struct {
	rules []domain.Segment
}

// NewClassifier validates rules and builds a classifier.
// Rules must be listed in tier order (S1 first) without duplicates.
func NewClassifier(rules []domain.Segment) (*Classifier, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no segment rules configured")
	}

	prev := 0
	for _, r := range rules {
		rank := r.ID.Rank()
		if rank == 0 {
			return nil, fmt.Errorf("invalid segment id %q", r.ID)
		}
		if rank <= prev {
			return nil, fmt.Errorf("segment %s is duplicated or out of order", r.ID)
		}
		if r.MinAmount < 0 {
			return nil, fmt.Errorf("segment %s has negative min amount", r.ID)
		}
		prev = rank
	}

	copied := make([]domain.Segment, len(rules))
	copy(copied, rules)
	return &Classifier{rules: copied}, nil
}

// Classify returns the first tier whose thresholds the user meets, falling back
// to the lowest tier. A larger amount matches a superset of rules, so raising the
// amount never yields a worse tier.
func (c *Classifier) Classify(lifetimeAmount int64, daysSinceLastPayment int) domain.SegmentID {
	for _, r := range c.rules {
		if matches(r, lifetimeAmount, daysSinceLastPayment) {
			return r.ID
		}
	}
	return domain.LowestSegment
}

// Rules returns a copy of the configured rules
func (c *Classifier) Rules() []domain.Segment {
	out := make([]domain.Segment, len(c.rules))
	copy(out, c.rules)
	return out
}

func matches(r domain.Segment, amount int64, days int) bool {
	if amount < r.MinAmount {
		return false
	}
	if r.MaxRecencyDays < 0 {
		return true
	}
	return days >= 0 && days <= r.MaxRecencyDays
}

// ParseRules reads rules in the form "S1:5000:7,S2:5000:90,...".
// Each entry is id:min_amount:max_recency_days with an optional :label suffix;
// -1 days means no recency limit.
func ParseRules(table string) ([]domain.Segment, error) {
	var rules []domain.Segment
	for _, raw := range strings.Split(table, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		parts := strings.SplitN(raw, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed segment rule %q", raw)
		}

		id, err := domain.ParseSegmentID(parts[0])
		if err != nil {
			return nil, err
		}
		minAmount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid min amount in rule %q: %w", raw, err)
		}
		days, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid recency in rule %q: %w", raw, err)
		}

		rule := domain.Segment{ID: id, MinAmount: minAmount, MaxRecencyDays: days}
		if len(parts) == 4 {
			rule.Label = strings.TrimSpace(parts[3])
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FromConfig parses and validates a rule string in one step
func FromConfig(table string) (*Classifier, error) {
	rules, err := ParseRules(table)
	if err != nil {
		return nil, fmt.Errorf("failed to parse segment rules: %w", err)
	}
	return NewClassifier(rules)
}
