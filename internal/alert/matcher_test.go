package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

var now = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func rules() []domain.AlertRule {
	return []domain.AlertRule{
		{ID: "r1", RuleType: domain.AlertHighTip, Threshold: 1000, Enabled: true},
		{ID: "r2", RuleType: domain.AlertWhaleEnter, Threshold: 5000, Enabled: true},
		{ID: "r3", RuleType: domain.AlertFirstPayer, Enabled: true},
		{ID: "r4", RuleType: domain.AlertViewerMilestone, Threshold: 100, Enabled: true},
		{ID: "r5", RuleType: domain.AlertHighTip, Threshold: 10, Enabled: false},
	}
}

func TestMatch(t *testing.T) {
	m := NewMatcher(30*time.Second, fixedClock)

	tests := []struct {
		name string
		in   Input
		want []domain.AlertRuleType
	}{
		{
			name: "high tip",
			in:   Input{Event: domain.Event{EventID: "e1", Type: domain.EventTip, UserID: "u1", Amount: 1500}},
			want: []domain.AlertRuleType{domain.AlertHighTip},
		},
		{
			name: "small tip does not use disabled rule",
			in:   Input{Event: domain.Event{EventID: "e2", Type: domain.EventTip, UserID: "u1", Amount: 20}},
		},
		{
			name: "whale enters",
			in:   Input{Event: domain.Event{EventID: "e3", Type: domain.EventEnter, UserID: "u1"}, Lifetime: 8000},
			want: []domain.AlertRuleType{domain.AlertWhaleEnter},
		},
		{
			name: "whale chatting is not an entrance",
			in:   Input{Event: domain.Event{EventID: "e4", Type: domain.EventChat, UserID: "u1"}, Lifetime: 8000},
		},
		{
			name: "first payer with big gift",
			in:   Input{Event: domain.Event{EventID: "e5", Type: domain.EventGift, UserID: "u2", Amount: 2000}, NewPayer: true},
			want: []domain.AlertRuleType{domain.AlertHighTip, domain.AlertFirstPayer},
		},
		{
			name: "milestone crossed",
			in:   Input{Event: domain.Event{EventID: "e6", Type: domain.EventEnter, UserID: "u9"}, PrevViewerCount: 99, ViewerCount: 100},
			want: []domain.AlertRuleType{domain.AlertViewerMilestone},
		},
		{
			name: "milestone not crossed",
			in:   Input{Event: domain.Event{EventID: "e7", Type: domain.EventEnter, UserID: "u9"}, PrevViewerCount: 100, ViewerCount: 101},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(rules(), tt.in)

			var types []domain.AlertRuleType
			for _, n := range got {
				types = append(types, n.RuleType)
				assert.Equal(t, DedupKey(tt.in.Event.EventID, n.RuleType), n.DedupKey)
				assert.Equal(t, now.Add(30*time.Second), n.ExpiresAt)
			}
			assert.Equal(t, tt.want, types)
		})
	}
}

func TestMatch_SameRuleTypeFiresOncePerEvent(t *testing.T) {
	m := NewMatcher(0, fixedClock)
	rs := []domain.AlertRule{
		{ID: "a", RuleType: domain.AlertHighTip, Threshold: 100, Enabled: true},
		{ID: "b", RuleType: domain.AlertHighTip, Threshold: 500, Enabled: true},
	}

	got := m.Match(rs, Input{Event: domain.Event{EventID: "e1", Type: domain.EventTip, UserID: "u1", Amount: 900}})

	require.Len(t, got, 1)
	assert.Equal(t, now.Add(DefaultDisplayWindow), got[0].ExpiresAt)
}
