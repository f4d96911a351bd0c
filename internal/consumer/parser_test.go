package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

func TestJSONEventParser_Parse(t *testing.T) {
	p := NewJSONEventParser()
	p.now = func() time.Time { return testTime }

	ev, err := p.Parse([]byte(`{"event_id":"e-7","session_id":"s1","cast_id":"c1","seq":7,"type":"tip","user_id":"u1","amount":50,"timestamp":"2024-05-01T18:00:00+09:00"}`))

	require.NoError(t, err)
	assert.Equal(t, "e-7", ev.EventID)
	assert.Equal(t, uint64(7), ev.Seq)
	assert.Equal(t, domain.EventTip, ev.Type)
	assert.Equal(t, int64(50), ev.Amount)
	assert.Equal(t, testTime, ev.Timestamp)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, uint64(testTime.UnixNano()), ev.Version)
}

func TestJSONEventParser_DerivesEventID(t *testing.T) {
	ev, err := NewJSONEventParser().Parse([]byte(`{"session_id":"s1","seq":3,"type":"enter","user_id":"u1","timestamp":"2024-05-01T09:00:00Z"}`))

	require.NoError(t, err)
	assert.Equal(t, "s1-3", ev.EventID)
}

func TestJSONEventParser_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing session", `{"seq":1,"type":"enter","timestamp":"2024-05-01T09:00:00Z"}`},
		{"zero seq", `{"session_id":"s1","type":"enter","timestamp":"2024-05-01T09:00:00Z"}`},
		{"unknown type", `{"session_id":"s1","seq":1,"type":"like","timestamp":"2024-05-01T09:00:00Z"}`},
		{"negative amount", `{"session_id":"s1","seq":1,"type":"tip","user_id":"u1","amount":-5,"timestamp":"2024-05-01T09:00:00Z"}`},
		{"missing timestamp", `{"session_id":"s1","seq":1,"type":"chat"}`},
	}

	p := NewJSONEventParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := p.Parse([]byte(tt.body))
			assert.Error(t, err)
			assert.Nil(t, ev)
		})
	}
}
