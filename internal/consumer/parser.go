package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// JSONEventParser implements MessageParser for JSON room events
type JSONEventParser struct {
	now func() time.Time
}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{now: time.Now}
}

// Parse decodes and validates a room event. A missing event id is derived from
// the session and sequence number so redeliveries collapse in the store.
func (p *JSONEventParser) Parse(body []byte) (*domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	switch {
	case event.SessionID == "":
		return nil, fmt.Errorf("session_id is required")
	case event.Seq == 0:
		return nil, fmt.Errorf("seq must be positive")
	case !event.Type.Valid():
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	case event.Amount < 0:
		return nil, fmt.Errorf("negative amount %d", event.Amount)
	case event.Timestamp.IsZero():
		return nil, fmt.Errorf("timestamp is required")
	}

	if event.EventID == "" {
		event.EventID = domain.EventIDFor(event.SessionID, event.Seq)
	}
	event.Timestamp = event.Timestamp.UTC()
	event.Version = uint64(p.now().UnixNano())

	return &event, nil
}
