package domain

import (
	"fmt"
	"time"
)

// EventType identifies what happened in a livestream room
type EventType string

const (
	EventChat    EventType = "chat"
	EventTip     EventType = "tip"
	EventGift    EventType = "gift"
	EventEnter   EventType = "enter"
	EventLeave   EventType = "leave"
	EventWhisper EventType = "whisper"
	EventSystem  EventType = "system"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventChat, EventTip, EventGift, EventEnter, EventLeave, EventWhisper, EventSystem:
		return true
	}
	return false
}

// IsPayment reports whether events of this type carry revenue
func (t EventType) IsPayment() bool {
	return t == EventTip || t == EventGift
}

// Event represents a single room event stored in ClickHouse.
// Seq is strictly increasing per session and is the ingestion marker.
type Event struct {
	EventID   string    `ch:"event_id" json:"event_id"`
	SessionID string    `ch:"session_id" json:"session_id"`
	CastID    string    `ch:"cast_id" json:"cast_id"`
	Seq       uint64    `ch:"seq" json:"seq"`
	Type      EventType `ch:"event_type" json:"type"`
	UserID    string    `ch:"user_id" json:"user_id"`
	Amount    int64     `ch:"amount" json:"amount"`
	Text      string    `ch:"text" json:"text"`
	Timestamp time.Time `ch:"timestamp" json:"timestamp"`
	Version   uint64    `ch:"version" json:"-"`
}

// EventIDFor derives the stable id of an event that arrived without one
func EventIDFor(sessionID string, seq uint64) string {
	return fmt.Sprintf("%s-%d", sessionID, seq)
}
