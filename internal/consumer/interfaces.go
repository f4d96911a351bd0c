package consumer

import (
	"context"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes into events
type MessageParser interface {
	Parse(body []byte) (*domain.Event, error)
}

// EventForwarder pushes persisted events to live subscribers
type EventForwarder interface {
	PublishEvents(ctx context.Context, events []*domain.Event) error
}
