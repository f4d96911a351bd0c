package stream

import (
	"context"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// Sink accepts decoded event batches for a session
type Sink interface {
	Submit(ctx context.Context, sessionID string, events []domain.Event) error
}

// Resyncer catches every open session up from the event store
type Resyncer interface {
	ResyncAll(ctx context.Context)
}

// ConnectionState reports whether the push subscription is delivering
type ConnectionState interface {
	Connected() bool
}
