package consumer

import (
	"context"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// Envelope carries a parsed event until the batch holding it is persisted
type Envelope struct {
	MessageID string
	Event     *domain.Event
	ack       func(context.Context) error
	nack      func(context.Context) error
}

// NewEnvelope creates a new message envelope
func NewEnvelope(messageID string, event *domain.Event, ack, nack func(context.Context) error) *Envelope {
	return &Envelope{
		MessageID: messageID,
		Event:     event,
		ack:       ack,
		nack:      nack,
	}
}

// Ack removes the message from the queue
func (e *Envelope) Ack(ctx context.Context) error {
	if e.ack == nil {
		return nil
	}
	return e.ack(ctx)
}

// Nack leaves the message for redelivery
func (e *Envelope) Nack(ctx context.Context) error {
	if e.nack == nil {
		return nil
	}
	return e.nack(ctx)
}
