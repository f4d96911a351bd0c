package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// Batch is the payload carried on the live-event channel
type Batch struct {
	SessionID string         `json:"session_id"`
	Events    []domain.Event `json:"events"`
}

// Publisher pushes persisted events onto the live-event channel
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
	log     *zap.Logger
}

// NewPublisher creates a publisher for the given channel
func NewPublisher(rdb redis.UniversalClient, channel string, log *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, channel: channel, log: log}
}

// PublishEvents publishes one message per session present in events, preserving input order
func (p *Publisher) PublishEvents(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	order := make([]string, 0)
	bySession := make(map[string][]domain.Event)
	for _, ev := range events {
		if _, ok := bySession[ev.SessionID]; !ok {
			order = append(order, ev.SessionID)
		}
		bySession[ev.SessionID] = append(bySession[ev.SessionID], *ev)
	}

	for _, sessionID := range order {
		raw, err := json.Marshal(Batch{SessionID: sessionID, Events: bySession[sessionID]})
		if err != nil {
			return fmt.Errorf("failed to marshal event batch: %w", err)
		}
		if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
			return fmt.Errorf("failed to publish events of session %s: %w", sessionID, err)
		}
	}

	p.log.Debug("Published live events",
		zap.String("channel", p.channel),
		zap.Int("sessions", len(order)),
		zap.Int("events", len(events)))
	return nil
}
