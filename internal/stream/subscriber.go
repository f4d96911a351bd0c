package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

const (
	// DefaultHealthInterval is how long the subscriber waits for traffic before pinging
	DefaultHealthInterval = 15 * time.Second
	// DefaultRetryDelay is the pause after a failed read before the next attempt
	DefaultRetryDelay = 2 * time.Second
)

// Subscriber consumes the live-event channel and tracks whether it is delivering.
// Every (re)established subscription triggers a resync so events published while
// disconnected are pulled from the event store.
type Subscriber struct {
	rdb            redis.UniversalClient
	channel        string
	sink           Sink
	resync         Resyncer
	connected      atomic.Bool
	healthInterval time.Duration
	retryDelay     time.Duration
	log            *zap.Logger
}

// NewSubscriber creates a subscriber; resync may be nil
func NewSubscriber(rdb redis.UniversalClient, channel string, sink Sink, resync Resyncer, log *zap.Logger) *Subscriber {
	return &Subscriber{
		rdb:            rdb,
		channel:        channel,
		sink:           sink,
		resync:         resync,
		healthInterval: DefaultHealthInterval,
		retryDelay:     DefaultRetryDelay,
		log:            log,
	}
}

// Connected reports whether the subscription is currently live
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Run receives until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer func() {
		s.connected.Store(false)
		if err := sub.Close(); err != nil {
			s.log.Warn("Failed to close live event subscription", zap.Error(err))
		}
	}()

	s.log.Info("Subscribing to live events", zap.String("channel", s.channel))

	for {
		msg, err := sub.ReceiveTimeout(ctx, s.healthInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				if perr := sub.Ping(ctx); perr != nil {
					s.markDown(perr)
				}
				continue
			}
			s.markDown(err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retryDelay):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				s.markUp(ctx)
			}
		case *redis.Message:
			s.handle(ctx, []byte(m.Payload))
		case *redis.Pong:
		}
	}
}

func (s *Subscriber) markUp(ctx context.Context) {
	if s.connected.Swap(true) {
		return
	}
	s.log.Info("Live event subscription established", zap.String("channel", s.channel))
	if s.resync != nil {
		s.resync.ResyncAll(ctx)
	}
}

func (s *Subscriber) markDown(err error) {
	if s.connected.Swap(false) {
		s.log.Warn("Live event subscription lost",
			zap.String("channel", s.channel),
			zap.Error(errors.Join(domain.ErrStaleConnection, err)))
	}
}

// handle decodes one payload and submits it; payloads for sessions this host
// does not aggregate are ignored
func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var batch Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		s.log.Warn("Bad live event payload", zap.Error(err))
		return
	}
	if batch.SessionID == "" || len(batch.Events) == 0 {
		return
	}

	if err := s.sink.Submit(ctx, batch.SessionID, batch.Events); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Debug("Skipping events of unhosted session", zap.String("session_id", batch.SessionID))
			return
		}
		s.log.Warn("Failed to submit live events",
			zap.String("session_id", batch.SessionID),
			zap.Int("events", len(batch.Events)),
			zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
