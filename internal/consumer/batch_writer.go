package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter persists envelopes in batches and forwards each stored batch to
// live subscribers. Messages are acked only after the insert succeeds.
type BatchWriter struct {
	repository repository.EventRepository
	forwarder  EventForwarder
	config     BatchWriterConfig
	log        *zap.Logger
}

// NewBatchWriter creates a new batch writer; forwarder may be nil
func NewBatchWriter(repo repository.EventRepository, forwarder EventForwarder, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		repository: repo,
		forwarder:  forwarder,
		config:     config,
		log:        log,
	}
}

// Start batches envelopes until the input closes or ctx is cancelled, flushing
// on size or timeout and once more on the way out
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)
	flush := func(reason string) {
		if len(batch) == 0 {
			return
		}
		w.log.Debug("Flushing event batch",
			zap.String("reason", reason),
			zap.Int("envelope_count", len(batch)))
		w.processBatch(ctx, batch)
		batch = make([]*Envelope, 0, w.config.MaxBatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			// The parent context is gone; give the final flush its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			ctx = flushCtx
			flush("shutdown")
			cancel()
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				flush("input closed")
				return
			}
			batch = append(batch, envelope)
			if len(batch) >= w.config.MaxBatchSize {
				flush("size")
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			flush("timeout")
		}
	}
}

func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	events := make([]*domain.Event, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Event
	}

	inserted, err := w.repository.InsertBatch(ctx, events)
	if err != nil {
		w.log.Error("Failed to insert batch",
			zap.Int("event_count", len(events)),
			zap.Error(err))
		w.settle(ctx, envelopes, false)
		return
	}
	if inserted != len(events) {
		w.log.Warn("Partial insert success",
			zap.Int("inserted", inserted),
			zap.Int("expected", len(events)))
		w.settle(ctx, envelopes, false)
		return
	}

	w.log.Info("Inserted events", zap.Int("count", inserted))

	// Push delivery is best effort; subscribers catch up from the store.
	if w.forwarder != nil {
		if err := w.forwarder.PublishEvents(ctx, events); err != nil {
			w.log.Warn("Failed to forward events to live subscribers",
				zap.Int("count", len(events)),
				zap.Error(err))
		}
	}

	w.settle(ctx, envelopes, true)
}

func (w *BatchWriter) settle(ctx context.Context, envelopes []*Envelope, ok bool) {
	for _, env := range envelopes {
		var err error
		if ok {
			err = env.Ack(ctx)
		} else {
			err = env.Nack(ctx)
		}
		if err != nil {
			w.log.Error("Failed to settle envelope",
				zap.String("message_id", env.MessageID),
				zap.Bool("ack", ok),
				zap.Error(err))
		}
	}
}
