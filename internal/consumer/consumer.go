package consumer

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/livespot-engine/internal/config"
	"github.com/BarkinBalci/livespot-engine/internal/queue"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

const stageBuffer = 100

// Consumer runs the receive, parse and persist stages of the event pipeline
type Consumer struct {
	receiver    *Receiver
	parser      *ParserStage
	batchWriter *BatchWriter
	log         *zap.Logger
}

// NewConsumer wires the pipeline stages from configuration
func NewConsumer(cfg *config.Config, queueConsumer queue.QueueConsumer, repo repository.EventRepository, forwarder EventForwarder, log *zap.Logger) *Consumer {
	receiver := NewReceiver(queueConsumer, ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
	}, log)

	parser := NewParserStage(queueConsumer, NewJSONEventParser(), log)

	batchWriter := NewBatchWriter(repo, forwarder, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: config.Seconds(cfg.Consumer.BatchTimeoutSec),
	}, log)

	return &Consumer{
		receiver:    receiver,
		parser:      parser,
		batchWriter: batchWriter,
		log:         log,
	}
}

// Start runs every stage and returns once all of them have drained
func (c *Consumer) Start(ctx context.Context) error {
	messages := make(chan types.Message, stageBuffer)
	envelopes := make(chan *Envelope, stageBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.receiver.Start(gctx, messages)
		return nil
	})
	g.Go(func() error {
		c.parser.Start(gctx, messages, envelopes)
		return nil
	})
	g.Go(func() error {
		c.batchWriter.Start(gctx, envelopes)
		return nil
	})

	err := g.Wait()
	c.log.Info("Consumer pipeline stopped", zap.Int64("rejected_messages", c.parser.Rejected()))
	return err
}
