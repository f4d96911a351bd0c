package consumer

import (
	"context"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/queue"
)

// ParserStage turns queue messages into envelopes. Messages that fail to parse
// can never succeed and are deleted straight away.
type ParserStage struct {
	consumer queue.QueueConsumer
	parser   MessageParser
	rejected atomic.Int64
	log      *zap.Logger
}

// NewParserStage creates a new parser stage
func NewParserStage(consumer queue.QueueConsumer, parser MessageParser, log *zap.Logger) *ParserStage {
	return &ParserStage{
		consumer: consumer,
		parser:   parser,
		log:      log,
	}
}

// Rejected returns how many messages were discarded as malformed
func (p *ParserStage) Rejected() int64 {
	return p.rejected.Load()
}

// Start parses until the input closes or ctx is cancelled, then closes out
func (p *ParserStage) Start(ctx context.Context, in <-chan types.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Parser stage shutting down")
			return
		case msg, ok := <-in:
			if !ok {
				p.log.Info("Parser stage input channel closed")
				return
			}

			envelope := p.parseMessage(ctx, msg)
			if envelope == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

func (p *ParserStage) parseMessage(ctx context.Context, msg types.Message) *Envelope {
	messageID := aws.ToString(msg.MessageId)

	event, err := p.parser.Parse([]byte(aws.ToString(msg.Body)))
	if err != nil {
		p.rejected.Add(1)
		p.log.Warn("Rejecting malformed event message",
			zap.String("message_id", messageID),
			zap.Error(err))
		if err := p.deleteMessage(ctx, msg); err != nil {
			p.log.Error("Failed to delete malformed message",
				zap.String("message_id", messageID),
				zap.Error(err))
		}
		return nil
	}

	ack := func(ctx context.Context) error {
		return p.deleteMessage(ctx, msg)
	}

	// Leaving the message alone lets the visibility timeout redeliver it.
	nack := func(context.Context) error { return nil }

	return NewEnvelope(messageID, event, ack, nack)
}

func (p *ParserStage) deleteMessage(ctx context.Context, msg types.Message) error {
	_, err := p.consumer.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.consumer.QueueURL()),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}
