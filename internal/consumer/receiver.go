package consumer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/queue"
)

// ReceiverConfig configures the SQS receiver
type ReceiverConfig struct {
	MaxMessages     int32
	WaitTimeSeconds int32
	// InitialBackoff and MaxBackoff bound the pause after consecutive receive errors
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Receiver long-polls the ingest queue
type Receiver struct {
	consumer queue.QueueConsumer
	config   ReceiverConfig
	log      *zap.Logger
}

// NewReceiver creates a new SQS receiver
func NewReceiver(consumer queue.QueueConsumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = 30 * time.Second
	}
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
	}
}

// Start receives until ctx is cancelled, then closes out
func (r *Receiver) Start(ctx context.Context, out chan<- types.Message) {
	defer close(out)

	backoff := r.config.InitialBackoff
	for ctx.Err() == nil {
		result, err := r.consumer.ReceiveMessages(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:              aws.String(r.consumer.QueueURL()),
			MaxNumberOfMessages:   r.config.MaxMessages,
			WaitTimeSeconds:       r.config.WaitTimeSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Error("Error receiving messages from SQS",
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
			continue
		}
		backoff = r.config.InitialBackoff

		if len(result.Messages) == 0 {
			continue
		}
		r.log.Debug("Received messages from SQS", zap.Int("message_count", len(result.Messages)))

		for _, msg := range result.Messages {
			select {
			case <-ctx.Done():
				r.log.Info("Receiver shutting down while forwarding messages")
				return
			case out <- msg:
			}
		}
	}
	r.log.Info("Receiver shutting down")
}
