package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/BarkinBalci/livespot-engine/internal/config"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// maxBatchEntries is the SendMessageBatch entry limit
const maxBatchEntries = 10

// Client represents an SQS client for the ingest and delivery queues
type Client struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created",
		zap.String("region", SQSConfig.Region),
		zap.String("queue_url", SQSConfig.QueueURL),
		zap.String("delivery_queue_url", SQSConfig.DeliveryQueueURL))

	return &Client{
		client: sqs.NewFromConfig(cfg, clientOpts...),
		config: SQSConfig,
		log:    log,
	}, nil
}

// ReceiveMessages receives messages from SQS
func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.client.ReceiveMessage(ctx, input)
}

// DeleteMessage deletes a message from SQS
func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.client.DeleteMessage(ctx, input)
}

// QueueURL returns the ingest queue URL
func (c *Client) QueueURL() string {
	return c.config.QueueURL
}

// PublishEvents sends room events to the ingest queue, one message per event
func (c *Client) PublishEvents(ctx context.Context, events []domain.Event) error {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(events))
	for i := range events {
		body, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", events[i].EventID, err)
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"SessionID": {
					DataType:    aws.String("String"),
					StringValue: aws.String(events[i].SessionID),
				},
				"EventType": {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(events[i].Type)),
				},
			},
		})
	}

	if err := c.sendBatches(ctx, c.config.QueueURL, entries); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}

	c.log.Info("Events published to SQS", zap.Int("count", len(events)))
	return nil
}

// PublishDispatchJobs hands DM items to the Delivery Agent queue
func (c *Client) PublishDispatchJobs(ctx context.Context, jobs []domain.DispatchJob) error {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(jobs))
	for i := range jobs {
		body, err := json.Marshal(&jobs[i])
		if err != nil {
			return fmt.Errorf("failed to marshal dispatch job %s: %w", jobs[i].ItemID, err)
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"CampaignID": {
					DataType:    aws.String("String"),
					StringValue: aws.String(jobs[i].CampaignID),
				},
				"SendMode": {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(jobs[i].SendMode)),
				},
			},
		})
	}

	if err := c.sendBatches(ctx, c.config.DeliveryQueueURL, entries); err != nil {
		return fmt.Errorf("failed to publish dispatch jobs: %w", err)
	}

	c.log.Info("Dispatch jobs published to SQS", zap.Int("count", len(jobs)))
	return nil
}

// sendBatches splits entries into SendMessageBatch calls and fails on any rejected entry
func (c *Client) sendBatches(ctx context.Context, queueURL string, entries []types.SendMessageBatchRequestEntry) error {
	for start := 0; start < len(entries); start += maxBatchEntries {
		end := start + maxBatchEntries
		if end > len(entries) {
			end = len(entries)
		}

		out, err := c.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  entries[start:end],
		})
		if err != nil {
			c.log.Error("Failed to send message batch to SQS",
				zap.String("queue_url", queueURL),
				zap.Int("entries", end-start),
				zap.Error(err))
			return fmt.Errorf("failed to send message batch: %w", err)
		}

		if len(out.Failed) > 0 {
			first := out.Failed[0]
			c.log.Error("SQS rejected batch entries",
				zap.String("queue_url", queueURL),
				zap.Int("failed", len(out.Failed)),
				zap.String("code", aws.ToString(first.Code)),
				zap.String("message", aws.ToString(first.Message)))
			return fmt.Errorf("%d of %d entries rejected: %s", len(out.Failed), end-start, aws.ToString(first.Message))
		}
	}
	return nil
}
