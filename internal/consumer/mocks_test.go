package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

const testQueueURL = "https://sqs.eu-central-1.amazonaws.com/123/live-events"

var testTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// MockQueueConsumer is a mock implementation of queue.QueueConsumer
type MockQueueConsumer struct {
	mock.Mock
}

func (m *MockQueueConsumer) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) QueueURL() string {
	args := m.Called()
	return args.String(0)
}

// MockEventRepository is a mock implementation of repository.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEventRepository) InitSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventRepository) Close() error {
	return m.Called().Error(0)
}

func (m *MockEventRepository) EventsSince(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	args := m.Called(ctx, sessionID, afterSeq, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Event), args.Error(1)
}

func (m *MockEventRepository) SessionTotals(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSummary), args.Error(1)
}

func (m *MockEventRepository) ViewerHistory(ctx context.Context, userID, excludeSessionID string) (*repository.ViewerHistory, error) {
	args := m.Called(ctx, userID, excludeSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ViewerHistory), args.Error(1)
}

// MockForwarder is a mock implementation of EventForwarder
type MockForwarder struct {
	mock.Mock
}

func (m *MockForwarder) PublishEvents(ctx context.Context, events []*domain.Event) error {
	return m.Called(ctx, events).Error(0)
}

// MockMessageParser is a mock implementation of MessageParser
type MockMessageParser struct {
	mock.Mock
}

func (m *MockMessageParser) Parse(body []byte) (*domain.Event, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func testEvent(seq uint64) *domain.Event {
	return &domain.Event{
		EventID:   fmt.Sprintf("s1-%d", seq),
		SessionID: "s1",
		Seq:       seq,
		Type:      domain.EventEnter,
		UserID:    "u1",
		Timestamp: testTime,
	}
}
