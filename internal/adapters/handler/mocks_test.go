package handler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
	"evolution-relay/internal/core/services"
)

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) Ingest(ctx context.Context, raw []byte) (services.IngestResult, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(services.IngestResult), args.Error(1)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, in services.SendMessageInput) (*domain.Message, error) {
	args := m.Called(ctx, in)
	if result := args.Get(0); result != nil {
		return result.(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockReader struct {
	mock.Mock
}

func (m *MockReader) ListConversations(ctx context.Context, workspaceID string) ([]domain.Conversation, error) {
	args := m.Called(ctx, workspaceID)
	if result := args.Get(0); result != nil {
		return result.([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReader) ListMessages(ctx context.Context, workspaceID, conversationID string, since *time.Time, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, workspaceID, conversationID, since, limit)
	if result := args.Get(0); result != nil {
		return result.([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReader) MessageContext(ctx context.Context, workspaceID, messageID, userID string) (*services.MessageContext, error) {
	args := m.Called(ctx, workspaceID, messageID, userID)
	if result := args.Get(0); result != nil {
		return result.(*services.MessageContext), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockMedia struct {
	mock.Mock
}

func (m *MockMedia) Open(ctx context.Context, workspaceID, providerMessageID, attachmentID, rangeHeader string) (*ports.MediaStream, error) {
	args := m.Called(ctx, workspaceID, providerMessageID, attachmentID, rangeHeader)
	if result := args.Get(0); result != nil {
		return result.(*ports.MediaStream), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockBatchProcessor struct {
	mock.Mock
}

func (m *MockBatchProcessor) ProcessBatch(ctx context.Context, limit int) (services.BatchResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(services.BatchResult), args.Error(1)
}

type MockOutboxStats struct {
	mock.Mock
}

func (m *MockOutboxStats) CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.(map[domain.OutboxStatus]int), args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeProbe struct {
	usage ports.ResourceUsage
	err   error
}

func (f fakeProbe) Usage(context.Context) (ports.ResourceUsage, error) {
	return f.usage, f.err
}
