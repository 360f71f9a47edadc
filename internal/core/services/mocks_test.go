package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockMessageRepository mocks MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) FindByConversation(ctx context.Context, workspaceID, conversationID string, since *time.Time, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, workspaceID, conversationID, since, limit)
	if result := args.Get(0); result != nil {
		return result.([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) FindByID(ctx context.Context, workspaceID, id string) (*domain.Message, error) {
	args := m.Called(ctx, workspaceID, id)
	// Safely handle nil return
	if result := args.Get(0); result != nil {
		return result.(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) FindByExternalID(ctx context.Context, workspaceID, externalID string) (*domain.Message, error) {
	args := m.Called(ctx, workspaceID, externalID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, workspaceID, id string, status domain.MessageStatus) error {
	args := m.Called(ctx, workspaceID, id, status)
	return args.Error(0)
}

func (m *MockMessageRepository) Update(ctx context.Context, workspaceID, id string, patch domain.MessagePatch) error {
	args := m.Called(ctx, workspaceID, id, patch)
	return args.Error(0)
}

// MockConversationRepository mocks ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) FindByID(ctx context.Context, workspaceID, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, workspaceID, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) FindAll(ctx context.Context, workspaceID string) ([]domain.Conversation, error) {
	args := m.Called(ctx, workspaceID)
	if result := args.Get(0); result != nil {
		return result.([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) Save(ctx context.Context, conv *domain.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockConversationRepository) Update(ctx context.Context, id string, patch domain.ConversationPatch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

// MockStatusRepository mocks MessageStatusRepository interface
type MockStatusRepository struct {
	mock.Mock
}

func (m *MockStatusRepository) UpsertPending(ctx context.Context, pending domain.PendingStatus) error {
	args := m.Called(ctx, pending)
	return args.Error(0)
}

func (m *MockStatusRepository) GetPending(ctx context.Context, workspaceID, provider, externalMessageID string) (*domain.PendingStatus, error) {
	args := m.Called(ctx, workspaceID, provider, externalMessageID)
	if result := args.Get(0); result != nil {
		return result.(*domain.PendingStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStatusRepository) DeletePending(ctx context.Context, workspaceID, provider, externalMessageID string) error {
	args := m.Called(ctx, workspaceID, provider, externalMessageID)
	return args.Error(0)
}

// MockOutboxRepository mocks OutboxRepository interface
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, entry *domain.OutboxEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockOutboxRepository) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
	args := m.Called(ctx, limit, now)
	if result := args.Get(0); result != nil {
		return result.([]domain.OutboxEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOutboxRepository) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id string, attempts int, nextRetryAt time.Time, reason string) error {
	args := m.Called(ctx, id, attempts, nextRetryAt, reason)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkPermanentFailure(ctx context.Context, id string, attempts int, reason string) error {
	args := m.Called(ctx, id, attempts, reason)
	return args.Error(0)
}

func (m *MockOutboxRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return int64(args.Int(0)), args.Error(1)
}

// MockWebhookEventRepository mocks WebhookEventRepository interface
type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) Save(ctx context.Context, event *domain.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockWebhookEventRepository) UpdateStatus(ctx context.Context, id string, status domain.WebhookEventStatus, reason string) (bool, error) {
	args := m.Called(ctx, id, status, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockWebhookEventRepository) FindByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.WebhookEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockIdempotencyIndex mocks IdempotencyIndex interface
type MockIdempotencyIndex struct {
	mock.Mock
}

func (m *MockIdempotencyIndex) Claim(ctx context.Context, key, eventID string) (string, bool, error) {
	args := m.Called(ctx, key, eventID)
	return args.String(0), args.Bool(1), args.Error(2)
}

// MockNumberRepository mocks WhatsAppNumberRepository interface
type MockNumberRepository struct {
	mock.Mock
}

func (m *MockNumberRepository) FindByInstance(ctx context.Context, instanceName string) (*domain.WhatsAppNumber, error) {
	args := m.Called(ctx, instanceName)
	if result := args.Get(0); result != nil {
		return result.(*domain.WhatsAppNumber), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNumberRepository) FindByID(ctx context.Context, id string) (*domain.WhatsAppNumber, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.WhatsAppNumber), args.Error(1)
	}
	return nil, args.Error(1)
}

// ============================================================================
// Mock Adapters
// ============================================================================

// MockProvider mocks MessageProvider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) SendText(ctx context.Context, to, text string, opts ports.SendOptions) (ports.SendResult, error) {
	args := m.Called(ctx, to, text, opts)
	return args.Get(0).(ports.SendResult), args.Error(1)
}

func (m *MockProvider) SendMedia(ctx context.Context, to, mediaURL string, kind domain.MessageType, caption string, opts ports.SendOptions) (ports.SendResult, error) {
	args := m.Called(ctx, to, mediaURL, kind, caption, opts)
	return args.Get(0).(ports.SendResult), args.Error(1)
}

// MockMediaStorage mocks MediaStorage interface
type MockMediaStorage struct {
	mock.Mock
}

func (m *MockMediaStorage) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, path, ttl)
	return args.String(0), args.Error(1)
}

// MockMediaFetcher mocks MediaFetcher interface
type MockMediaFetcher struct {
	mock.Mock
}

func (m *MockMediaFetcher) FetchMedia(ctx context.Context, url, apiKey, rangeHeader string) (*ports.MediaStream, error) {
	args := m.Called(ctx, url, apiKey, rangeHeader)
	if result := args.Get(0); result != nil {
		return result.(*ports.MediaStream), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPublisher mocks EventPublisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, eventType string, data any) error {
	args := m.Called(ctx, eventType, data)
	return args.Error(0)
}

// MockProbe mocks SystemProbe interface
type MockProbe struct {
	mock.Mock
}

func (m *MockProbe) Usage(ctx context.Context) (ports.ResourceUsage, error) {
	args := m.Called(ctx)
	return args.Get(0).(ports.ResourceUsage), args.Error(1)
}

// ============================================================================
// Unit of work
// ============================================================================

// fakeUnitOfWork runs fn directly against the mocks, without a real transaction
type fakeUnitOfWork struct {
	repos ports.TxRepositories
	calls int
}

func (u *fakeUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	u.calls++
	return fn(ctx, u.repos)
}
