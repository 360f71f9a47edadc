package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

func TestReconcilerApply_LastWriteWins(t *testing.T) {
	messages := new(MockMessageRepository)
	statuses := new(MockStatusRepository)
	r := NewReconciler(messages, statuses)

	messages.On("FindByExternalID", mock.Anything, "ws-1", "X").Return(nil, nil)
	statuses.On("UpsertPending", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, r.Apply(context.Background(), "ws-1", "X", domain.MessageStatusDelivered))
	require.NoError(t, r.Apply(context.Background(), "ws-1", "X", domain.MessageStatusRead))

	calls := statuses.Calls
	require.Len(t, calls, 2)
	last := calls[1].Arguments.Get(1).(domain.PendingStatus)
	assert.Equal(t, domain.MessageStatusRead, last.Status)
	assert.Equal(t, domain.ProviderEvolution, last.Provider)
}

func TestResolvePending_NothingBuffered(t *testing.T) {
	messages := new(MockMessageRepository)
	statuses := new(MockStatusRepository)
	r := NewReconciler(messages, statuses)
	repos := ports.TxRepositories{Messages: messages, Statuses: statuses}

	statuses.On("GetPending", mock.Anything, "ws-1", domain.ProviderEvolution, "X").Return(nil, nil)
	msg := &domain.Message{
		ID:          "evo-X",
		WorkspaceID: "ws-1",
		Status:      domain.MessageStatusDelivered,
		Metadata:    &domain.MessageMetadata{ProviderMessageID: "X"},
	}

	require.NoError(t, r.ResolvePending(context.Background(), repos, msg))
	assert.Equal(t, domain.MessageStatusDelivered, msg.Status)
	messages.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolvePending_WithoutExternalID(t *testing.T) {
	statuses := new(MockStatusRepository)
	r := NewReconciler(new(MockMessageRepository), statuses)

	err := r.ResolvePending(context.Background(), ports.TxRepositories{Statuses: statuses}, &domain.Message{ID: "msg-1"})

	require.NoError(t, err)
	statuses.AssertNotCalled(t, "GetPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcilerApply_MessageCommittedWhileBuffering(t *testing.T) {
	messages := new(MockMessageRepository)
	statuses := new(MockStatusRepository)
	r := NewReconciler(messages, statuses)

	stored := &domain.Message{
		ID:          "evo-X",
		WorkspaceID: "ws-1",
		Status:      domain.MessageStatusDelivered,
		Metadata:    &domain.MessageMetadata{ProviderMessageID: "X"},
	}
	messages.On("FindByExternalID", mock.Anything, "ws-1", "X").Return(nil, nil).Once()
	messages.On("FindByExternalID", mock.Anything, "ws-1", "X").Return(stored, nil).Once()
	statuses.On("UpsertPending", mock.Anything, mock.Anything).Return(nil)
	statuses.On("GetPending", mock.Anything, "ws-1", domain.ProviderEvolution, "X").
		Return(&domain.PendingStatus{Status: domain.MessageStatusRead}, nil)
	messages.On("UpdateStatus", mock.Anything, "ws-1", "evo-X", domain.MessageStatusRead).Return(nil)
	statuses.On("DeletePending", mock.Anything, "ws-1", domain.ProviderEvolution, "X").Return(nil)

	require.NoError(t, r.Apply(context.Background(), "ws-1", "X", domain.MessageStatusRead))

	messages.AssertExpectations(t)
	statuses.AssertExpectations(t)
	assert.Equal(t, domain.MessageStatusRead, stored.Status)
}
