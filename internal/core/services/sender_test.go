package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

type senderFixture struct {
	sender   *Sender
	messages *MockMessageRepository
	convs    *MockConversationRepository
	outbox   *MockOutboxRepository
	media    *MockMediaStorage
	nudges   int
}

func createTestSender() *senderFixture {
	f := &senderFixture{
		messages: new(MockMessageRepository),
		convs:    new(MockConversationRepository),
		outbox:   new(MockOutboxRepository),
		media:    new(MockMediaStorage),
	}
	uow := &fakeUnitOfWork{repos: ports.TxRepositories{
		Messages:      f.messages,
		Conversations: f.convs,
		Outbox:        f.outbox,
	}}
	f.sender = NewSender(SenderDeps{
		Messages:      f.messages,
		Conversations: f.convs,
		UnitOfWork:    uow,
		Media:         f.media,
		Nudge:         func() { f.nudges++ },
	}, time.Hour)
	f.sender.now = func() time.Time { return testNow }
	f.sender.newID = func() string { return "fixed" }
	return f
}

func TestSend_TextMessage(t *testing.T) {
	f := createTestSender()

	f.messages.On("Save", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.ID == "msg-fixed" &&
			msg.ConversationID == "5511999999999" &&
			msg.Status == domain.MessageStatusPending &&
			msg.SenderID == "user-1"
	})).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, mock.MatchedBy(func(e *domain.OutboxEntry) bool {
		return e.MessageID == "msg-fixed" &&
			e.Payload.Type == domain.MessageTypeText &&
			e.Payload.To == "5511999999999@s.whatsapp.net" &&
			e.Payload.Text == "hello"
	})).Return(nil)
	f.convs.On("FindByID", mock.Anything, "ws-1", "5511999999999").Return(nil, nil)
	f.convs.On("Save", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
		return c.ID == "5511999999999" &&
			c.WhatsAppNumberID == "num-1" &&
			len(c.Participants) == 1 &&
			c.Participants[0].ID == "user-1" &&
			c.Participants[0].Name == domain.SystemParticipantName
	})).Return(nil)

	msg, err := f.sender.Send(context.Background(), SendMessageInput{
		WorkspaceID:      "ws-1",
		UserID:           "user-1",
		ConversationID:   "+55 11 99999-9999",
		WhatsAppNumberID: "num-1",
		Type:             domain.MessageTypeText,
		Content:          "hello",
	})

	require.NoError(t, err)
	assert.Equal(t, "msg-fixed", msg.ID)
	assert.Equal(t, 1, f.nudges)
	f.messages.AssertExpectations(t)
	f.outbox.AssertExpectations(t)
	f.convs.AssertExpectations(t)
}

func TestSend_Validation(t *testing.T) {
	cases := []struct {
		name string
		in   SendMessageInput
	}{
		{"missing conversation", SendMessageInput{Type: domain.MessageTypeText, Content: "x"}},
		{"missing type", SendMessageInput{ConversationID: "5511"}},
		{"unknown type", SendMessageInput{ConversationID: "5511", Type: "sticker"}},
		{"empty text", SendMessageInput{ConversationID: "5511", Type: domain.MessageTypeText}},
		{"media without attachments", SendMessageInput{ConversationID: "5511", Type: domain.MessageTypeImage}},
		{"address without digits", SendMessageInput{ConversationID: "abc", Type: domain.MessageTypeText, Content: "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := createTestSender()

			_, err := f.sender.Send(context.Background(), tc.in)

			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			f.messages.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
			assert.Equal(t, 0, f.nudges)
		})
	}
}

func TestSend_ReplyMustBelongToConversation(t *testing.T) {
	f := createTestSender()
	f.messages.On("FindByID", mock.Anything, "ws-1", "other").Return(&domain.Message{
		ID:             "other",
		ConversationID: "5599999999999",
	}, nil)

	_, err := f.sender.Send(context.Background(), SendMessageInput{
		WorkspaceID:      "ws-1",
		ConversationID:   "5511999999999",
		Type:             domain.MessageTypeText,
		Content:          "hi",
		ReplyToMessageID: "other",
	})

	var reqErr *domain.InvalidRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Reason, "replyToMessageId")
}

func TestSend_ReplyUsesProviderID(t *testing.T) {
	f := createTestSender()
	f.messages.On("FindByID", mock.Anything, "ws-1", "evo-Q1").Return(&domain.Message{
		ID:             "evo-Q1",
		ConversationID: "5511999999999",
		Metadata:       &domain.MessageMetadata{ProviderMessageID: "Q1"},
	}, nil)
	f.messages.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, mock.MatchedBy(func(e *domain.OutboxEntry) bool {
		return e.Payload.ReplyMessageID == "Q1"
	})).Return(nil)
	f.convs.On("FindByID", mock.Anything, "ws-1", "5511999999999").Return(&domain.Conversation{ID: "5511999999999"}, nil)
	f.convs.On("Update", mock.Anything, "5511999999999", mock.Anything).Return(nil)

	msg, err := f.sender.Send(context.Background(), SendMessageInput{
		WorkspaceID:      "ws-1",
		ConversationID:   "5511999999999@s.whatsapp.net",
		Type:             domain.MessageTypeText,
		Content:          "re",
		ReplyToMessageID: "evo-Q1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SystemSenderID, msg.SenderID)
	f.outbox.AssertExpectations(t)
}

func TestSend_MediaFromStoragePath(t *testing.T) {
	f := createTestSender()
	f.media.On("SignedURL", mock.Anything, "uploads/a.jpg", time.Hour).Return("https://signed/a.jpg", nil)
	f.messages.On("Save", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return len(msg.Attachments) == 1 && msg.Attachments[0].MessageID == msg.ID
	})).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, mock.MatchedBy(func(e *domain.OutboxEntry) bool {
		return e.Payload.MediaURL == "https://signed/a.jpg" &&
			e.Payload.MediaPath == "uploads/a.jpg" &&
			e.Payload.Caption == "pic"
	})).Return(nil)
	f.convs.On("FindByID", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.convs.On("Save", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
		return c.LastMessage.Content == "pic"
	})).Return(nil)

	_, err := f.sender.Send(context.Background(), SendMessageInput{
		WorkspaceID:    "ws-1",
		ConversationID: "5511999999999",
		Type:           domain.MessageTypeImage,
		Content:        "pic",
		Attachments: []domain.Attachment{{
			ID:       "a1",
			Type:     domain.MessageTypeImage,
			Metadata: domain.AttachmentMetadata{StoragePath: "uploads/a.jpg"},
		}},
	})

	require.NoError(t, err)
	f.outbox.AssertExpectations(t)
	f.convs.AssertExpectations(t)
}

func TestSend_PersistFailureDoesNotNudge(t *testing.T) {
	f := createTestSender()
	f.messages.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := f.sender.Send(context.Background(), SendMessageInput{
		WorkspaceID:    "ws-1",
		ConversationID: "5511999999999",
		Type:           domain.MessageTypeText,
		Content:        "x",
	})

	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 0, f.nudges)
	f.convs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}
