package services

import (
	"context"
	"fmt"
	"time"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// touchConversation patches lastMessage/updatedAt of an existing conversation,
// or saves seed as a new one. There is exactly one conversation per key.
func touchConversation(
	ctx context.Context,
	conversations ports.ConversationRepository,
	seed domain.Conversation,
	last domain.LastMessage,
	now time.Time,
) (created bool, err error) {
	existing, err := conversations.FindByID(ctx, seed.WorkspaceID, seed.ID)
	if err != nil {
		return false, fmt.Errorf("find conversation: %w", err)
	}

	if existing != nil {
		patch := domain.ConversationPatch{
			WorkspaceID: seed.WorkspaceID,
			LastMessage: &last,
			UpdatedAt:   now,
		}
		if err := conversations.Update(ctx, seed.ID, patch); err != nil {
			return false, fmt.Errorf("update conversation: %w", err)
		}
		return false, nil
	}

	seed.LastMessage = &last
	seed.UpdatedAt = now
	if seed.Channel == "" {
		seed.Channel = domain.ChannelWhatsApp
	}
	if err := conversations.Save(ctx, &seed); err != nil {
		return false, fmt.Errorf("save conversation: %w", err)
	}
	return true, nil
}

// lastMessageOf builds the conversation summary of msg. Media without a
// caption is summarized as "[type]".
func lastMessageOf(msg *domain.Message) domain.LastMessage {
	content := msg.Content
	if content == "" && len(msg.Attachments) > 0 {
		content = "[" + string(msg.Type) + "]"
	}
	return domain.LastMessage{
		ID:        msg.ID,
		Content:   content,
		SenderID:  msg.SenderID,
		CreatedAt: msg.CreatedAt,
	}
}
