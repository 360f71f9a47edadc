package services

import (
	"context"
	"fmt"
	"strings"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// MediaProxy streams provider-hosted attachments for the chat API
type MediaProxy struct {
	messages      ports.MessageRepository
	conversations ports.ConversationRepository
	numbers       ports.WhatsAppNumberRepository
	fetcher       ports.MediaFetcher
	baseURL       string
}

// NewMediaProxy creates a new proxy. baseURL resolves relative directPath values.
func NewMediaProxy(
	messages ports.MessageRepository,
	conversations ports.ConversationRepository,
	numbers ports.WhatsAppNumberRepository,
	fetcher ports.MediaFetcher,
	baseURL string,
) *MediaProxy {
	return &MediaProxy{
		messages:      messages,
		conversations: conversations,
		numbers:       numbers,
		fetcher:       fetcher,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
	}
}

// Open fetches the attachment bytes. The stream content type prefers the
// stored mime type over the upstream one.
func (p *MediaProxy) Open(ctx context.Context, workspaceID, providerMessageID, attachmentID, rangeHeader string) (*ports.MediaStream, error) {
	msg, err := p.messages.FindByExternalID(ctx, workspaceID, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("find message by external id: %w", err)
	}
	if msg == nil {
		return nil, &domain.MessageNotFoundError{ID: providerMessageID}
	}

	var att *domain.Attachment
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == attachmentID {
			att = &msg.Attachments[i]
			break
		}
	}
	if att == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAttachmentNotFound, attachmentID)
	}

	source := att.Metadata.DirectPath
	if source == "" {
		source = att.Metadata.EvolutionSourceURL
	}
	if source == "" {
		return nil, domain.ErrMediaUnavailable
	}

	stream, err := p.fetcher.FetchMedia(ctx, p.resolve(source), p.apiKey(ctx, msg), rangeHeader)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	if att.Metadata.MimeType != "" {
		stream.ContentType = att.Metadata.MimeType
	}
	if stream.ContentType == "" {
		stream.ContentType = defaultMimeType
	}
	return stream, nil
}

// resolve joins a relative path to the provider base URL
func (p *MediaProxy) resolve(source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source
	}
	if !strings.HasPrefix(source, "/") {
		source = "/" + source
	}
	return p.baseURL + source
}

// apiKey returns the line credential of the message's conversation, or ""
// for the adapter default
func (p *MediaProxy) apiKey(ctx context.Context, msg *domain.Message) string {
	conv, err := p.conversations.FindByID(ctx, msg.WorkspaceID, msg.ConversationID)
	if err != nil || conv == nil || conv.WhatsAppNumberID == "" {
		return ""
	}
	number, err := p.numbers.FindByID(ctx, conv.WhatsAppNumberID)
	if err != nil || number == nil {
		return ""
	}
	return number.APIKey
}
