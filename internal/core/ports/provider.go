package ports

import (
	"context"
	"io"
	"time"

	"evolution-relay/internal/core/domain"
)

// SendOptions carries per-send overrides for the provider adapter
type SendOptions struct {
	ReplyMessageID string
	Instance       string // provider line; adapter default when empty
	APIKey         string // line credential; adapter default when empty
}

// SendResult is what the provider returns for an accepted message
type SendResult struct {
	ProviderMessageID string
}

// MessageProvider sends messages to the external channel.
// Any returned error is treated as retryable by the outbox
type MessageProvider interface {
	SendText(ctx context.Context, to, text string, opts SendOptions) (SendResult, error)
	SendMedia(ctx context.Context, to, mediaURL string, kind domain.MessageType, caption string, opts SendOptions) (SendResult, error)
}

// MediaStream is an upstream media response passed through to the caller
type MediaStream struct {
	StatusCode    int
	Body          io.ReadCloser
	ContentType   string
	ContentRange  string
	ContentLength string
	AcceptRanges  string
}

// MediaFetcher downloads provider-hosted media.
// A non-2xx upstream answer (other than 206) is an error.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url, apiKey, rangeHeader string) (*MediaStream, error)
}

// MediaStorage issues short-lived URLs for uploaded media
type MediaStorage interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Domain event names published through EventPublisher
const (
	EventMessageReceived = "message.received"
	EventMessageStatus   = "message.status"
	EventOutboxSent      = "outbox.sent"
	EventOutboxFailed    = "outbox.failed"
	EventOutboxEnqueued  = "outbox.enqueued"
)

// EventPublisher fans domain events out to other systems. Best effort.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}
