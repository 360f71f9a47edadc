package domain

import "errors"

// Sentinel errors. Typed errors below unwrap to these so callers can use errors.Is.
var (
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrDuplicateMessage      = errors.New("duplicate message")
	ErrMessageNotFound       = errors.New("message not found")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrDuplicateWebhookEvent = errors.New("duplicate webhook event id")
	ErrAttachmentNotFound    = errors.New("attachment not found")
	ErrMediaUnavailable      = errors.New("media source not available")
)

// InvalidPayloadError marks a malformed or incomplete inbound event. Never retried.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string { return "invalid payload: " + e.Reason }
func (e *InvalidPayloadError) Unwrap() error { return ErrInvalidPayload }

// InvalidRequestError marks a malformed outbound send request
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Reason }
func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

// DuplicateMessageError is an idempotent no-op, not a failure
type DuplicateMessageError struct {
	ExternalID string
}

func (e *DuplicateMessageError) Error() string {
	if e.ExternalID == "" {
		return "duplicate message"
	}
	return "duplicate message: " + e.ExternalID
}
func (e *DuplicateMessageError) Unwrap() error { return ErrDuplicateMessage }

// MessageNotFoundError reports an absent message
type MessageNotFoundError struct {
	ID string
}

func (e *MessageNotFoundError) Error() string {
	if e.ID == "" {
		return "message not found"
	}
	return "message not found: " + e.ID
}
func (e *MessageNotFoundError) Unwrap() error { return ErrMessageNotFound }

// ConversationNotFoundError reports an absent conversation
type ConversationNotFoundError struct {
	ID string
}

func (e *ConversationNotFoundError) Error() string { return "conversation not found: " + e.ID }
func (e *ConversationNotFoundError) Unwrap() error { return ErrConversationNotFound }
