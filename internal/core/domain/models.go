// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"time"
)

// ProviderEvolution is the only external channel the relay talks to
const ProviderEvolution = "evolution"

// SystemSenderID is the sender attributed to messages sent from our side
const SystemSenderID = "system"

// SystemParticipantName is the display name of the system participant
const SystemParticipantName = "Eu"

// MessageType enumerates the supported message kinds
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message kinds
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// IsMedia reports whether t carries an attachment
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageTypeText
}

// MessageStatus is the delivery lifecycle of a message
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// AttachmentMetadata holds provider and file details of an attachment
type AttachmentMetadata struct {
	Filename           string `json:"filename,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
	Size               int64  `json:"size,omitempty"`
	Duration           int64  `json:"duration,omitempty"` // seconds
	Width              int    `json:"width,omitempty"`
	Height             int    `json:"height,omitempty"`
	EvolutionSourceURL string `json:"evolutionSourceUrl,omitempty"`
	DirectPath         string `json:"directPath,omitempty"`
	StoragePath        string `json:"storagePath,omitempty"` // object key in media storage
}

// Attachment is a media item owned by a message
type Attachment struct {
	ID           string             `json:"id"`
	MessageID    string             `json:"messageId"`
	Type         MessageType        `json:"type"`
	URL          string             `json:"url"`
	ThumbnailURL string             `json:"thumbnailUrl,omitempty"`
	Metadata     AttachmentMetadata `json:"metadata"`
}

// MessageMetadata carries provider correlation data
type MessageMetadata struct {
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

// Message represents a single chat message in a conversation
// (WorkspaceID, provider, Metadata.ProviderMessageID) is unique when the id is set
type Message struct {
	ID               string           `json:"id"`
	WorkspaceID      string           `json:"workspaceId"`
	ConversationID   string           `json:"conversationId"`
	SenderID         string           `json:"senderId"`
	Type             MessageType      `json:"type"`
	Content          string           `json:"content"`
	ReplyToMessageID string           `json:"replyToMessageId,omitempty"`
	Status           MessageStatus    `json:"status"`
	Attachments      []Attachment     `json:"attachments,omitempty"`
	Metadata         *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        *time.Time       `json:"updatedAt,omitempty"`
}

// ExternalID returns the provider-assigned id, or "" when none is known yet
func (m *Message) ExternalID() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.ProviderMessageID
}

// MessagePatch is a partial update of a message. Nil fields are left untouched.
type MessagePatch struct {
	Status   *MessageStatus
	Metadata *MessageMetadata
}

// Participant is one side of a conversation
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// LastMessage is the conversation list summary
type LastMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation represents a one-to-one chat thread
// ID is the conversation key, never the raw provider address
type Conversation struct {
	ID               string        `json:"id"`
	WorkspaceID      string        `json:"workspaceId"`
	ContactID        string        `json:"contactId,omitempty"`
	WhatsAppNumberID string        `json:"whatsappNumberId,omitempty"`
	Channel          string        `json:"channel"`
	Participants     []Participant `json:"participants"`
	LastMessage      *LastMessage  `json:"lastMessage,omitempty"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// ChannelWhatsApp is the only channel produced by the relay
const ChannelWhatsApp = "whatsapp"

// ConversationPatch is a partial update of a conversation. WorkspaceID is required.
type ConversationPatch struct {
	WorkspaceID string
	LastMessage *LastMessage
	UpdatedAt   time.Time
}

// WebhookEventStatus is the processing lifecycle of an inbound event
type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventRejected  WebhookEventStatus = "rejected"
	WebhookEventDuplicate WebhookEventStatus = "duplicate"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// WebhookEvent is the audit record of one inbound delivery attempt
type WebhookEvent struct {
	ID             string             `json:"id"`
	Provider       string             `json:"provider"`
	WorkspaceID    string             `json:"workspaceId"`
	EventType      string             `json:"eventType"`
	Payload        json.RawMessage    `json:"payload"`
	PayloadHash    string             `json:"payloadHash"`
	IdempotencyKey string             `json:"idempotencyKey"`
	ReceivedAt     time.Time          `json:"receivedAt"`
	Status         WebhookEventStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
}

// PendingStatus buffers a status update whose message does not exist yet
type PendingStatus struct {
	WorkspaceID       string        `json:"workspaceId"`
	Provider          string        `json:"provider"`
	ExternalMessageID string        `json:"externalMessageId"`
	Status            MessageStatus `json:"status"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// OutboxStatus is the delivery lifecycle of an outbox entry
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusSent       OutboxStatus = "sent"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxPayload holds the send instructions written by the producer
type OutboxPayload struct {
	Type           MessageType `json:"type"`
	To             string      `json:"to"`
	Text           string      `json:"text,omitempty"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
	MediaPath      string      `json:"mediaPath,omitempty"`
	Caption        string      `json:"caption,omitempty"`
	ReplyMessageID string      `json:"replyMessageId,omitempty"`
}

// OutboxEntry is one queued outbound delivery
type OutboxEntry struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	MessageID   string        `json:"messageId"`
	Provider    string        `json:"provider"`
	Payload     OutboxPayload `json:"payload"`
	Status      OutboxStatus  `json:"status"`
	Attempts    int           `json:"attempts"`
	NextRetryAt time.Time     `json:"nextRetryAt"`
	LastError   string        `json:"lastError,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// WhatsAppNumber is a provider line (an Evolution instance) owned by a workspace
type WhatsAppNumber struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspaceId"`
	InstanceName string `json:"instanceName"`
	APIKey       string `json:"-"` // Never expose in JSON
}
