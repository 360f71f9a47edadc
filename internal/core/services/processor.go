// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evolution-relay/internal/adapters/dto"
	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// Webhook rejection reasons recorded on the event
const (
	ReasonInvalidJSON         = "invalid_json"
	ReasonMissingInstance     = "missing_instance"
	ReasonUnknownInstance     = "unknown_instance"
	ReasonMissingEventType    = "missing_event_type"
	ReasonTimestampOutOfRange = "timestamp_out_of_range"
	ReasonMissingExternalID   = "missing_external_message_id"
)

// IngestOutcome tells the transport how to answer the provider
type IngestOutcome int

const (
	// OutcomeOK: processed, duplicate, or nothing to do
	OutcomeOK IngestOutcome = iota
	// OutcomeAccepted: stored as failed; the provider must not redeliver
	OutcomeAccepted
	// OutcomeInvalid: client error, not retried
	OutcomeInvalid
	// OutcomeForbidden: instance not registered
	OutcomeForbidden
)

// IngestResult is the result of one webhook delivery
type IngestResult struct {
	Outcome   IngestOutcome
	EventID   string
	Status    domain.WebhookEventStatus
	Reason    string
	Duplicate bool
}

// ProcessorDeps groups the processor collaborators
type ProcessorDeps struct {
	Events     *EventStore
	Reconciler *Reconciler
	Numbers    ports.WhatsAppNumberRepository
	Messages   ports.MessageRepository
	UnitOfWork ports.UnitOfWork
	Publisher  ports.EventPublisher
}

// Processor interprets provider webhook events and applies them to the domain
type Processor struct {
	events     *EventStore
	reconciler *Reconciler
	numbers    ports.WhatsAppNumberRepository
	messages   ports.MessageRepository
	uow        ports.UnitOfWork
	publisher  ports.EventPublisher
	maxAge     time.Duration
	now        func() time.Time
}

// NewProcessor creates a new processor. maxAge <= 0 disables the timestamp window.
func NewProcessor(deps ProcessorDeps, maxAge time.Duration) *Processor {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Processor{
		events:     deps.Events,
		reconciler: deps.Reconciler,
		numbers:    deps.Numbers,
		messages:   deps.Messages,
		uow:        deps.UnitOfWork,
		publisher:  publisher,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Ingest runs one webhook delivery end to end:
// decode → resolve instance → record → validate → process → terminal status.
// The returned error is reserved for infrastructure failures.
func (p *Processor) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	// ========================================================================
	// Step 1: Decode once into the typed event
	// ========================================================================
	ev, err := dto.DecodeEvolutionEvent(raw)
	if err != nil {
		slog.Warn("Failed to decode webhook payload", "error", err)
		return IngestResult{Outcome: OutcomeInvalid, Reason: ReasonInvalidJSON}, nil
	}

	// ========================================================================
	// Step 2: Resolve the provider line to its workspace
	// ========================================================================
	if ev.Instance == "" {
		return IngestResult{Outcome: OutcomeInvalid, Reason: ReasonMissingInstance}, nil
	}
	number, err := p.numbers.FindByInstance(ctx, ev.Instance)
	if err != nil {
		return IngestResult{}, fmt.Errorf("find instance: %w", err)
	}
	if number == nil {
		slog.Warn("Webhook for unknown instance", "instance", ev.Instance)
		return IngestResult{Outcome: OutcomeForbidden, Reason: ReasonUnknownInstance}, nil
	}

	// ========================================================================
	// Step 3: Record before validating, so rejected events stay auditable
	// ========================================================================
	payloadHash := HashPayload(raw)
	dedupID := ev.ExternalMessageID
	if ev.Kind == dto.KindStatusUpdate && dedupID != "" && ev.Status.Status.Present {
		// delivered and read receipts of one message are distinct events
		dedupID += ":" + ev.Status.Status.String()
	}
	event := &domain.WebhookEvent{
		ID:             EventIDFromHash(domain.ProviderEvolution, payloadHash),
		Provider:       domain.ProviderEvolution,
		WorkspaceID:    number.WorkspaceID,
		EventType:      ev.Event,
		Payload:        json.RawMessage(raw),
		PayloadHash:    payloadHash,
		IdempotencyKey: BuildIdempotencyKey(number.WorkspaceID, ev.Event, dedupID, payloadHash),
		ReceivedAt:     p.now(),
	}
	stored, isDuplicate, err := p.events.Record(ctx, event)
	if err != nil {
		return IngestResult{}, err
	}

	// ========================================================================
	// Step 4: Validate
	// ========================================================================
	if reason := p.validate(ev); reason != "" {
		p.finish(ctx, stored.ID, domain.WebhookEventRejected, reason)
		return IngestResult{
			Outcome: OutcomeInvalid,
			EventID: stored.ID,
			Status:  domain.WebhookEventRejected,
			Reason:  reason,
		}, nil
	}

	if isDuplicate {
		return IngestResult{
			Outcome:   OutcomeOK,
			EventID:   stored.ID,
			Status:    domain.WebhookEventDuplicate,
			Duplicate: true,
		}, nil
	}

	// ========================================================================
	// Step 5: Apply to the domain and map the error to a terminal status
	// ========================================================================
	err = p.processSafely(ctx, number, ev)
	result := classify(err)
	result.EventID = stored.ID
	p.finish(ctx, stored.ID, result.Status, result.Reason)

	slog.Info("Webhook processed",
		"event_id", stored.ID,
		"event_type", ev.Event,
		"workspace_id", number.WorkspaceID,
		"status", result.Status,
		"reason", result.Reason,
	)
	return result, nil
}

// validate returns the rejection reason, or "" for a valid event
func (p *Processor) validate(ev *dto.EvolutionEvent) string {
	if ev.Event == "" {
		return ReasonMissingEventType
	}
	if ev.HasTime && p.maxAge > 0 {
		age := p.now().Unix() - ev.Timestamp
		if age < 0 {
			age = -age
		}
		if age > int64(p.maxAge/time.Second) {
			return ReasonTimestampOutOfRange
		}
	}
	if dto.IsMessageEvent(ev.Event) && ev.ExternalMessageID == "" {
		return ReasonMissingExternalID
	}
	return ""
}

// processSafely turns a panic into a failed event instead of a crashed request
func (p *Processor) processSafely(ctx context.Context, number *domain.WhatsAppNumber, ev *dto.EvolutionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in webhook processing",
				"panic", r,
				"event_type", ev.Event,
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.ProcessEvent(ctx, number.WorkspaceID, number.ID, ev)
}

func classify(err error) IngestResult {
	switch {
	case err == nil:
		return IngestResult{Outcome: OutcomeOK, Status: domain.WebhookEventProcessed}
	case errors.Is(err, domain.ErrDuplicateMessage):
		return IngestResult{Outcome: OutcomeOK, Status: domain.WebhookEventDuplicate, Reason: err.Error(), Duplicate: true}
	case errors.Is(err, domain.ErrInvalidPayload):
		return IngestResult{Outcome: OutcomeInvalid, Status: domain.WebhookEventRejected, Reason: err.Error()}
	case errors.Is(err, domain.ErrMessageNotFound):
		return IngestResult{Outcome: OutcomeOK, Status: domain.WebhookEventProcessed, Reason: err.Error()}
	default:
		return IngestResult{Outcome: OutcomeAccepted, Status: domain.WebhookEventFailed, Reason: err.Error()}
	}
}

func (p *Processor) finish(ctx context.Context, eventID string, status domain.WebhookEventStatus, reason string) {
	if err := p.events.UpdateStatus(ctx, eventID, status, reason); err != nil {
		slog.Error("Failed to update webhook event status",
			"error", err,
			"event_id", eventID,
			"status", status,
		)
	}
}

// ProcessEvent applies a decoded event to the domain. Unrecognized event types are ignored.
func (p *Processor) ProcessEvent(ctx context.Context, workspaceID, whatsappNumberID string, ev *dto.EvolutionEvent) error {
	switch ev.Kind {
	case dto.KindMessageUpsert:
		return p.processNewMessage(ctx, workspaceID, whatsappNumberID, ev)
	case dto.KindStatusUpdate:
		return p.processStatusUpdate(ctx, workspaceID, ev.Status)
	default:
		slog.Debug("Ignoring webhook event", "event_type", ev.Event)
		return nil
	}
}

func (p *Processor) processNewMessage(ctx context.Context, workspaceID, whatsappNumberID string, ev *dto.EvolutionEvent) error {
	up := ev.Upsert
	if up == nil || !up.HasKey {
		return &domain.InvalidPayloadError{Reason: "message without key"}
	}
	if up.ProviderMessageID == "" || up.RemoteJID == "" {
		return &domain.InvalidPayloadError{Reason: "message without id or remoteJid"}
	}

	conversationKey, contactNumber, err := ResolveConversation(up.RemoteJID)
	if err != nil {
		return &domain.InvalidPayloadError{Reason: "invalid remoteJid " + up.RemoteJID}
	}

	existing, err := p.messages.FindByExternalID(ctx, workspaceID, up.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("find message by external id: %w", err)
	}
	if existing != nil {
		return &domain.DuplicateMessageError{ExternalID: up.ProviderMessageID}
	}

	// ========================================================================
	// Build the message
	// ========================================================================
	messageID := "evo-" + up.ProviderMessageID
	msgType := domain.MessageTypeText
	content := up.Text
	var attachments []domain.Attachment
	if up.Media != nil {
		msgType = up.Media.Kind
		content = up.Media.Caption
		attachments = []domain.Attachment{buildAttachment(up.ProviderMessageID, messageID, up.Media)}
	}

	if content == "" && len(attachments) == 0 {
		slog.Debug("Dropping message without content",
			"external_id", up.ProviderMessageID,
		)
		return nil
	}

	senderID := contactNumber
	status := domain.MessageStatusDelivered
	if up.FromMe {
		senderID = domain.SystemSenderID
		status = domain.MessageStatusSent
	}

	createdAt := p.now()
	if up.Timestamp > 0 {
		createdAt = time.Unix(up.Timestamp, 0)
	}

	msg := &domain.Message{
		ID:             messageID,
		WorkspaceID:    workspaceID,
		ConversationID: conversationKey,
		SenderID:       senderID,
		Type:           msgType,
		Content:        content,
		Status:         status,
		Attachments:    attachments,
		Metadata:       &domain.MessageMetadata{ProviderMessageID: up.ProviderMessageID},
		CreatedAt:      createdAt,
	}

	lineID := whatsappNumberID
	if lineID == "" {
		lineID = ev.Instance
	}
	seed := domain.Conversation{
		ID:               conversationKey,
		WorkspaceID:      workspaceID,
		ContactID:        conversationKey,
		WhatsAppNumberID: lineID,
		Channel:          domain.ChannelWhatsApp,
		Participants:     participantsFor(contactNumber, up.FromMe),
	}

	// ========================================================================
	// Save message, pending status and conversation as one unit
	// ========================================================================
	var created bool
	err = p.uow.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		if err := repos.Messages.Save(ctx, msg); err != nil {
			return err
		}
		if err := p.reconciler.ResolvePending(ctx, repos, msg); err != nil {
			return err
		}
		var err error
		created, err = touchConversation(ctx, repos.Conversations, seed, lastMessageOf(msg), p.now())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return err
		}
		return fmt.Errorf("persist inbound message: %w", err)
	}
	if err := p.reconciler.Settle(ctx, msg); err != nil {
		slog.Error("Failed to settle pending status after commit",
			"error", err,
			"message_id", msg.ID,
		)
	}

	slog.Info("Inbound message stored",
		"message_id", msg.ID,
		"conversation_id", conversationKey,
		"type", msg.Type,
		"status", msg.Status,
		"conversation_created", created,
	)
	publish(ctx, p.publisher, ports.EventMessageReceived, msg)
	return nil
}

// participantsFor orders the contact and the system user by who sent the first message
func participantsFor(contactNumber string, fromMe bool) []domain.Participant {
	contact := domain.Participant{ID: contactNumber, Name: contactNumber}
	system := domain.Participant{ID: domain.SystemSenderID, Name: domain.SystemParticipantName}
	if fromMe {
		return []domain.Participant{system, contact}
	}
	return []domain.Participant{contact, system}
}

func (p *Processor) processStatusUpdate(ctx context.Context, workspaceID string, st *dto.StatusUpdate) error {
	if st == nil || st.ProviderMessageID == "" || !st.Status.Present {
		return &domain.InvalidPayloadError{Reason: "status without keyId or status"}
	}

	status := MapProviderStatus(st.Status)
	if err := p.reconciler.Apply(ctx, workspaceID, st.ProviderMessageID, status); err != nil {
		return err
	}

	publish(ctx, p.publisher, ports.EventMessageStatus, map[string]any{
		"workspaceId":       workspaceID,
		"externalMessageId": st.ProviderMessageID,
		"status":            status,
		"providerStatus":    st.Status.String(),
	})
	return nil
}
