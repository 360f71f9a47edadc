package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// Reconciler resolves status updates that race against message creation.
// A status for an unknown message is buffered as a PendingStatus and applied
// when the message is saved, so both arrival orders converge.
type Reconciler struct {
	messages ports.MessageRepository
	statuses ports.MessageStatusRepository
	now      func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(messages ports.MessageRepository, statuses ports.MessageStatusRepository) *Reconciler {
	return &Reconciler{
		messages: messages,
		statuses: statuses,
		now:      time.Now,
	}
}

// Apply sets the status of the message with the given external id, or buffers
// it when that message does not exist yet.
func (r *Reconciler) Apply(ctx context.Context, workspaceID, externalID string, status domain.MessageStatus) error {
	msg, err := r.messages.FindByExternalID(ctx, workspaceID, externalID)
	if err != nil {
		return fmt.Errorf("find message by external id: %w", err)
	}

	if msg != nil {
		if err := r.messages.UpdateStatus(ctx, workspaceID, msg.ID, status); err != nil {
			return fmt.Errorf("update message status: %w", err)
		}
		slog.Debug("Message status updated",
			"message_id", msg.ID,
			"external_id", externalID,
			"status", status,
		)
		return nil
	}

	pending := domain.PendingStatus{
		WorkspaceID:       workspaceID,
		Provider:          domain.ProviderEvolution,
		ExternalMessageID: externalID,
		Status:            status,
		UpdatedAt:         r.now(),
	}
	if err := r.statuses.UpsertPending(ctx, pending); err != nil {
		return fmt.Errorf("buffer pending status: %w", err)
	}

	// The message may have committed after the first lookup; its own
	// ResolvePending then ran before the buffer existed
	msg, err = r.messages.FindByExternalID(ctx, workspaceID, externalID)
	if err != nil {
		return fmt.Errorf("recheck message by external id: %w", err)
	}
	if msg != nil {
		return r.Settle(ctx, msg)
	}

	slog.Info("Status buffered for unknown message",
		"workspace_id", workspaceID,
		"external_id", externalID,
		"status", status,
	)
	return nil
}

// Settle applies any status buffered for msg outside a transaction.
// Creators call it after commit so a status parked while their
// transaction was open is not stranded.
func (r *Reconciler) Settle(ctx context.Context, msg *domain.Message) error {
	return r.ResolvePending(ctx, ports.TxRepositories{
		Messages: r.messages,
		Statuses: r.statuses,
	}, msg)
}

// ResolvePending applies and clears any buffered status for a freshly saved
// message. It must run in the same transaction as the save.
func (r *Reconciler) ResolvePending(ctx context.Context, repos ports.TxRepositories, msg *domain.Message) error {
	externalID := msg.ExternalID()
	if externalID == "" {
		return nil
	}

	pending, err := repos.Statuses.GetPending(ctx, msg.WorkspaceID, domain.ProviderEvolution, externalID)
	if err != nil {
		return fmt.Errorf("get pending status: %w", err)
	}
	if pending == nil {
		return nil
	}

	if err := repos.Messages.UpdateStatus(ctx, msg.WorkspaceID, msg.ID, pending.Status); err != nil {
		return fmt.Errorf("apply pending status: %w", err)
	}
	msg.Status = pending.Status

	if err := repos.Statuses.DeletePending(ctx, msg.WorkspaceID, domain.ProviderEvolution, externalID); err != nil {
		return fmt.Errorf("delete pending status: %w", err)
	}

	slog.Info("Pending status applied",
		"message_id", msg.ID,
		"external_id", externalID,
		"status", pending.Status,
	)
	return nil
}
