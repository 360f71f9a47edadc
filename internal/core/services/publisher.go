package services

import (
	"context"
	"errors"
	"log/slog"

	"evolution-relay/internal/core/ports"
)

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// publish is fire and forget: a broker outage never fails the caller
func publish(ctx context.Context, publisher ports.EventPublisher, eventType string, data any) {
	if err := publisher.Publish(ctx, eventType, data); err != nil {
		slog.Warn("Failed to publish domain event",
			"error", err,
			"event_type", eventType,
		)
	}
}

// MultiPublisher fans one event out to several publishers.
// Every publisher is tried; the errors are joined.
type MultiPublisher []ports.EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, eventType string, data any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, eventType, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
