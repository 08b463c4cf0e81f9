// Package notify is the engine's seam to the notification system. Delivery
// (email/SMS) happens elsewhere; the engine only hands over events and never
// waits on the outcome.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher accepts a domain event for best-effort delivery. Implementations
// must not block the caller beyond the ctx deadline and must not return
// errors into the booking path.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, appointmentID uuid.UUID)
}

// LogDispatcher records events to the log. It stands in for the real
// dispatcher in development and in the worker binaries.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, eventType string, appointmentID uuid.UUID) {
	d.log.Info().
		Str("event", eventType).
		Str("appointment_id", appointmentID.String()).
		Msg("notification dispatched")
}

// Noop discards events. Useful in tests that don't assert on notifications.
type Noop struct{}

func (Noop) Dispatch(context.Context, string, uuid.UUID) {}
