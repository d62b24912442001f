package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notification event keys.
const (
	EventAppointmentCreated     = "appointment_created"
	EventAppointmentConfirmed   = "appointment_confirmed"
	EventAppointmentCancelled   = "appointment_cancelled"
	EventAppointmentRescheduled = "appointment_rescheduled"
	EventAppointmentCompleted   = "appointment_completed"
	EventAppointmentNoShow      = "appointment_no_show"
	EventAppointmentReminder    = "appointment_reminder"
)

// Notifier is the boundary to the delivery system (email/SMS/push lives
// elsewhere). Dispatch outcomes never affect the outcome of the operation
// that triggered them.
type Notifier interface {
	Dispatch(ctx context.Context, userID uuid.UUID, eventKey string, vars map[string]string, meta map[string]any) error
}

// LogNotifier writes dispatches to the log. Stands in for a real delivery
// channel in development and tests.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Dispatch(_ context.Context, userID uuid.UUID, eventKey string, vars map[string]string, meta map[string]any) error {
	n.log.Info().
		Str("user_id", userID.String()).
		Str("event", eventKey).
		Fields(map[string]any{"vars": vars, "meta": meta}).
		Msg("notification dispatched")
	return nil
}
