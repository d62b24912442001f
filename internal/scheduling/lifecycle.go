package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionConfirm    Action = "confirm"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"
	ActionMarkNoShow Action = "mark_no_show"
	ActionView       Action = "view"
)

// transitions is the closed set of legal status moves. Anything not listed
// here is illegal, including every move out of a terminal state.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RoleAllowed is the single place deciding which actor may perform which
// operation on which appointment. Admins may do anything; doctors act only on
// their own appointments; patients act only on their own, and never perform
// staff transitions (confirm, complete, mark no-show).
func RoleAllowed(actor Actor, action Action, appt *Appointment) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleDoctor:
		if action == ActionCreate {
			return true
		}
		return appt != nil && actor.ID == appt.DoctorID
	case RolePatient:
		switch action {
		case ActionConfirm, ActionComplete, ActionMarkNoShow:
			return false
		case ActionCreate:
			return true
		default:
			return appt != nil && actor.ID == appt.PatientID
		}
	}
	return false
}

// Lifecycle owns status transitions and the audit trail. Every mutation goes
// through it so the log stays a complete history.
type Lifecycle struct {
	appointments AppointmentRepository
	logs         LogRepository
}

func NewLifecycle(appointments AppointmentRepository, logs LogRepository) *Lifecycle {
	return &Lifecycle{appointments: appointments, logs: logs}
}

// Transition moves the appointment to the target status with a
// compare-and-swap and appends the audit entry. A concurrent status change
// between load and update surfaces as ErrInvalidTransition, same as an
// illegal request.
func (l *Lifecycle) Transition(ctx context.Context, appt *Appointment, to AppointmentStatus, actor Actor, reason string, now time.Time) (*Appointment, error) {
	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidTransition
	}

	old := appt.Status
	updated, err := l.appointments.UpdateAppointmentStatus(ctx, appt.ID, old, to, now)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	if err := l.logs.AppendLog(ctx, AppointmentLog{
		AppointmentID: updated.ID,
		OldStatus:     &old,
		NewStatus:     to,
		ActorID:       actor.ID,
		Reason:        reason,
		ChangedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("append transition log: %w", err)
	}

	return updated, nil
}

// RecordCreation appends the initial (nil -> pending) audit entry.
func (l *Lifecycle) RecordCreation(ctx context.Context, appt *Appointment, actor Actor, now time.Time) error {
	if err := l.logs.AppendLog(ctx, AppointmentLog{
		AppointmentID: appt.ID,
		OldStatus:     nil,
		NewStatus:     appt.Status,
		ActorID:       actor.ID,
		ChangedAt:     now,
	}); err != nil {
		return fmt.Errorf("append creation log: %w", err)
	}
	return nil
}

// RecordReschedule appends the rescheduled-tagged entry that the reschedule
// cap is counted from. Status is unchanged by a reschedule, so old and new
// status are the same.
func (l *Lifecycle) RecordReschedule(ctx context.Context, appt *Appointment, actor Actor, oldAt time.Time, oldDuration int, now time.Time) error {
	meta, err := json.Marshal(map[string]any{
		"action":               "rescheduled",
		"old_date":             oldAt.Format(time.RFC3339),
		"old_duration_minutes": oldDuration,
	})
	if err != nil {
		return fmt.Errorf("marshal reschedule metadata: %w", err)
	}

	status := appt.Status
	if err := l.logs.AppendLog(ctx, AppointmentLog{
		AppointmentID: appt.ID,
		OldStatus:     &status,
		NewStatus:     status,
		ActorID:       actor.ID,
		Metadata:      meta,
		ChangedAt:     now,
	}); err != nil {
		return fmt.Errorf("append reschedule log: %w", err)
	}
	return nil
}
