package scheduling

import (
	"errors"
	"fmt"
)

// Business rule constants. These are fixed clinic policy, not deployment
// configuration; the per-patient cap and the no-show block threshold are the
// only tunable knobs and live in config.
const (
	SlotScanStepMinutes = 30
	MinDurationMinutes  = 15
	MaxDurationMinutes  = 240
	MaxReschedules      = 2
)

var (
	ErrInvalidTransition = errors.New("appointment status does not permit this transition")
	ErrRoleNotAllowed    = errors.New("actor role does not permit this operation")
	ErrBookingInProgress = errors.New("another booking for this doctor is in progress, please retry")
)

// ValidationError is a field-tagged business rule violation. It is always
// recoverable by the caller adjusting input and is never retried internally.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func errDoctorUnavailable() *ValidationError {
	return validationErr("doctor_id", "doctor not found or not active")
}

func errPatientProfileIncomplete() *ValidationError {
	return validationErr("patient", "patient profile is incomplete")
}

func errPatientBlocked() *ValidationError {
	return validationErr("patient", "patient is blocked from scheduling")
}

func errLeadTime() *ValidationError {
	return validationErr("scheduled_at", "appointments must be booked at least 24 hours in advance")
}

func errDuration() *ValidationError {
	return validationErr("duration_minutes",
		fmt.Sprintf("duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes))
}

func errSlotConflict() *ValidationError {
	return validationErr("scheduled_at", "time slot conflicts with an existing appointment")
}

func errFutureLimit(max int) *ValidationError {
	return validationErr("patient", fmt.Sprintf("future appointment limit of %d reached", max))
}

func errRescheduleLimit() *ValidationError {
	return validationErr("scheduled_at",
		fmt.Sprintf("appointment has already been rescheduled %d times", MaxReschedules))
}

func errCancelWindow() *ValidationError {
	return validationErr("scheduled_at", "appointments can only be cancelled at least 12 hours in advance")
}

func errNotYetPast() *ValidationError {
	return validationErr("scheduled_at", "appointment time has not passed yet")
}
