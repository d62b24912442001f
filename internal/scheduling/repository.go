package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned when an insert or reschedule loses the race
	// for a slot to a concurrent booking.
	ErrSlotTaken = errors.New("slot already taken by another appointment")

	// ErrStatusChanged is returned when a compare-and-swap status update
	// finds the appointment no longer in the expected state.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

type DoctorRepository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

type PatientRepository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// UpdatePatientTrust persists the no-show counter and block state
	// maintained by the trust policy.
	UpdatePatientTrust(ctx context.Context, id uuid.UUID, consecutiveNoShows int, isBlocked bool, blockedReason *string) error
}

// ScheduleRepository reads a doctor's weekly template and ad hoc blocks.
// Window management itself is owned by a separate doctor-facing feature;
// the scheduling core only reads.
type ScheduleRepository interface {
	ListActiveWindows(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Schedule, error)

	// IsDayBlocked reports whether a full-day schedule block exists for the
	// given date. Partial-day blocks do not count.
	IsDayBlocked(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error)
}

type AppointmentRepository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindActiveByDoctorAndDate returns pending and confirmed appointments
	// whose scheduled_at falls on the given clinic-local date.
	FindActiveByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// ActiveCountsByDoctorBetween returns per-day active appointment counts
	// for scheduled_at in [from, to), keyed by "2006-01-02".
	ActiveCountsByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (map[string]int, error)

	CountFutureActiveByPatient(ctx context.Context, patientID uuid.UUID, now time.Time) (int, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// InsertAppointment stores a new pending appointment. Returns
	// ErrSlotTaken if the doctor's slot is already held by an active
	// appointment.
	InsertAppointment(ctx context.Context, a *Appointment) error

	// UpdateAppointmentStatus performs a compare-and-swap transition and
	// stamps the lifecycle timestamp matching the target status. Returns
	// ErrStatusChanged if the row is no longer in the `from` state.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error)

	// RescheduleAppointment moves an appointment to a new slot in place,
	// leaving status untouched. Returns ErrSlotTaken on slot conflict.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, scheduledAt time.Time, durationMinutes int) (*Appointment, error)

	// FindDueReminders returns confirmed, not-yet-reminded appointments
	// starting within [from, to).
	FindDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error)

	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}

// LogRepository is the append-only audit trail. Entries are the source of
// truth for counting reschedules.
type LogRepository interface {
	AppendLog(ctx context.Context, entry AppointmentLog) error
	CountReschedules(ctx context.Context, appointmentID uuid.UUID) (int, error)
	ListLogs(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error)
}

// Repository bundles every store the service needs. The Postgres
// implementation satisfies it with a single pool.
type Repository interface {
	DoctorRepository
	PatientRepository
	ScheduleRepository
	AppointmentRepository
	LogRepository
}
