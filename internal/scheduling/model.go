package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Active reports whether the appointment still occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transition is possible.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type AppointmentType string

const (
	TypePresential AppointmentType = "presential"
	TypeOnline     AppointmentType = "online"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor identifies who is performing an operation. The API layer builds it
// from the bearer token; the core never looks at credentials.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	CreatedBy       uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Type            AppointmentType
	Price           *float64
	Notes           *string
	ConfirmedAt     *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	RemindedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// End returns the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether [start, start+duration) intersects this
// appointment's interval. Both intervals are half-open, so back-to-back
// appointments do not overlap.
func (a *Appointment) Overlaps(start time.Time, duration time.Duration) bool {
	end := start.Add(duration)
	return start.Before(a.End()) && end.After(a.ScheduledAt)
}

// AppointmentLog is one row of the append-only audit trail. Written on every
// status transition and on every reschedule; never updated or deleted.
type AppointmentLog struct {
	ID            int64
	AppointmentID uuid.UUID
	OldStatus     *AppointmentStatus
	NewStatus     AppointmentStatus
	ActorID       uuid.UUID
	Reason        string
	Metadata      []byte
	ChangedAt     time.Time
}

// Schedule is one recurring weekly availability window of a doctor.
// StartTime and EndTime are clinic-local clock strings in "15:04" form.
type Schedule struct {
	ID                  uuid.UUID
	DoctorID            uuid.UUID
	DayOfWeek           int // 1=Monday .. 7=Sunday
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	IsBlocked           bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ScheduleBlock is a one-off exception to the weekly template. A nil
// StartTime/EndTime pair blocks the whole day.
type ScheduleBlock struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	BlockedDate time.Time
	StartTime   *string
	EndTime     *string
	Reason      string
	CreatedAt   time.Time
}

type Patient struct {
	ID                 uuid.UUID
	Name               string
	Email              *string
	ProfileCompletedAt *time.Time
	ConsecutiveNoShows int
	IsBlocked          bool
	BlockedReason      *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ISOWeekday maps time.Weekday to the 1=Monday..7=Sunday convention used by
// the schedules table.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
