package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingRequest carries the slot-affecting fields of a create call.
type BookingRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Type            AppointmentType
	Price           *float64
	Notes           *string
}

// Validator applies every booking-legality rule before a slot-changing
// mutation. All checks are pure reads; the first violated rule is returned as
// a *ValidationError and nothing else runs.
type Validator struct {
	doctors      DoctorRepository
	patients     PatientRepository
	appointments AppointmentRepository
	logs         LogRepository

	maxFuturePerPatient int
}

func NewValidator(doctors DoctorRepository, patients PatientRepository, appointments AppointmentRepository, logs LogRepository, maxFuturePerPatient int) *Validator {
	return &Validator{
		doctors:             doctors,
		patients:            patients,
		appointments:        appointments,
		logs:                logs,
		maxFuturePerPatient: maxFuturePerPatient,
	}
}

// ValidateCreate runs the full rule chain for a new booking, including the
// per-patient future appointment cap.
func (v *Validator) ValidateCreate(ctx context.Context, req BookingRequest, now time.Time) error {
	if err := v.validateSlot(ctx, req.DoctorID, req.PatientID, req.ScheduledAt, req.DurationMinutes, uuid.Nil, now); err != nil {
		return err
	}

	count, err := v.appointments.CountFutureActiveByPatient(ctx, req.PatientID, now)
	if err != nil {
		return fmt.Errorf("count future appointments: %w", err)
	}
	if count >= v.maxFuturePerPatient {
		return errFutureLimit(v.maxFuturePerPatient)
	}
	return nil
}

// ValidateReschedule runs the rule chain for moving an existing appointment,
// swapping the cap check for the audit-log reschedule count. The appointment
// itself is excluded from the overlap test so it can keep part of its old
// interval.
func (v *Validator) ValidateReschedule(ctx context.Context, appt *Appointment, newAt time.Time, newDuration int, now time.Time) error {
	if err := v.validateSlot(ctx, appt.DoctorID, appt.PatientID, newAt, newDuration, appt.ID, now); err != nil {
		return err
	}

	count, err := v.logs.CountReschedules(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("count reschedules: %w", err)
	}
	if count >= MaxReschedules {
		return errRescheduleLimit()
	}
	return nil
}

// validateSlot is checks 1-5, shared by create and reschedule.
func (v *Validator) validateSlot(ctx context.Context, doctorID, patientID uuid.UUID, at time.Time, durationMinutes int, excludeID uuid.UUID, now time.Time) error {
	doctor, err := v.doctors.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return errDoctorUnavailable()
		}
		return fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsActive {
		return errDoctorUnavailable()
	}

	patient, err := v.patients.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("load patient: %w", err)
	}
	if patient.ProfileCompletedAt == nil {
		return errPatientProfileIncomplete()
	}
	if patient.IsBlocked {
		return errPatientBlocked()
	}

	if at.Before(now.Add(BookingLeadTime)) {
		return errLeadTime()
	}

	if durationMinutes < MinDurationMinutes || durationMinutes > MaxDurationMinutes {
		return errDuration()
	}

	existing, err := v.appointments.FindActiveByDoctorAndDate(ctx, doctorID, at)
	if err != nil {
		return fmt.Errorf("load active appointments: %w", err)
	}
	duration := time.Duration(durationMinutes) * time.Minute
	for i := range existing {
		if existing[i].ID == excludeID {
			continue
		}
		if existing[i].Overlaps(at, duration) {
			return errSlotConflict()
		}
	}

	return nil
}
