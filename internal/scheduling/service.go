package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/appointment-scheduling/internal/config"
	redisclient "github.com/clinicore/appointment-scheduling/internal/redis"
)

// SchedulingStatus is the per-patient read used by clients to gate the
// booking UI. It is advisory only; create re-validates regardless.
type SchedulingStatus struct {
	CurrentFutureAppointments int     `json:"current_future_appointments"`
	MaxAllowed                int     `json:"max_allowed"`
	RemainingSlots            int     `json:"remaining_slots"`
	CanSchedule               bool    `json:"can_schedule"`
	IsBlocked                 bool    `json:"is_blocked"`
	BlockedReason             *string `json:"blocked_reason,omitempty"`
	ConsecutiveNoShows        int     `json:"consecutive_no_shows"`
}

// Service orchestrates availability, validation, the lifecycle state machine
// and the trust policy behind the public scheduling operations.
type Service struct {
	repo      Repository
	calc      *Calculator
	validator *Validator
	lifecycle *Lifecycle
	policy    *TrustPolicy
	locker    redisclient.Locker
	notifier  Notifier
	clock     Clock
	cfg       config.Config
	log       zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, clock Clock, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		calc:      NewCalculator(repo, repo),
		validator: NewValidator(repo, repo, repo, repo, cfg.MaxFutureAppointments),
		lifecycle: NewLifecycle(repo, repo),
		policy:    NewTrustPolicy(repo, cfg.NoShowBlockThreshold),
		locker:    locker,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}
}

// GetAvailableSlots answers "when can this doctor be booked on this date".
// The result is a best-effort snapshot; create re-validates under the doctor
// lock, so a stale snapshot can never cause a double booking.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) (*DayAvailability, error) {
	if durationMinutes == 0 {
		durationMinutes = SlotScanStepMinutes
	}
	if durationMinutes < MinDurationMinutes || durationMinutes > MaxDurationMinutes {
		return nil, errDuration()
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsActive {
		return nil, errDoctorUnavailable()
	}

	return s.calc.SlotsForDay(ctx, doctorID, date, durationMinutes, s.clock.Now())
}

// GetAvailableDates returns the days of a month that still have capacity.
func (s *Service) GetAvailableDates(ctx context.Context, doctorID uuid.UUID, year int, month time.Month) ([]string, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsActive {
		return nil, errDoctorUnavailable()
	}

	return s.calc.DatesForMonth(ctx, doctorID, year, month, s.cfg.ClinicTimeZone, s.clock.Now())
}

// Create books a new pending appointment. Validation and insert run as one
// critical section under the per-doctor lock, with the clock sampled once at
// its start so slow requests cannot drift past the lead-time check.
func (s *Service) Create(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if !RoleAllowed(actor, ActionCreate, nil) {
		return nil, ErrRoleNotAllowed
	}
	if actor.Role == RolePatient && actor.ID != req.PatientID {
		return nil, ErrRoleNotAllowed
	}
	if actor.Role == RoleDoctor && actor.ID != req.DoctorID {
		return nil, ErrRoleNotAllowed
	}
	if req.Type == "" {
		req.Type = TypePresential
	}

	var created *Appointment

	err := s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		now := s.clock.Now()

		if err := s.validator.ValidateCreate(lockCtx, req, now); err != nil {
			return err
		}

		appt := &Appointment{
			ID:              uuid.New(),
			PatientID:       req.PatientID,
			DoctorID:        req.DoctorID,
			CreatedBy:       actor.ID,
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			Status:          StatusPending,
			Type:            req.Type,
			Price:           req.Price,
			Notes:           req.Notes,
		}

		if err := s.repo.InsertAppointment(lockCtx, appt); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				// A concurrent booking won the race; same failure the
				// validator would have produced a moment later.
				return errSlotConflict()
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		if err := s.lifecycle.RecordCreation(lockCtx, appt, actor, now); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}

	s.notify(created.PatientID, EventAppointmentCreated, map[string]string{
		"appointment_id": created.ID.String(),
		"scheduled_at":   created.ScheduledAt.Format(time.RFC3339),
	}, nil)

	return created, nil
}

// Confirm moves a pending appointment to confirmed. Staff only.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !RoleAllowed(actor, ActionConfirm, appt) {
		return nil, ErrRoleNotAllowed
	}

	updated, err := s.lifecycle.Transition(ctx, appt, StatusConfirmed, actor, "", s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.notify(updated.PatientID, EventAppointmentConfirmed, map[string]string{
		"appointment_id": updated.ID.String(),
		"scheduled_at":   updated.ScheduledAt.Format(time.RFC3339),
	}, nil)

	return updated, nil
}

// Cancel ends a pending or confirmed appointment. Allowed down to 12 hours
// before the slot, closer than the booking lead on purpose.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !RoleAllowed(actor, ActionCancel, appt) {
		return nil, ErrRoleNotAllowed
	}

	now := s.clock.Now()
	if appt.ScheduledAt.Before(now.Add(CancelLeadTime)) {
		return nil, errCancelWindow()
	}

	updated, err := s.lifecycle.Transition(ctx, appt, StatusCancelled, actor, reason, now)
	if err != nil {
		return nil, err
	}

	s.notify(updated.PatientID, EventAppointmentCancelled, map[string]string{
		"appointment_id": updated.ID.String(),
		"reason":         reason,
	}, nil)

	return updated, nil
}

// Reschedule moves an appointment to a new slot in place. Status is
// unchanged; the audit log entry is what makes the move count against the
// reschedule cap.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, newAt time.Time, newDurationMinutes int) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !RoleAllowed(actor, ActionReschedule, appt) {
		return nil, ErrRoleNotAllowed
	}
	if !appt.Status.Active() {
		return nil, ErrInvalidTransition
	}
	if newDurationMinutes == 0 {
		newDurationMinutes = appt.DurationMinutes
	}

	var updated *Appointment
	oldAt, oldDuration := appt.ScheduledAt, appt.DurationMinutes

	err = s.locker.WithDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		now := s.clock.Now()

		if err := s.validator.ValidateReschedule(lockCtx, appt, newAt, newDurationMinutes, now); err != nil {
			return err
		}

		moved, err := s.repo.RescheduleAppointment(lockCtx, appt.ID, newAt, newDurationMinutes)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return errSlotConflict()
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}

		if err := s.lifecycle.RecordReschedule(lockCtx, moved, actor, oldAt, oldDuration, now); err != nil {
			return err
		}

		updated = moved
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}

	s.notify(updated.PatientID, EventAppointmentRescheduled, map[string]string{
		"appointment_id": updated.ID.String(),
		"old_date":       oldAt.Format(time.RFC3339),
		"scheduled_at":   updated.ScheduledAt.Format(time.RFC3339),
	}, nil)

	return updated, nil
}

// Complete marks a confirmed appointment as attended and clears the
// patient's no-show streak.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !RoleAllowed(actor, ActionComplete, appt) {
		return nil, ErrRoleNotAllowed
	}

	updated, err := s.lifecycle.Transition(ctx, appt, StatusCompleted, actor, "", s.clock.Now())
	if err != nil {
		return nil, err
	}

	// The transition is committed; a trust update failure must not undo it.
	if err := s.policy.OnCompleted(ctx, updated.PatientID); err != nil {
		s.log.Error().Err(err).
			Str("appointment_id", updated.ID.String()).
			Str("patient_id", updated.PatientID.String()).
			Msg("failed to reset no-show streak after completion")
	}

	s.notify(updated.PatientID, EventAppointmentCompleted, map[string]string{
		"appointment_id": updated.ID.String(),
	}, nil)

	return updated, nil
}

// MarkNoShow records that the patient did not attend. Only legal once the
// scheduled time is in the past, and only for confirmed appointments.
func (s *Service) MarkNoShow(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !RoleAllowed(actor, ActionMarkNoShow, appt) {
		return nil, ErrRoleNotAllowed
	}

	now := s.clock.Now()
	if !appt.ScheduledAt.Before(now) {
		return nil, errNotYetPast()
	}

	updated, err := s.lifecycle.Transition(ctx, appt, StatusNoShow, actor, "", now)
	if err != nil {
		return nil, err
	}

	if err := s.policy.OnNoShow(ctx, updated.PatientID); err != nil {
		s.log.Error().Err(err).
			Str("appointment_id", updated.ID.String()).
			Str("patient_id", updated.PatientID.String()).
			Msg("failed to record no-show against patient trust")
	}

	s.notify(updated.PatientID, EventAppointmentNoShow, map[string]string{
		"appointment_id": updated.ID.String(),
	}, nil)

	return updated, nil
}

// GetAppointment returns a single appointment the actor may see.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !RoleAllowed(actor, ActionView, appt) {
		return nil, ErrRoleNotAllowed
	}
	return appt, nil
}

// ListPatientAppointments lists a patient's appointments, newest first.
func (s *Service) ListPatientAppointments(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if actor.Role == RolePatient && actor.ID != patientID {
		return nil, ErrRoleNotAllowed
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// GetSchedulingStatus reports a patient's booking headroom and trust state.
func (s *Service) GetSchedulingStatus(ctx context.Context, actor Actor, patientID uuid.UUID) (*SchedulingStatus, error) {
	if actor.Role == RolePatient && actor.ID != patientID {
		return nil, ErrRoleNotAllowed
	}

	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.CountFutureActiveByPatient(ctx, patientID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("count future appointments: %w", err)
	}

	remaining := s.cfg.MaxFutureAppointments - count
	if remaining < 0 {
		remaining = 0
	}

	return &SchedulingStatus{
		CurrentFutureAppointments: count,
		MaxAllowed:                s.cfg.MaxFutureAppointments,
		RemainingSlots:            remaining,
		CanSchedule:               !patient.IsBlocked && patient.ProfileCompletedAt != nil && remaining > 0,
		IsBlocked:                 patient.IsBlocked,
		BlockedReason:             patient.BlockedReason,
		ConsecutiveNoShows:        patient.ConsecutiveNoShows,
	}, nil
}

// DispatchReminders sends one reminder per confirmed appointment starting
// within the reminder window. Called periodically by the reminder worker.
func (s *Service) DispatchReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()

	due, err := s.repo.FindDueReminders(ctx, now, now.Add(s.cfg.ReminderWindow))
	if err != nil {
		return 0, fmt.Errorf("find due reminders: %w", err)
	}

	sent := 0
	for i := range due {
		appt := &due[i]
		if err := s.notifier.Dispatch(ctx, appt.PatientID, EventAppointmentReminder, map[string]string{
			"appointment_id": appt.ID.String(),
			"scheduled_at":   appt.ScheduledAt.Format(time.RFC3339),
		}, nil); err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("failed to dispatch reminder")
			continue
		}
		if err := s.repo.MarkReminded(ctx, appt.ID, now); err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("failed to mark appointment reminded")
			continue
		}
		sent++
	}

	return sent, nil
}

// notify dispatches fire-and-forget: the transition already committed, so
// the caller's result must not depend on delivery.
func (s *Service) notify(userID uuid.UUID, eventKey string, vars map[string]string, meta map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.notifier.Dispatch(ctx, userID, eventKey, vars, meta); err != nil {
			s.log.Warn().Err(err).
				Str("event", eventKey).
				Str("user_id", userID.String()).
				Msg("notification dispatch failed")
		}
	}()
}
