package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/appointment-scheduling/internal/config"
	redisclient "github.com/clinicore/appointment-scheduling/internal/redis"
)

func testConfig() config.Config {
	return config.Config{
		MaxFutureAppointments: 3,
		NoShowBlockThreshold:  3,
		ReminderWindow:        24 * time.Hour,
		ClinicTimeZone:        time.UTC,
	}
}

func testService(repo *memRepository, locker redisclient.Locker, now time.Time) (*Service, *recordingNotifier) {
	notifier := &recordingNotifier{}
	svc := NewService(repo, locker, notifier, fixedClock{now: now}, testConfig(), zerolog.Nop())
	return svc, notifier
}

func TestServiceCreate(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	svc, _ := testService(repo, &memLocker{}, testNow)

	actor := Actor{ID: patientID, Role: RolePatient}
	created, err := svc.Create(context.Background(), actor, testBooking(patientID, doctorID))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if created.Status != StatusPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
	if created.CreatedBy != patientID {
		t.Errorf("created_by = %s, want %s", created.CreatedBy, patientID)
	}
	if created.Type != TypePresential {
		t.Errorf("type = %s, want presential", created.Type)
	}

	logs, _ := repo.ListLogs(context.Background(), created.ID)
	if len(logs) != 1 || logs[0].OldStatus != nil {
		t.Errorf("creation audit entry missing or malformed: %+v", logs)
	}
}

func TestServiceCreatePatientCannotBookOthers(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	svc, _ := testService(repo, &memLocker{}, testNow)

	actor := Actor{ID: uuid.New(), Role: RolePatient}
	_, err := svc.Create(context.Background(), actor, testBooking(patientID, doctorID))
	if !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("got %v, want ErrRoleNotAllowed", err)
	}
}

func TestServiceCreateDoctorBooksOwnCalendarOnly(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	otherDoctor := repo.addDoctor(true)
	patientID := repo.addPatient()
	svc, _ := testService(repo, &memLocker{}, testNow)

	actor := Actor{ID: otherDoctor, Role: RoleDoctor}
	if _, err := svc.Create(context.Background(), actor, testBooking(patientID, doctorID)); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("got %v, want ErrRoleNotAllowed", err)
	}

	actor = Actor{ID: doctorID, Role: RoleDoctor}
	if _, err := svc.Create(context.Background(), actor, testBooking(patientID, doctorID)); err != nil {
		t.Fatalf("Create by own doctor: %v", err)
	}
}

func TestServiceCreateLockContention(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	locker := &memLocker{failAcquire: true, acquireErr: redisclient.ErrLockNotAcquired}
	svc, _ := testService(repo, locker, testNow)

	actor := Actor{ID: patientID, Role: RolePatient}
	_, err := svc.Create(context.Background(), actor, testBooking(patientID, doctorID))
	if !errors.Is(err, ErrBookingInProgress) {
		t.Fatalf("got %v, want ErrBookingInProgress", err)
	}
}

func TestServiceCreateInsertRaceSurfacesAsConflict(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	repo.insertErr = ErrSlotTaken
	svc, _ := testService(repo, &memLocker{}, testNow)

	actor := Actor{ID: patientID, Role: RolePatient}
	_, err := svc.Create(context.Background(), actor, testBooking(patientID, doctorID))
	wantValidationField(t, err, "scheduled_at")
}

func TestServiceConfirmThenComplete(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	repo.patients[patientID].ConsecutiveNoShows = 2
	appt := repo.addAppointment(patientID, doctorID, testMonday.Add(9*time.Hour), 30, StatusPending)
	svc, _ := testService(repo, &memLocker{}, testNow)

	doctor := Actor{ID: doctorID, Role: RoleDoctor}
	confirmed, err := svc.Confirm(context.Background(), doctor, appt.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}

	completed, err := svc.Complete(context.Background(), doctor, appt.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}

	p, _ := repo.GetPatientByID(context.Background(), patientID)
	if p.ConsecutiveNoShows != 0 {
		t.Errorf("streak = %d after completion, want 0", p.ConsecutiveNoShows)
	}
}

func TestServiceCancelWindows(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	svc, _ := testService(repo, &memLocker{}, testNow)
	actor := Actor{ID: patientID, Role: RolePatient}

	// 13 hours out: allowed, even though booking that close would not be.
	far := repo.addAppointment(patientID, doctorID, testNow.Add(13*time.Hour), 30, StatusConfirmed)
	cancelled, err := svc.Cancel(context.Background(), actor, far.ID, "feeling better")
	if err != nil {
		t.Fatalf("Cancel 13h out: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	logs, _ := repo.ListLogs(context.Background(), far.ID)
	if len(logs) != 1 || logs[0].Reason != "feeling better" {
		t.Errorf("cancel log = %+v, want reason recorded", logs)
	}

	// 11 hours out: inside the cancellation window.
	near := repo.addAppointment(patientID, doctorID, testNow.Add(11*time.Hour), 30, StatusConfirmed)
	_, err = svc.Cancel(context.Background(), actor, near.ID, "")
	wantValidationField(t, err, "scheduled_at")
}

func TestServiceCancelTerminalRejected(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testNow.Add(48*time.Hour), 30, StatusCompleted)
	svc, _ := testService(repo, &memLocker{}, testNow)

	_, err := svc.Cancel(context.Background(), Actor{ID: patientID, Role: RolePatient}, appt.ID, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestServiceReschedule(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testMonday.Add(9*time.Hour), 30, StatusConfirmed)
	svc, _ := testService(repo, &memLocker{}, testNow)

	newAt := testMonday.Add(14 * time.Hour)
	moved, err := svc.Reschedule(context.Background(), Actor{ID: patientID, Role: RolePatient}, appt.ID, newAt, 0)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !moved.ScheduledAt.Equal(newAt) {
		t.Errorf("scheduled_at = %v, want %v", moved.ScheduledAt, newAt)
	}
	if moved.DurationMinutes != 30 {
		t.Errorf("duration = %d, zero new duration should keep the old one", moved.DurationMinutes)
	}
	if moved.Status != StatusConfirmed {
		t.Errorf("status = %s, reschedule must not change status", moved.Status)
	}

	n, _ := repo.CountReschedules(context.Background(), appt.ID)
	if n != 1 {
		t.Errorf("CountReschedules = %d, want 1", n)
	}
}

func TestServiceRescheduleCapEnforced(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testMonday.Add(9*time.Hour), 30, StatusConfirmed)
	svc, _ := testService(repo, &memLocker{}, testNow)
	actor := Actor{ID: patientID, Role: RolePatient}

	for i := 1; i <= MaxReschedules; i++ {
		newAt := testMonday.Add(time.Duration(9+i) * time.Hour)
		if _, err := svc.Reschedule(context.Background(), actor, appt.ID, newAt, 0); err != nil {
			t.Fatalf("Reschedule #%d: %v", i, err)
		}
	}

	_, err := svc.Reschedule(context.Background(), actor, appt.ID, testMonday.Add(15*time.Hour), 0)
	wantValidationField(t, err, "scheduled_at")
}

func TestServiceRescheduleTerminalRejected(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testMonday.Add(9*time.Hour), 30, StatusCancelled)
	svc, _ := testService(repo, &memLocker{}, testNow)

	_, err := svc.Reschedule(context.Background(), Actor{ID: patientID, Role: RolePatient}, appt.ID, testMonday.Add(10*time.Hour), 0)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestServiceMarkNoShow(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testNow.Add(-2*time.Hour), 30, StatusConfirmed)
	svc, _ := testService(repo, &memLocker{}, testNow)

	updated, err := svc.MarkNoShow(context.Background(), Actor{ID: doctorID, Role: RoleDoctor}, appt.ID)
	if err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}
	if updated.Status != StatusNoShow {
		t.Errorf("status = %s, want no_show", updated.Status)
	}

	p, _ := repo.GetPatientByID(context.Background(), patientID)
	if p.ConsecutiveNoShows != 1 {
		t.Errorf("streak = %d, want 1", p.ConsecutiveNoShows)
	}
}

func TestServiceMarkNoShowFutureRejected(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testNow.Add(2*time.Hour), 30, StatusConfirmed)
	svc, _ := testService(repo, &memLocker{}, testNow)

	_, err := svc.MarkNoShow(context.Background(), Actor{ID: doctorID, Role: RoleDoctor}, appt.ID)
	wantValidationField(t, err, "scheduled_at")
}

func TestServiceMarkNoShowThirdBlocksPatient(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	repo.patients[patientID].ConsecutiveNoShows = 2
	appt := repo.addAppointment(patientID, doctorID, testNow.Add(-time.Hour), 30, StatusConfirmed)
	svc, _ := testService(repo, &memLocker{}, testNow)

	if _, err := svc.MarkNoShow(context.Background(), Actor{ID: doctorID, Role: RoleDoctor}, appt.ID); err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}

	p, _ := repo.GetPatientByID(context.Background(), patientID)
	if !p.IsBlocked {
		t.Fatal("third consecutive no-show did not block the patient")
	}
}

func TestServiceGetAvailableSlotsInactiveDoctor(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(false)
	svc, _ := testService(repo, &memLocker{}, testNow)

	_, err := svc.GetAvailableSlots(context.Background(), doctorID, testMonday, 30)
	wantValidationField(t, err, "doctor_id")
}

func TestServiceGetAvailableSlotsDefaultDuration(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	repo.addWindow(doctorID, 1, "08:00", "09:00")
	svc, _ := testService(repo, &memLocker{}, testNow)

	got, err := svc.GetAvailableSlots(context.Background(), doctorID, testMonday, 0)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(got.AvailableSlots) != 2 {
		t.Errorf("available = %v, want 2 slots at the 30-minute default", got.AvailableSlots)
	}
}

func TestServiceSchedulingStatus(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	repo.addAppointment(patientID, doctorID, testMonday.Add(9*time.Hour), 30, StatusConfirmed)
	repo.addAppointment(patientID, doctorID, testMonday.Add(10*time.Hour), 30, StatusPending)
	svc, _ := testService(repo, &memLocker{}, testNow)

	status, err := svc.GetSchedulingStatus(context.Background(), Actor{ID: patientID, Role: RolePatient}, patientID)
	if err != nil {
		t.Fatalf("GetSchedulingStatus: %v", err)
	}
	if status.CurrentFutureAppointments != 2 || status.MaxAllowed != 3 || status.RemainingSlots != 1 {
		t.Errorf("status = %+v, want 2/3 used with 1 remaining", status)
	}
	if !status.CanSchedule {
		t.Error("CanSchedule = false, want true")
	}
}

func TestServiceSchedulingStatusBlocked(t *testing.T) {
	repo := newMemRepository()
	patientID := repo.addPatient()
	reason := "blocked after 3 consecutive no-shows"
	repo.patients[patientID].IsBlocked = true
	repo.patients[patientID].BlockedReason = &reason
	repo.patients[patientID].ConsecutiveNoShows = 3
	svc, _ := testService(repo, &memLocker{}, testNow)

	status, err := svc.GetSchedulingStatus(context.Background(), Actor{Role: RoleAdmin}, patientID)
	if err != nil {
		t.Fatalf("GetSchedulingStatus: %v", err)
	}
	if status.CanSchedule {
		t.Error("CanSchedule = true for a blocked patient")
	}
	if status.BlockedReason == nil || *status.BlockedReason != reason {
		t.Errorf("blocked_reason = %v, want %q", status.BlockedReason, reason)
	}
}

func TestServiceSchedulingStatusOtherPatientForbidden(t *testing.T) {
	repo := newMemRepository()
	patientID := repo.addPatient()
	svc, _ := testService(repo, &memLocker{}, testNow)

	_, err := svc.GetSchedulingStatus(context.Background(), Actor{ID: uuid.New(), Role: RolePatient}, patientID)
	if !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("got %v, want ErrRoleNotAllowed", err)
	}
}

func TestServiceGetAppointmentVisibility(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	appt := repo.addAppointment(patientID, doctorID, testMonday.Add(9*time.Hour), 30, StatusPending)
	svc, _ := testService(repo, &memLocker{}, testNow)

	if _, err := svc.GetAppointment(context.Background(), Actor{ID: patientID, Role: RolePatient}, appt.ID); err != nil {
		t.Fatalf("owner view: %v", err)
	}
	if _, err := svc.GetAppointment(context.Background(), Actor{ID: uuid.New(), Role: RolePatient}, appt.ID); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("got %v, want ErrRoleNotAllowed for stranger", err)
	}
}

func TestServiceDispatchReminders(t *testing.T) {
	repo := newMemRepository()
	doctorID := repo.addDoctor(true)
	patientID := repo.addPatient()
	due := repo.addAppointment(patientID, doctorID, testNow.Add(6*time.Hour), 30, StatusConfirmed)
	repo.addAppointment(patientID, doctorID, testNow.Add(48*time.Hour), 30, StatusConfirmed)  // outside window
	repo.addAppointment(patientID, doctorID, testNow.Add(7*time.Hour), 30, StatusPending)     // not confirmed
	already := repo.addAppointment(patientID, doctorID, testNow.Add(8*time.Hour), 30, StatusConfirmed)
	stamp := testNow.Add(-time.Hour)
	repo.appointments[already.ID].RemindedAt = &stamp

	svc, notifier := testService(repo, &memLocker{}, testNow)
	sent, err := svc.DispatchReminders(context.Background())
	if err != nil {
		t.Fatalf("DispatchReminders: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventAppointmentReminder {
		t.Errorf("events = %v, want single reminder", notifier.events)
	}
	if repo.appointments[due.ID].RemindedAt == nil {
		t.Error("due appointment not marked reminded")
	}

	// Second run is a no-op.
	sent, err = svc.DispatchReminders(context.Background())
	if err != nil {
		t.Fatalf("DispatchReminders second run: %v", err)
	}
	if sent != 0 {
		t.Errorf("second run sent = %d, want 0", sent)
	}
}
