package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// memRepository is a map-backed Repository for exercising the scheduling core
// without Postgres.
type memRepository struct {
	mu sync.Mutex

	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	schedules    map[uuid.UUID][]Schedule
	blockedDays  map[string]bool // doctorID + "|" + "2006-01-02"
	appointments map[uuid.UUID]*Appointment
	logs         []AppointmentLog

	insertErr error
	updateErr error
}

func newMemRepository() *memRepository {
	return &memRepository{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		schedules:    make(map[uuid.UUID][]Schedule),
		blockedDays:  make(map[string]bool),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepository) addDoctor(active bool) uuid.UUID {
	id := uuid.New()
	r.doctors[id] = &Doctor{ID: id, Name: "Dr. Test", IsActive: active}
	return id
}

func (r *memRepository) addPatient() uuid.UUID {
	id := uuid.New()
	completed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.patients[id] = &Patient{ID: id, Name: "Test Patient", ProfileCompletedAt: &completed}
	return id
}

func (r *memRepository) addWindow(doctorID uuid.UUID, dayOfWeek int, start, end string) {
	r.schedules[doctorID] = append(r.schedules[doctorID], Schedule{
		ID:                  uuid.New(),
		DoctorID:            doctorID,
		DayOfWeek:           dayOfWeek,
		StartTime:           start,
		EndTime:             end,
		SlotDurationMinutes: 30,
	})
}

func (r *memRepository) addAppointment(patientID, doctorID uuid.UUID, at time.Time, durationMinutes int, status AppointmentStatus) *Appointment {
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        doctorID,
		CreatedBy:       patientID,
		ScheduledAt:     at,
		DurationMinutes: durationMinutes,
		Status:          status,
		Type:            TypePresential,
	}
	r.appointments[a.ID] = a
	return a
}

func blockedKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + "|" + date.Format("2006-01-02")
}

func (r *memRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepository) UpdatePatientTrust(_ context.Context, id uuid.UUID, consecutiveNoShows int, isBlocked bool, blockedReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return ErrPatientNotFound
	}
	p.ConsecutiveNoShows = consecutiveNoShows
	p.IsBlocked = isBlocked
	p.BlockedReason = blockedReason
	return nil
}

func (r *memRepository) ListActiveWindows(_ context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for _, w := range r.schedules[doctorID] {
		if w.DayOfWeek == dayOfWeek && !w.IsBlocked {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepository) IsDayBlocked(_ context.Context, doctorID uuid.UUID, date time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockedDays[blockedKey(doctorID, date)], nil
}

func (r *memRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepository) FindActiveByDoctorAndDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := date.Format("2006-01-02")
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Status.Active() && a.ScheduledAt.Format("2006-01-02") == day {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *memRepository) ActiveCountsByDoctorBetween(_ context.Context, doctorID uuid.UUID, from, to time.Time) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Status.Active() &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			counts[a.ScheduledAt.Format("2006-01-02")]++
		}
	}
	return counts, nil
}

func (r *memRepository) CountFutureActiveByPatient(_ context.Context, patientID uuid.UUID, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status.Active() && a.ScheduledAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (r *memRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, other := range r.appointments {
		if other.DoctorID == a.DoctorID && other.Status.Active() && other.ScheduledAt.Equal(a.ScheduledAt) {
			return ErrSlotTaken
		}
	}
	cp := *a
	r.appointments[a.ID] = &cp
	return nil
}

func (r *memRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	switch to {
	case StatusConfirmed:
		a.ConfirmedAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
	}
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

func (r *memRepository) RescheduleAppointment(_ context.Context, id uuid.UUID, scheduledAt time.Time, durationMinutes int) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	for _, other := range r.appointments {
		if other.ID != id && other.DoctorID == a.DoctorID && other.Status.Active() && other.ScheduledAt.Equal(scheduledAt) {
			return nil, ErrSlotTaken
		}
	}
	a.ScheduledAt = scheduledAt
	a.DurationMinutes = durationMinutes
	a.RemindedAt = nil
	cp := *a
	return &cp, nil
}

func (r *memRepository) FindDueReminders(_ context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.RemindedAt == nil &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *memRepository) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.RemindedAt = &at
	return nil
}

func (r *memRepository) AppendLog(_ context.Context, entry AppointmentLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.logs) + 1)
	r.logs = append(r.logs, entry)
	return nil
}

func (r *memRepository) CountReschedules(_ context.Context, appointmentID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.logs {
		if l.AppointmentID == appointmentID && strings.Contains(string(l.Metadata), `"action":"rescheduled"`) {
			n++
		}
	}
	return n, nil
}

func (r *memRepository) ListLogs(_ context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AppointmentLog
	for _, l := range r.logs {
		if l.AppointmentID == appointmentID {
			out = append(out, l)
		}
	}
	return out, nil
}

// memLocker runs the critical section under a plain mutex, or fails every
// acquisition when failAcquire is set.
type memLocker struct {
	mu          sync.Mutex
	failAcquire bool
	acquireErr  error
}

func (l *memLocker) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	if l.failAcquire {
		return l.acquireErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

// recordingNotifier captures dispatched events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Dispatch(_ context.Context, _ uuid.UUID, eventKey string, _ map[string]string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventKey)
	return nil
}
