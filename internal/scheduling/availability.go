package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AvailabilityReason explains an empty availability result. Empty results are
// the contract here; the calculator never fails on business grounds.
type AvailabilityReason string

const (
	ReasonNoSchedule  AvailabilityReason = "no_schedule"
	ReasonDayBlocked  AvailabilityReason = "day_blocked"
	ReasonFullyBooked AvailabilityReason = "fully_booked"
)

type SlotInfo struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type DayAvailability struct {
	DoctorID       uuid.UUID          `json:"doctor_id"`
	Date           string             `json:"date"`
	AvailableSlots []string           `json:"available_slots"`
	BusySlots      []string           `json:"busy_slots"`
	AllSlots       []SlotInfo         `json:"all_slots"`
	Reason         AvailabilityReason `json:"reason,omitempty"`
}

// Calculator derives concrete bookable slots from a doctor's weekly template,
// ad hoc blocks and the active appointments occupying the day.
type Calculator struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
}

func NewCalculator(schedules ScheduleRepository, appointments AppointmentRepository) *Calculator {
	return &Calculator{schedules: schedules, appointments: appointments}
}

// SlotsForDay walks every active window on the date's weekday in 30-minute
// steps and partitions the candidate start-times into available and busy.
// The step is a scan granularity, not the appointment length: a 45-minute
// appointment still only ever starts on a 30-minute boundary.
//
// Candidates closer than the booking lead time are dropped entirely rather
// than reported busy, so clients never see slots they could not book anyway.
func (c *Calculator) SlotsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int, now time.Time) (*DayAvailability, error) {
	result := &DayAvailability{
		DoctorID:       doctorID,
		Date:           date.Format("2006-01-02"),
		AvailableSlots: []string{},
		BusySlots:      []string{},
		AllSlots:       []SlotInfo{},
	}

	windows, err := c.schedules.ListActiveWindows(ctx, doctorID, ISOWeekday(date))
	if err != nil {
		return nil, fmt.Errorf("list schedule windows: %w", err)
	}
	if len(windows) == 0 {
		result.Reason = ReasonNoSchedule
		return result, nil
	}

	blocked, err := c.schedules.IsDayBlocked(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("check day block: %w", err)
	}
	if blocked {
		result.Reason = ReasonDayBlocked
		return result, nil
	}

	existing, err := c.appointments.FindActiveByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load active appointments: %w", err)
	}

	duration := time.Duration(durationMinutes) * time.Minute
	step := SlotScanStepMinutes * time.Minute
	earliest := now.Add(BookingLeadTime)

	for _, w := range windows {
		start, end, err := windowBounds(w, date)
		if err != nil {
			return nil, fmt.Errorf("schedule window %s: %w", w.ID, err)
		}

		for cand := start; !cand.Add(duration).After(end); cand = cand.Add(step) {
			if cand.Before(earliest) {
				continue
			}

			free := true
			for i := range existing {
				if existing[i].Overlaps(cand, duration) {
					free = false
					break
				}
			}

			label := cand.Format("15:04")
			result.AllSlots = append(result.AllSlots, SlotInfo{Time: label, Available: free})
			if free {
				result.AvailableSlots = append(result.AvailableSlots, label)
			} else {
				result.BusySlots = append(result.BusySlots, label)
			}
		}
	}

	if len(result.AvailableSlots) == 0 {
		result.Reason = ReasonFullyBooked
	}
	return result, nil
}

// DatesForMonth returns the days of the given month that still have booking
// capacity. A day qualifies when a schedule window exists for its weekday,
// the day is not fully blocked, and the count of active appointments is below
// the theoretical slot capacity of its windows.
func (c *Calculator) DatesForMonth(ctx context.Context, doctorID uuid.UUID, year int, month time.Month, loc *time.Location, now time.Time) ([]string, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	next := first.AddDate(0, 1, 0)

	counts, err := c.appointments.ActiveCountsByDoctorBetween(ctx, doctorID, first, next)
	if err != nil {
		return nil, fmt.Errorf("count active appointments: %w", err)
	}

	// Weekly template is the same for every Monday etc., so resolve each
	// weekday's windows once.
	windowsByDay := make(map[int][]Schedule, 7)

	earliest := now.Add(BookingLeadTime)
	dates := []string{}

	for day := first; day.Before(next); day = day.AddDate(0, 0, 1) {
		// The day qualifies on lead time if any instant of it is still
		// bookable, i.e. the day does not end before now+24h.
		if !day.AddDate(0, 0, 1).After(earliest) {
			continue
		}

		dow := ISOWeekday(day)
		windows, ok := windowsByDay[dow]
		if !ok {
			windows, err = c.schedules.ListActiveWindows(ctx, doctorID, dow)
			if err != nil {
				return nil, fmt.Errorf("list schedule windows: %w", err)
			}
			windowsByDay[dow] = windows
		}
		if len(windows) == 0 {
			continue
		}

		blocked, err := c.schedules.IsDayBlocked(ctx, doctorID, day)
		if err != nil {
			return nil, fmt.Errorf("check day block: %w", err)
		}
		if blocked {
			continue
		}

		capacity := 0
		for _, w := range windows {
			mins, err := windowMinutes(w)
			if err != nil {
				return nil, fmt.Errorf("schedule window %s: %w", w.ID, err)
			}
			slotDur := w.SlotDurationMinutes
			if slotDur <= 0 {
				slotDur = SlotScanStepMinutes
			}
			capacity += mins / slotDur
		}

		if counts[day.Format("2006-01-02")] < capacity {
			dates = append(dates, day.Format("2006-01-02"))
		}
	}

	return dates, nil
}

// windowBounds anchors a window's "15:04" clock strings on a concrete date.
func windowBounds(w Schedule, date time.Time) (time.Time, time.Time, error) {
	start, err := atClock(date, w.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := atClock(date, w.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q not after start %q", w.EndTime, w.StartTime)
	}
	return start, end, nil
}

func windowMinutes(w Schedule) (int, error) {
	start, end, err := windowBounds(w, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return 0, err
	}
	return int(end.Sub(start) / time.Minute), nil
}

func atClock(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}
