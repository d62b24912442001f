package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/appointment-scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	PatientID       string   `json:"patient_id"`
	DoctorID        string   `json:"doctor_id"`
	ScheduledAt     string   `json:"scheduled_at"` // RFC3339
	DurationMinutes int      `json:"duration_minutes"`
	Type            string   `json:"type,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	ScheduledAt     string `json:"scheduled_at"` // RFC3339
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	CreatedBy       uuid.UUID  `json:"created_by"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	Type            string     `json:"type"`
	Price           *float64   `json:"price,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		CreatedBy:       a.CreatedBy,
		ScheduledAt:     a.ScheduledAt,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Type:            string(a.Type),
		Price:           a.Price,
		Notes:           a.Notes,
		ConfirmedAt:     a.ConfirmedAt,
		CompletedAt:     a.CompletedAt,
		CancelledAt:     a.CancelledAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
