package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisclient "github.com/clinicore/appointment-scheduling/internal/redis"
	"github.com/clinicore/appointment-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps core errors onto the HTTP surface. Validation
// failures keep their field tag so clients can render them inline.
func handleServiceError(w http.ResponseWriter, err error) {
	var verr *scheduling.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Field:   verr.Field,
			Details: verr.Reason,
		})
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrRoleNotAllowed):
		writeError(w, http.StatusForbidden, "role_not_allowed", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrBookingInProgress),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "booking_in_progress", "another booking for this doctor is in progress, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (scheduling.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_actor", "request is not authenticated")
	}
	return actor, ok
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func availabilityHandler(svc *scheduling.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		duration := 0
		if raw := r.URL.Query().Get("duration"); raw != "" {
			duration, err = strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
				return
			}
		}

		day, err := svc.GetAvailableSlots(r.Context(), doctorID, date, duration)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, day)
	}
}

func availableDatesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		year, err := strconv.Atoi(r.URL.Query().Get("year"))
		if err != nil || year < 2000 || year > 2100 {
			writeError(w, http.StatusBadRequest, "invalid_year", "year must be a four digit year")
			return
		}
		month, err := strconv.Atoi(r.URL.Query().Get("month"))
		if err != nil || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "invalid_month", "month must be 1-12")
			return
		}

		dates, err := svc.GetAvailableDates(r.Context(), doctorID, year, time.Month(month))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"doctor_id": doctorID,
			"dates":     dates,
		})
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at must be RFC3339")
			return
		}

		appt, err := svc.Create(r.Context(), actor, scheduling.BookingRequest{
			PatientID:       patientID,
			DoctorID:        doctorID,
			ScheduledAt:     scheduledAt,
			DurationMinutes: req.DurationMinutes,
			Type:            scheduling.AppointmentType(req.Type),
			Price:           req.Price,
			Notes:           req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListPatientAppointments(r.Context(), actor, patientID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
	}
}

// transition wraps the shared shape of confirm/complete/no-show handlers.
func transitionHandler(fn func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := fn(r, actor, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.Confirm(r.Context(), actor, id)
	})
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.Complete(r.Context(), actor, id)
	})
}

func noShowAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.MarkNoShow(r.Context(), actor, id)
	})
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error) {
		var req CancelRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		return svc.Cancel(r.Context(), actor, id, req.Reason)
	})
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at must be RFC3339")
			return
		}

		appt, err := svc.Reschedule(r.Context(), actor, id, scheduledAt, req.DurationMinutes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func schedulingStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		patientID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		status, err := svc.GetSchedulingStatus(r.Context(), actor, patientID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
