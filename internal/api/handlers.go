package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/schedule"
)

const slotTakenMessage = "This slot was just taken, please choose another time."

func (h *handlers) availableDates(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathID(w, r)
	if !ok {
		return
	}

	dates, err := h.schedule.AvailableDates(r.Context(), doctorID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dates)
}

func (h *handlers) availableTimes(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathID(w, r)
	if !ok {
		return
	}
	date, err := schedule.ParseDate(r.URL.Query().Get("date"), h.schedule.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	times, err := h.schedule.AvailableTimes(r.Context(), doctorID, date)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TimesResponse{Times: times})
}

func (h *handlers) doctorAgenda(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	doctorID, ok := pathID(w, r)
	if !ok {
		return
	}

	switch p.Role {
	case identity.RoleAdmin:
	case identity.RoleDoctor:
		own, err := h.appointments.DoctorForUser(r.Context(), doctorID, p.ID)
		if err != nil {
			h.appointmentError(w, r, err)
			return
		}
		if !own {
			writeError(w, http.StatusForbidden, "forbidden", "not your agenda")
			return
		}
	default:
		writeError(w, http.StatusForbidden, "forbidden", "only doctors and admins can view agendas")
		return
	}

	loc := h.schedule.Location()
	date := schedule.Midnight(time.Now(), loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := schedule.ParseDate(raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		date = d
	}

	start, end, err := h.schedule.DisplayWindow(r.Context(), doctorID, date)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	appts, err := h.appointments.DoctorDay(r.Context(), doctorID, date)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if appts == nil {
		appts = []appointment.Appointment{}
	}

	writeJSON(w, http.StatusOK, AgendaResponse{
		Date:         date.Format(time.DateOnly),
		WorkStart:    schedule.FormatClock(start),
		WorkEnd:      schedule.FormatClock(end),
		Appointments: appts,
	})
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.Role != identity.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients can book appointments")
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.DoctorID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId is required")
		return
	}
	date, err := schedule.ParseDate(req.Date, h.schedule.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	offset, err := schedule.ParseClock(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
		return
	}

	appt, err := h.appointments.AttemptBook(r.Context(), appointment.BookRequest{
		PatientID: p.ID,
		DoctorID:  req.DoctorID,
		At:        schedule.At(date, offset),
		Symptoms:  req.Symptoms,
	})
	if err != nil {
		h.appointmentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, BookResponse{
		Success:     true,
		Message:     "Appointment booked, waiting for the doctor to confirm.",
		Appointment: appt,
	})
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.Role != identity.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients have an appointment history")
		return
	}

	q := r.URL.Query()
	appts, err := h.appointments.ListForPatient(r.Context(), p.ID, queryInt(q.Get("limit"), 20), queryInt(q.Get("offset"), 0))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if appts == nil {
		appts = []appointment.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.GetAppointment(r.Context(), id, principal(r))
	if err != nil {
		h.appointmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.appointments.SetStatus(r.Context(), id, req.Status, principal(r))
	if err != nil {
		h.appointmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.Cancel(r.Context(), id, principal(r))
	if err != nil {
		h.appointmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) onlineSupport(w http.ResponseWriter, r *http.Request) {
	ids := []int64{}
	if h.presence != nil {
		ids = h.presence.Snapshot()
	}
	writeJSON(w, http.StatusOK, OnlineSupportResponse{SupportIDs: ids})
}

func (h *handlers) appointmentError(w http.ResponseWriter, r *http.Request, err error) {
	var blocked *appointment.BlockedError
	switch {
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", slotTakenMessage)
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "blocked", Reason: blocked.Reason})
	case errors.Is(err, appointment.ErrSlotInPast):
		writeError(w, http.StatusBadRequest, "slot_in_past", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrNotPermitted):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case appointment.IsTransient(err):
		h.log.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("transient failure")
		writeError(w, http.StatusServiceUnavailable, "try_again_later", "The service is busy, please try again later.")
	default:
		h.internalError(w, r, err)
	}
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", GetRequestID(r.Context())).
		Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func principal(r *http.Request) identity.Principal {
	p, _ := identity.FromContext(r.Context())
	return p
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
