package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/appointment"
	redisclient "github.com/hackgods/clinic-appointment-store/internal/redis"
	"github.com/hackgods/clinic-appointment-store/internal/store"
)

type handlers struct {
	svc      *appointment.Service
	proj     *appointment.Projector
	validate *validator.Validate
	log      zerolog.Logger
}

// decode reads a JSON body into dst and validates it.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// pathParam returns a decoded path parameter. chi hands back the escaped
// segment whenever the request path carried escapes (doctor%40example.com).
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, true
	}
	dec, err := url.PathUnescape(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_path", "malformed escape in "+name)
		return "", false
	}
	return dec, true
}

// doctorParams decodes the {userID} and {id} segments of an appointment route.
func doctorParams(w http.ResponseWriter, r *http.Request) (userID, id string, ok bool) {
	if userID, ok = pathParam(w, r, "userID"); !ok {
		return "", "", false
	}
	if id, ok = pathParam(w, r, "id"); !ok {
		return "", "", false
	}
	return userID, id, true
}

func (h *handlers) listByDoctorEmails(w http.ResponseWriter, r *http.Request) {
	raw, ok := pathParam(w, r, "emails")
	if !ok {
		return
	}
	emails := strings.Split(raw, ",")

	rows, err := h.proj.ByDoctorEmails(r.Context(), emails)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) listByClinic(w http.ResponseWriter, r *http.Request) {
	clinic, ok := pathParam(w, r, "clinic")
	if !ok {
		return
	}

	rows, err := h.proj.ByClinic(r.Context(), clinic)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) listDay(w http.ResponseWriter, r *http.Request) {
	date, ok := pathParam(w, r, "date")
	if !ok {
		return
	}

	recs, err := h.svc.ListDay(r.Context(), date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(w, r, "userID")
	if !ok {
		return
	}
	var req appointment.CreateInput
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.svc.Create(r.Context(), userID, req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := doctorParams(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Get(r.Context(), userID, id, r.URL.Query().Get("date"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := doctorParams(w, r)
	if !ok {
		return
	}
	var req appointment.UpdateInput
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.svc.Update(r.Context(), userID, id, req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := doctorParams(w, r)
	if !ok {
		return
	}

	// the body is optional
	var req CancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetails(err))
		return
	}

	rec, err := h.svc.Cancel(r.Context(), userID, id, req.Reason, req.Date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := doctorParams(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), userID, id, r.URL.Query().Get("date")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrDayNotFound):
		writeError(w, http.StatusNotFound, "day_not_found", err.Error())
	case errors.Is(err, appointment.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	case errors.Is(err, appointment.ErrMissingDoctor):
		writeError(w, http.StatusBadRequest, "missing_doctor", err.Error())
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		writeError(w, http.StatusConflict, "duplicate_appointment", err.Error())
	case errors.Is(err, appointment.ErrWriteConflict), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "write_conflict", "the day is being updated concurrently, retry the request")
	case errors.Is(err, appointment.ErrPartialMove):
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("partial appointment move")
		writeError(w, http.StatusInternalServerError, "partial_move", "appointment copied to the new date but not removed from the old one, retry the update")
	case errors.Is(err, store.ErrUnavailable):
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "appointment store unavailable")
	default:
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
