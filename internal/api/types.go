package api

import (
	"encoding/json"
	"net/http"
)

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
