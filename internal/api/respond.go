package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeEngineError maps the engine's error taxonomy onto HTTP. The codes are
// deliberately specific: the caller decides whether to offer an alternate
// slot, so "full" and "unavailable" must be distinguishable.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotInactive):
		writeError(w, http.StatusConflict, "slot_inactive", err.Error())
	case errors.Is(err, scheduling.ErrSlotInPast):
		writeError(w, http.StatusConflict, "slot_in_past", err.Error())
	case errors.Is(err, scheduling.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, scheduling.ErrTransientConflict):
		writeError(w, http.StatusServiceUnavailable, "conflict_retry", "concurrent update, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
