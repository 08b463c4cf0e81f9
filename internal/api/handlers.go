package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

func listSlotsHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var from, to time.Time
		if v := r.URL.Query().Get("from"); v != "" {
			from, err = time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
				return
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			to, err = time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
				return
			}
		}

		slots, err := svc.ListAvailableSlots(r.Context(), doctorID, from, to)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createSlotsHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if len(req.Slots) == 0 {
			writeError(w, http.StatusBadRequest, "empty_batch", "slots must not be empty")
			return
		}

		slots := make([]scheduling.Timeslot, 0, len(req.Slots))
		for _, in := range req.Slots {
			doctorID, err := uuid.Parse(in.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			slots = append(slots, scheduling.Timeslot{
				DoctorID:    doctorID,
				StartTime:   in.StartTime,
				EndTime:     in.EndTime,
				MaxPatients: in.MaxPatients,
			})
		}

		if err := svc.AddSlots(r.Context(), slots); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func setSlotActiveHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		var req SlotActiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := svc.SetSlotActive(r.Context(), GetActor(r.Context()), id, req.Active)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func bookAppointmentHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookRequest{
			PatientID: patientID,
			SlotID:    slotID,
			Reason:    req.Reason,
			Staff:     req.Staff,
			Actor:     GetActor(r.Context()),
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// transitionHandler serves confirm, check-in, complete, and cancel, which
// differ only in the coordinator method they invoke.
func transitionHandler(apply func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := apply(r, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		appt, err := svc.Reschedule(r.Context(), GetActor(r.Context()), id, newSlotID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func runSweepHandler(sweeper *scheduling.Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transitioned, err := sweeper.RunOnce(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "sweep_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SweepResponse{Transitioned: transitioned})
	}
}

func recountSlotHandler(svc *scheduling.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		count, err := svc.RecountSlot(r.Context(), GetActor(r.Context()), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RecountResponse{SlotID: id, BookedCount: count})
	}
}
