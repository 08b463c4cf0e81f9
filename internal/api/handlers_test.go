package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

type apiEnv struct {
	store  *scheduling.MemoryStore
	server *httptest.Server
	now    time.Time
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := scheduling.NewMemoryStore()
	guard := scheduling.NewCapacityGuard(scheduling.GuardConfig{
		Store:  store,
		Clock:  clock,
		Logger: zerolog.Nop(),
	})
	coordinator := scheduling.NewCoordinator(scheduling.CoordinatorConfig{
		Store:  store,
		Guard:  guard,
		Clock:  clock,
		Logger: zerolog.Nop(),
	})
	sweeper := scheduling.NewSweeper(scheduling.SweeperConfig{
		Store:  store,
		Clock:  func() time.Time { return now.Add(5 * time.Hour) },
		Grace:  2 * time.Hour,
		Logger: zerolog.Nop(),
	})

	router := NewRouter(RouterConfig{
		Coordinator: coordinator,
		Sweeper:     sweeper,
		Env:         "test",
		Version:     "test",
		Logger:      zerolog.Nop(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiEnv{store: store, server: server, now: now}
}

func (e *apiEnv) addSlot(t *testing.T, doctorID uuid.UUID, capacity int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	start := e.now.Add(time.Hour)
	err := e.store.CreateSlots(context.Background(), []scheduling.Timeslot{{
		ID:          id,
		DoctorID:    doctorID,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		MaxPatients: capacity,
	}})
	require.NoError(t, err)
	return id
}

func (e *apiEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(e.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestBookAppointmentEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	slotID := env.addSlot(t, uuid.New(), 1)
	patientID := uuid.New()

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: patientID.String(),
		SlotID:    slotID.String(),
		Reason:    "checkup",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	appt := decodeJSON[AppointmentResponse](t, resp)
	assert.Equal(t, patientID, appt.PatientID)
	assert.Equal(t, slotID, appt.SlotID)
	assert.Equal(t, "PENDING", appt.Status)
}

func TestBookAppointmentValidation(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: "not-a-uuid",
		SlotID:    uuid.New().String(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_patient_id", body.Error)
}

func TestBookFullSlotReturnsActionableError(t *testing.T) {
	env := newAPIEnv(t)
	slotID := env.addSlot(t, uuid.New(), 1)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: slotID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: slotID.String(),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "slot_full", body.Error)
}

func TestBookUnknownSlotReturnsNotFound(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: uuid.New().String(),
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "slot_not_found", body.Error)
}

func TestCancelEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	slotID := env.addSlot(t, uuid.New(), 2)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: slotID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	appt := decodeJSON[AppointmentResponse](t, resp)

	resp = env.post(t, fmt.Sprintf("/appointments/%s/cancel", appt.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decodeJSON[AppointmentResponse](t, resp)
	assert.Equal(t, "CANCELLED", cancelled.Status)

	resp = env.post(t, fmt.Sprintf("/appointments/%s/cancel", appt.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_transition", body.Error)
}

func TestRescheduleEndpointFullTarget(t *testing.T) {
	env := newAPIEnv(t)
	s1 := env.addSlot(t, uuid.New(), 1)
	s2 := env.addSlot(t, uuid.New(), 1)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: s1.String(),
	})
	appt := decodeJSON[AppointmentResponse](t, resp)

	resp = env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: s2.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, fmt.Sprintf("/appointments/%s/reschedule", appt.ID), RescheduleRequest{
		NewSlotID: s2.String(),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "slot_full", body.Error)
}

func TestListSlotsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	doctorID := uuid.New()
	slotID := env.addSlot(t, doctorID, 2)
	env.addSlot(t, uuid.New(), 2) // other doctor

	resp, err := http.Get(env.server.URL + "/slots?doctor_id=" + doctorID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	slots := decodeJSON[[]SlotResponse](t, resp)
	require.Len(t, slots, 1)
	assert.Equal(t, slotID, slots[0].ID)
	assert.Equal(t, 2, slots[0].Remaining)
}

func TestSweepEndpointIsIdempotent(t *testing.T) {
	env := newAPIEnv(t)
	slotID := env.addSlot(t, uuid.New(), 1)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: slotID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// The test sweeper's clock sits 5h ahead, well past the 2h grace.
	resp = env.post(t, "/admin/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeJSON[SweepResponse](t, resp)
	assert.Equal(t, 1, first.Transitioned)

	resp = env.post(t, "/admin/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeJSON[SweepResponse](t, resp)
	assert.Equal(t, 0, second.Transitioned)
}

func TestRecountEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	slotID := env.addSlot(t, uuid.New(), 3)

	resp := env.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), SlotID: slotID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, fmt.Sprintf("/admin/slots/%s/recount", slotID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recount := decodeJSON[RecountResponse](t, resp)
	assert.Equal(t, 1, recount.BookedCount)
}

func TestHealthLiveness(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Get(env.server.URL + "/health/live")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[LivenessResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
}
