package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store: a map from slot id to an independently
// lockable counter. mu guards the maps and the appointment rows; each slot
// row is guarded by its own mutex, so reserve/release on the same slot
// serialize on that slot and different slots never contend. Backs the unit
// tests.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*Timeslot
	appts map[uuid.UUID]*Appointment
	locks map[uuid.UUID]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[uuid.UUID]*Timeslot),
		appts: make(map[uuid.UUID]*Appointment),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MemoryStore) slotLock(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// lookupSlot finds the shared row. Callers must hold the slot's mutex
// before reading or writing its fields; mu is only held for the map access.
func (m *MemoryStore) lookupSlot(id uuid.UUID) (*Timeslot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[id]
	return slot, ok
}

// Slots

func (m *MemoryStore) GetSlot(_ context.Context, id uuid.UUID) (*Timeslot, error) {
	l := m.slotLock(id)
	l.Lock()
	defer l.Unlock()

	slot, ok := m.lookupSlot(id)
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func (m *MemoryStore) CreateSlots(_ context.Context, slots []Timeslot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, slot := range slots {
		cp := slot
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.IsActive = true
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.slots[cp.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) SetSlotActive(_ context.Context, id uuid.UUID, active bool) (*Timeslot, error) {
	l := m.slotLock(id)
	l.Lock()
	defer l.Unlock()

	slot, ok := m.lookupSlot(id)
	if !ok {
		return nil, ErrSlotNotFound
	}
	slot.IsActive = active
	slot.UpdatedAt = time.Now()
	cp := *slot
	return &cp, nil
}

func (m *MemoryStore) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Timeslot, error) {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var result []Timeslot
	for _, id := range ids {
		slot, err := m.GetSlot(ctx, id)
		if err != nil {
			continue
		}
		if slot.DoctorID != doctorID || !slot.IsActive || slot.BookedCount >= slot.MaxPatients {
			continue
		}
		if slot.StartTime.Before(from) || !slot.StartTime.Before(to) {
			continue
		}
		result = append(result, *slot)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (m *MemoryStore) ReserveSlot(_ context.Context, id uuid.UUID, now time.Time) error {
	l := m.slotLock(id)
	l.Lock()
	defer l.Unlock()

	slot, ok := m.lookupSlot(id)
	if !ok {
		return ErrSlotNotFound
	}
	switch {
	case !slot.IsActive:
		return ErrSlotInactive
	case !slot.StartTime.After(now):
		return ErrSlotInPast
	case slot.BookedCount >= slot.MaxPatients:
		return ErrCapacityExceeded
	}
	slot.BookedCount++
	slot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ReleaseSlot(_ context.Context, id uuid.UUID) error {
	l := m.slotLock(id)
	l.Lock()
	defer l.Unlock()

	slot, ok := m.lookupSlot(id)
	if !ok {
		return ErrSlotNotFound
	}
	if slot.BookedCount > 0 {
		slot.BookedCount--
		slot.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) RecountSlot(_ context.Context, id uuid.UUID) (int, error) {
	l := m.slotLock(id)
	l.Lock()
	defer l.Unlock()

	slot, ok := m.lookupSlot(id)
	if !ok {
		return 0, ErrSlotNotFound
	}

	count := 0
	m.mu.RLock()
	for _, appt := range m.appts {
		if appt.SlotID == id && appt.Status != StatusCancelled {
			count++
		}
	}
	m.mu.RUnlock()

	slot.BookedCount = count
	slot.UpdatedAt = time.Now()
	return count, nil
}

// Appointments

func (m *MemoryStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	appt, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (m *MemoryStore) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *appt
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.appts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != from {
		return nil, ErrTransientConflict
	}
	appt.Status = to
	appt.UpdatedAt = time.Now()
	cp := *appt
	return &cp, nil
}

func (m *MemoryStore) MoveAppointmentSlot(_ context.Context, id uuid.UUID, slot *Timeslot) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return nil, ErrTransientConflict
	}
	appt.SlotID = slot.ID
	appt.DoctorID = slot.DoctorID
	appt.ScheduledAt = slot.StartTime
	appt.UpdatedAt = time.Now()
	cp := *appt
	return &cp, nil
}

func (m *MemoryStore) ListAppointmentsBySlot(_ context.Context, slotID uuid.UUID) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, appt := range m.appts {
		if appt.SlotID == slotID {
			result = append(result, *appt)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) FindNoShowCandidates(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, appt := range m.appts {
		if appt.Status != StatusPending && appt.Status != StatusConfirmed {
			continue
		}
		if appt.ScheduledAt.After(cutoff) {
			continue
		}
		result = append(result, *appt)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
