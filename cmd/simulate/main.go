// Simulate drives concurrent booking traffic against a running api-server
// and verifies the capacity invariant afterwards: for every slot,
// booked_count must equal the number of non-cancelled appointments, and
// must never exceed max_patients.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicops/scheduling-engine/internal/db"
	"github.com/clinicops/scheduling-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	CancelRatio float64
	MoveRatio   float64
	PatientMax  int
	SlotMax     int
	PostgresDSN string
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

type OpMetrics struct {
	mu        sync.Mutex
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
}

func (om *OpMetrics) Record(latency time.Duration, status int) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.Total++
	switch {
	case status >= 200 && status < 300:
		om.Success++
	case status == http.StatusConflict || status == http.StatusServiceUnavailable:
		om.Conflict++
	default:
		om.Error++
	}
	om.Latencies = append(om.Latencies, latency)
}

func (om *OpMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(om.Latencies))
	copy(sorted, om.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[min(len(sorted)*95/100, len(sorted)-1)]
	return avg, p50, p95
}

func main() {
	log := logging.New("simulate", "dev")

	cfg := loadSimConfig()
	log.Info().
		Str("api", cfg.APIBaseURL).
		Int("workers", cfg.Workers).
		Dur("duration", cfg.Duration).
		Msg("simulation starting")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	data, err := loadPool(ctx, pool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().
		Int("patients", len(data.Patients)).
		Int("slots", len(data.Slots)).
		Msg("data pool loaded")

	book := &OpMetrics{}
	cancelM := &OpMetrics{}
	move := &OpMetrics{}

	client := &http.Client{Timeout: 10 * time.Second}
	deadline := time.Now().Add(cfg.Duration)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				r := rand.Float64()
				switch {
				case r < cfg.CancelRatio:
					doCancel(client, cfg, data, cancelM)
				case r < cfg.CancelRatio+cfg.MoveRatio:
					doReschedule(client, cfg, data, move)
				default:
					doBook(client, cfg, data, book)
				}
			}
		}()
	}
	wg.Wait()

	report(log, "book", book)
	report(log, "cancel", cancelM)
	report(log, "reschedule", move)

	if err := verifyInvariants(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("INVARIANT VIOLATION")
	}
	log.Info().Msg("capacity invariants hold")
}

func loadSimConfig() SimConfig {
	return SimConfig{
		APIBaseURL:  envStr("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:    envDuration("SIM_DURATION", 30*time.Second),
		Workers:     envInt("SIM_WORKERS", 20),
		CancelRatio: 0.2,
		MoveRatio:   0.1,
		PatientMax:  envInt("SIM_PATIENTS", 500),
		SlotMax:     envInt("SIM_SLOTS", 200),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func loadPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientMax)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slotRows, err := pool.Query(ctx, `
		SELECT id FROM timeslots
		WHERE is_active AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotMax)
	if err != nil {
		return nil, err
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var id uuid.UUID
		if err := slotRows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, id)
	}
	if err := slotRows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Patients) == 0 || len(dp.Slots) == 0 {
		return nil, fmt.Errorf("empty data pool, run cmd/seed first")
	}
	return dp, nil
}

func doBook(client *http.Client, cfg SimConfig, data *DataPool, m *OpMetrics) {
	body, _ := json.Marshal(map[string]any{
		"patient_id": data.Patients[rand.Intn(len(data.Patients))].String(),
		"slot_id":    data.Slots[rand.Intn(len(data.Slots))].String(),
		"reason":     "simulated visit",
	})

	start := time.Now()
	resp, err := client.Post(cfg.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			data.AddAppointment(created.ID)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	m.Record(time.Since(start), resp.StatusCode)
}

func doCancel(client *http.Client, cfg SimConfig, data *DataPool, m *OpMetrics) {
	id, ok := data.RandomAppointment()
	if !ok {
		return
	}

	start := time.Now()
	resp, err := client.Post(cfg.APIBaseURL+"/appointments/"+id.String()+"/cancel", "application/json", nil)
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	m.Record(time.Since(start), resp.StatusCode)
}

func doReschedule(client *http.Client, cfg SimConfig, data *DataPool, m *OpMetrics) {
	id, ok := data.RandomAppointment()
	if !ok {
		return
	}
	body, _ := json.Marshal(map[string]string{
		"new_slot_id": data.Slots[rand.Intn(len(data.Slots))].String(),
	})

	start := time.Now()
	resp, err := client.Post(cfg.APIBaseURL+"/appointments/"+id.String()+"/reschedule", "application/json", bytes.NewReader(body))
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	m.Record(time.Since(start), resp.StatusCode)
}

func report(log zerolog.Logger, name string, m *OpMetrics) {
	avg, p50, p95 := m.Stats()
	log.Info().
		Str("op", name).
		Int64("total", m.Total).
		Int64("success", m.Success).
		Int64("conflict", m.Conflict).
		Int64("error", m.Error).
		Dur("avg", avg).
		Dur("p50", p50).
		Dur("p95", p95).
		Msg("operation summary")
}

func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT t.id, t.booked_count, t.max_patients,
		       (SELECT count(*) FROM appointments a
		        WHERE a.slot_id = t.id
		          AND a.status <> 'CANCELLED') AS reserved
		FROM timeslots t
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var booked, maxPatients, reserved int
		if err := rows.Scan(&id, &booked, &maxPatients, &reserved); err != nil {
			return err
		}
		if booked != reserved {
			return fmt.Errorf("slot %s: booked_count=%d but %d reserving appointments", id, booked, reserved)
		}
		if booked < 0 || booked > maxPatients {
			return fmt.Errorf("slot %s: booked_count=%d out of range [0,%d]", id, booked, maxPatients)
		}
	}
	return rows.Err()
}
