package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Doctors      int
	Days         int
	CreateRatio  float64
	UpdateRatio  float64
	CancelRatio  float64
	DeleteRatio  float64
	ReadRatio    float64
	MoveFraction float64
}

// booking is what a worker believes is stored. Each worker only touches its
// own bookings, so its expectations stay exact while day documents are shared.
type booking struct {
	ID     string
	Doctor string
	Date   string
}

type DataPool struct {
	Doctors []string
	Days    []string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Create        OperationMetrics
	Update        OperationMetrics
	Cancel        OperationMetrics
	Delete        OperationMetrics
	ListByDoctors OperationMetrics
	PartialMoves  int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	expected map[string]booking // appointment id -> last acknowledged placement
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load base config")
	}
	log := logger.New(baseCfg.Env, baseCfg.LogLevel, "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("doctors", cfg.Doctors).
		Int("days", cfg.Days).
		Msg("simulator starting")

	sim := &Simulator{
		config:   cfg,
		pool:     newDataPool(cfg),
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		expected: make(map[string]booking),
	}

	sim.Run()

	lost, duplicated := sim.Verify(context.Background())
	sim.PrintReport(lost, duplicated)
	if lost > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Doctors:      getInt("SIM_DOCTORS", 3),
		Days:         getInt("SIM_DAYS", 3),
		CreateRatio:  getFloat("SIM_CREATE_RATIO", 0.4),
		UpdateRatio:  getFloat("SIM_UPDATE_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		DeleteRatio:  getFloat("SIM_DELETE_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		MoveFraction: getFloat("SIM_MOVE_FRACTION", 0.5),
	}

	total := cfg.CreateRatio + cfg.UpdateRatio + cfg.CancelRatio + cfg.DeleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.CreateRatio /= total
		cfg.UpdateRatio /= total
		cfg.CancelRatio /= total
		cfg.DeleteRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Doctors <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_DOCTORS and SIM_DAYS must be > 0")
	}
	return nil
}

// newDataPool keeps doctors and days few so writers collide on the same
// day documents.
func newDataPool(cfg SimConfig) *DataPool {
	p := &DataPool{}
	for i := 0; i < cfg.Doctors; i++ {
		p.Doctors = append(p.Doctors, fmt.Sprintf("sim.doctor%d@clinic.example.com", i))
	}
	first := time.Now().UTC().AddDate(0, 0, 30)
	for i := 0; i < cfg.Days; i++ {
		p.Days = append(p.Days, first.AddDate(0, 0, i).Format("2006-01-02"))
	}
	return p
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Int("expected_appointments", len(s.expected)).Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))
	faker := gofakeit.New(rng.Uint64())
	var mine []booking

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		c := s.config
		switch {
		case r < c.CreateRatio || len(mine) == 0:
			if b, ok := s.doCreate(ctx, rng, faker); ok {
				mine = append(mine, b)
			}
		case r < c.CreateRatio+c.UpdateRatio:
			i := rng.IntN(len(mine))
			mine[i] = s.doUpdate(ctx, rng, faker, mine[i])
		case r < c.CreateRatio+c.UpdateRatio+c.CancelRatio:
			s.doCancel(ctx, mine[rng.IntN(len(mine))])
		case r < c.CreateRatio+c.UpdateRatio+c.CancelRatio+c.DeleteRatio:
			i := rng.IntN(len(mine))
			if s.doDelete(ctx, mine[i]) {
				mine = append(mine[:i], mine[i+1:]...)
			}
		default:
			s.doListByDoctors(ctx, rng)
		}
	}
}

func (s *Simulator) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes(), err
}

func doctorPath(doctor string) string {
	return "/api/doctors/" + url.PathEscape(doctor) + "/appointments"
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) (booking, bool) {
	b := booking{
		Doctor: s.pool.Doctors[rng.IntN(len(s.pool.Doctors))],
		Date:   s.pool.Days[rng.IntN(len(s.pool.Days))],
	}
	payload := map[string]any{
		"appointment_date": b.Date,
		"first_name":       faker.FirstName(),
		"last_name":        faker.LastName(),
		"email":            faker.Email(),
		"phone":            faker.Phone(),
		"dob":              faker.Date().Format("2006-01-02"),
		"time":             fmt.Sprintf("%02d:%02d", faker.Number(8, 17), faker.RandomInt([]int{0, 30})),
		"clinicName":       "Sim Clinic",
	}

	start := time.Now()
	status, body, err := s.send(ctx, http.MethodPost, doctorPath(b.Doctor), payload)
	latency := time.Since(start)

	if err == nil && status == http.StatusCreated {
		var created struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(body, &created) == nil && created.ID != "" {
			b.ID = created.ID
			s.expect(b)
			s.metrics.Create.Record(latency, true, false)
			return b, true
		}
	}
	s.metrics.Create.Record(latency, false, status == http.StatusConflict)
	return booking{}, false
}

func (s *Simulator) doUpdate(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker, b booking) booking {
	next := b
	if rng.Float64() < s.config.MoveFraction {
		next.Date = s.pool.Days[rng.IntN(len(s.pool.Days))]
	}
	payload := map[string]any{
		"original_appointment_date": b.Date,
		"appointment_date":          next.Date,
		"phone":                     faker.Phone(),
	}

	start := time.Now()
	status, body, err := s.send(ctx, http.MethodPut, doctorPath(b.Doctor)+"/"+b.ID, payload)
	latency := time.Since(start)

	switch {
	case err == nil && status == http.StatusOK:
		s.expect(next)
		s.metrics.Update.Record(latency, true, false)
		return next
	case err == nil && status == http.StatusInternalServerError && strings.Contains(string(body), "partial_move"):
		// the copy on the new day is authoritative; retrying converges there
		atomic.AddInt64(&s.metrics.PartialMoves, 1)
		s.expect(next)
		s.metrics.Update.Record(latency, false, false)
		return next
	}
	s.metrics.Update.Record(latency, false, status == http.StatusConflict)
	return b
}

func (s *Simulator) doCancel(ctx context.Context, b booking) {
	payload := map[string]string{"reason": "simulated", "date": b.Date}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPost, doctorPath(b.Doctor)+"/"+b.ID+"/cancel", payload)
	s.metrics.Cancel.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doDelete(ctx context.Context, b booking) bool {
	start := time.Now()
	status, _, err := s.send(ctx, http.MethodDelete, doctorPath(b.Doctor)+"/"+b.ID+"?date="+b.Date, nil)
	ok := err == nil && status == http.StatusNoContent
	s.metrics.Delete.Record(time.Since(start), ok, status == http.StatusConflict)
	if ok {
		s.mu.Lock()
		delete(s.expected, b.ID)
		s.mu.Unlock()
	}
	return ok
}

func (s *Simulator) doListByDoctors(ctx context.Context, rng *rand.Rand) {
	a := s.pool.Doctors[rng.IntN(len(s.pool.Doctors))]
	b := s.pool.Doctors[rng.IntN(len(s.pool.Doctors))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/api/appointments/"+url.PathEscape(a+","+b), nil)
	s.metrics.ListByDoctors.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) expect(b booking) {
	s.mu.Lock()
	s.expected[b.ID] = b
	s.mu.Unlock()
}

// Verify reads every doctor's appointments back and counts acknowledged
// bookings that are missing or present more than once.
func (s *Simulator) Verify(ctx context.Context) (lost, duplicated int) {
	type key struct{ id, date string }
	seen := make(map[key]int)

	for _, doctor := range s.pool.Doctors {
		status, body, err := s.send(ctx, http.MethodGet, "/api/appointments/"+url.PathEscape(doctor), nil)
		if err != nil || status != http.StatusOK {
			s.log.Error().Err(err).Int("status", status).Str("doctor", doctor).Msg("verification read failed")
			continue
		}
		var rows []struct {
			ID   string `json:"id"`
			Date string `json:"appointment_date"`
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			s.log.Error().Err(err).Str("doctor", doctor).Msg("verification decode failed")
			continue
		}
		for _, r := range rows {
			seen[key{r.ID, r.Date}]++
		}
	}

	for id, b := range s.expected {
		switch n := seen[key{id, b.Date}]; {
		case n == 0:
			lost++
			s.log.Warn().Str("appointment_id", id).Str("date", b.Date).Msg("acknowledged appointment missing")
		case n > 1:
			duplicated++
		}
	}
	return lost, duplicated
}

func (s *Simulator) PrintReport(lost, duplicated int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d  Doctors: %d  Days: %d\n", s.config.Workers, s.config.Doctors, s.config.Days)
	fmt.Println()

	printOperationReport("Create", &s.metrics.Create)
	printOperationReport("Update", &s.metrics.Update)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Delete", &s.metrics.Delete)
	printOperationReport("List by doctors", &s.metrics.ListByDoctors)

	fmt.Printf("Expected appointments: %d\n", len(s.expected))
	fmt.Printf("Lost writes: %d\n", lost)
	fmt.Printf("Duplicated: %d\n", duplicated)
	fmt.Printf("Partial moves: %d\n", atomic.LoadInt64(&s.metrics.PartialMoves))
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
