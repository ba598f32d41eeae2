package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	TransitRatio float64
	ReadRatio    float64
	ClientCount  int
	DaysAhead    int
	HotProviders int
	JWTSecret    string
	PostgresDSN  string
}

type target struct {
	TenantID   uuid.UUID
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	Minutes    int
}

type DataPool struct {
	Targets      []target
	Clients      map[uuid.UUID][]appointment.Actor
	Staff        map[uuid.UUID]appointment.Actor
	mu           sync.RWMutex
	appointments []uuid.UUID // Thread-safe list of created appointment IDs
	owners       map[uuid.UUID]uuid.UUID
}

func (dp *DataPool) AddAppointment(id, tenantID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
	dp.owners[id] = tenantID
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	id := dp.appointments[rng.Intn(len(dp.appointments))]
	return id, dp.owners[id], true
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
	p50 = latencies[clampIndex(len(latencies)*50/100, len(latencies))]
	p95 = latencies[clampIndex(len(latencies)*95/100, len(latencies))]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	ReadByID   OperationMetrics
	Slots      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	tokens  sync.Map // actor id -> bearer token
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f transition=%.2f read=%.2f hot_providers=%d",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.TransitRatio, cfg.ReadRatio, cfg.HotProviders)

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d bookable provider/service pairs across %d tenants", len(dataPool.Targets), len(dataPool.Staff))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	overlaps, err := countOverlaps(checkCtx, pgPool)
	if err != nil {
		log.Fatalf("overlap check: %v", err)
	}
	fmt.Printf("Overlapping blocking appointments: %d\n", overlaps)
	if overlaps > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		ClientCount:  getInt("SIM_CLIENTS", 200),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 7),
		HotProviders: getInt("SIM_HOT_PROVIDERS", 3),
		JWTSecret:    baseCfg.JWTSecret,
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.TransitRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint actor tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

// loadDataPool picks a few bookable providers to concentrate load on, so
// concurrent requests actually race for the same slots.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{
		Clients: make(map[uuid.UUID][]appointment.Actor),
		Staff:   make(map[uuid.UUID]appointment.Actor),
		owners:  make(map[uuid.UUID]uuid.UUID),
	}

	rows, err := pool.Query(ctx, `
		SELECT p.tenant_id, p.id, s.id, s.duration_minutes
		FROM providers p
		JOIN LATERAL (
			SELECT id, duration_minutes FROM services
			WHERE tenant_id = p.tenant_id AND active
			ORDER BY duration_minutes
			LIMIT 1
		) s ON true
		WHERE p.allow_bookings
		ORDER BY p.created_at
		LIMIT $1
	`, cfg.HotProviders)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t target
		if err := rows.Scan(&t.TenantID, &t.ProviderID, &t.ServiceID, &t.Minutes); err != nil {
			return nil, err
		}
		dataPool.Targets = append(dataPool.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no bookable providers loaded, run seed first")
	}

	for _, t := range dataPool.Targets {
		if _, ok := dataPool.Staff[t.TenantID]; ok {
			continue
		}
		dataPool.Staff[t.TenantID] = appointment.Actor{ID: uuid.New(), Role: appointment.RoleReceptionist, TenantID: t.TenantID}
		clients := make([]appointment.Actor, 0, cfg.ClientCount)
		for i := 0; i < cfg.ClientCount; i++ {
			clients = append(clients, appointment.Actor{ID: uuid.New(), Role: appointment.RoleClient, TenantID: t.TenantID})
		}
		dataPool.Clients[t.TenantID] = clients
	}

	return dataPool, nil
}

// countOverlaps looks for pairs of blocking appointments sharing a provider,
// date and minute range. Anything above zero is a double booking.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.provider_id = b.provider_id
		 AND a.date = b.date
		 AND a.id < b.id
		 AND a.start_minute < b.end_minute
		 AND b.start_minute < a.end_minute
		WHERE a.status IN ('pending', 'confirmed')
		  AND b.status IN ('pending', 'confirmed')
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng)
			} else if r < s.config.BookingRatio+s.config.TransitRatio {
				s.doTransition(ctx, rng)
			} else if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) token(actor appointment.Actor) string {
	if tok, ok := s.tokens.Load(actor.ID); ok {
		return tok.(string)
	}
	claims := api.ActorClaims{
		TenantID: actor.TenantID.String(),
		Role:     string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	s.tokens.Store(actor.ID, tok)
	return tok
}

func (s *Simulator) do(ctx context.Context, actor appointment.Actor, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(actor))
	return s.client.Do(req)
}

// randomSlot picks a working-day start on the hour or half hour, starting
// tomorrow so client bookings never need the same-day feature.
func (s *Simulator) randomSlot(rng *rand.Rand) (string, string) {
	day := timewindow.DateOf(time.Now()).AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead))
	minute := 9*60 + 30*rng.Intn(6)
	return timewindow.FormatDate(day), timewindow.FormatTime(minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	clients := s.pool.Clients[t.TenantID]
	actor := clients[rng.Intn(len(clients))]
	date, startAt := s.randomSlot(rng)

	start := time.Now()

	resp, err := s.do(ctx, actor, http.MethodPost, "/bookings", api.CreateBookingRequest{
		ProviderID: t.ProviderID.String(),
		ServiceID:  t.ServiceID.String(),
		Date:       date,
		Start:      startAt,
	})
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt api.AppointmentResponse
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
				s.pool.AddAppointment(appt.ID, t.TenantID)
			}
		case http.StatusConflict, http.StatusUnprocessableEntity:
			// Taken slots and starts outside the provider's blocks are
			// expected rejections, not failures.
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	apptID, tenantID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	to := appointment.StatusConfirmed
	if rng.Intn(4) == 0 {
		to = appointment.StatusCancelled
	}

	start := time.Now()

	resp, err := s.do(ctx, s.pool.Staff[tenantID], http.MethodPatch,
		fmt.Sprintf("/appointments/%s/status", apptID), api.UpdateStatusRequest{Status: string(to), Reason: "simulated"})
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Transition.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, tenantID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()

	resp, err := s.do(ctx, s.pool.Staff[tenantID], http.MethodGet, fmt.Sprintf("/appointments/%s", apptID), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	date, _ := s.randomSlot(rng)

	start := time.Now()

	resp, err := s.do(ctx, s.pool.Staff[t.TenantID], http.MethodGet,
		fmt.Sprintf("/providers/%s/slots?date=%s&service_id=%s", t.ProviderID, date, t.ServiceID), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Slots.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status transition", &s.metrics.Transition)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Slots", &s.metrics.Slots)
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
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
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

func clampIndex(i, n int) int {
	if i >= n {
		return n - 1
	}
	return i
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
