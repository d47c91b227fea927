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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	StampedeSize int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	PostgresDSN  string
}

type doctorRef struct {
	ID     int64
	UserID int64
}

type booked struct {
	ID       int64
	DoctorID int64
}

type DataPool struct {
	Patients []int64
	Doctors  []doctorRef

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

func (dp *DataPool) doctorByID(id int64) doctorRef {
	for _, d := range dp.Doctors {
		if d.ID == id {
			return d
		}
	}
	return doctorRef{}
}

type OperationMetrics struct {
	Total       int64
	Success     int64
	Conflict    int64
	Unavailable int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusServiceUnavailable:
		atomic.AddInt64(&om.Unavailable, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Stampede     OperationMetrics
	Booking      OperationMetrics
	StatusChange OperationMetrics
	Availability OperationMetrics
	ReadByID     OperationMetrics
}

type Simulator struct {
	config   SimConfig
	pool     *DataPool
	client   *http.Client
	sessions *identity.SessionResolver
	metrics  Metrics
	log      zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fatalLog := zerolog.New(os.Stderr)
		fatalLog.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logging.New(baseCfg.Env, baseCfg.LogLevel).With().Str("service", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	sim := &Simulator{
		config:   cfg,
		pool:     dataPool,
		client:   &http.Client{Timeout: 10 * time.Second},
		sessions: identity.NewSessionResolver(baseCfg.Session.Secret, baseCfg.Session.Cookie),
		log:      log,
	}

	sim.Stampede(context.Background())
	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		StampedeSize: getInt("SIM_STAMPEDE_SIZE", 50),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 50),
		PostgresDSN:  base.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
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
	if cfg.StampedeSize < 2 {
		return fmt.Errorf("SIM_STAMPEDE_SIZE must be at least 2")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients ORDER BY id LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	patients, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `SELECT id, user_id FROM doctors ORDER BY id LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	doctors, err := pgx.CollectRows(rows, pgx.RowToStructByPos[doctorRef])
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(patients) < 2 {
		return nil, fmt.Errorf("need at least two patients, found %d", len(patients))
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	return &DataPool{Patients: patients, Doctors: doctors}, nil
}

// Stampede fires StampedeSize bookings at one free slot at the same moment.
// Exactly one of them must win.
func (s *Simulator) Stampede(ctx context.Context) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))

	var (
		doctor     doctorRef
		date, slot string
	)
	for attempt := 0; attempt < 20 && slot == ""; attempt++ {
		doctor = s.pool.Doctors[rng.IntN(len(s.pool.Doctors))]
		date, slot = s.freeSlot(ctx, rng, doctor.ID)
	}
	if slot == "" {
		s.log.Warn().Msg("no free slot found, skipping stampede")
		return
	}
	s.log.Info().Int64("doctor_id", doctor.ID).Str("date", date).Str("time", slot).Int("callers", s.config.StampedeSize).Msg("starting stampede")

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.StampedeSize; i++ {
		wg.Add(1)
		go func(patientID int64) {
			defer wg.Done()
			<-start
			s.book(ctx, &s.metrics.Stampede, patientID, doctor.ID, date, slot)
		}(s.pool.Patients[i%len(s.pool.Patients)])
	}
	close(start)
	wg.Wait()

	if won := atomic.LoadInt64(&s.metrics.Stampede.Success); won != 1 {
		s.log.Error().Int64("succeeded", won).Msg("stampede produced a double booking or no booking")
	} else {
		s.log.Info().Msg("stampede ok, exactly one booking won")
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed load")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			doctor := s.pool.Doctors[rng.IntN(len(s.pool.Doctors))]
			date, slot := s.freeSlot(ctx, rng, doctor.ID)
			if slot == "" {
				continue
			}
			patient := s.pool.Patients[rng.IntN(len(s.pool.Patients))]
			s.book(ctx, &s.metrics.Booking, patient, doctor.ID, date, slot)
		case r < s.config.BookingRatio+s.config.StatusRatio:
			s.changeStatus(ctx, rng)
		default:
			s.readByID(ctx, rng)
		}
	}
}

// freeSlot picks a random open date and time for doctorID.
func (s *Simulator) freeSlot(ctx context.Context, rng *rand.Rand, doctorID int64) (string, string) {
	var dates []string
	if _, err := s.call(ctx, &s.metrics.Availability, http.MethodGet, fmt.Sprintf("/doctors/%d/available-dates", doctorID), "", nil, &dates); err != nil || len(dates) == 0 {
		return "", ""
	}
	date := dates[rng.IntN(len(dates))]

	var times struct {
		Times []string `json:"times"`
	}
	path := fmt.Sprintf("/doctors/%d/available-times?date=%s", doctorID, url.QueryEscape(date))
	if _, err := s.call(ctx, &s.metrics.Availability, http.MethodGet, path, "", nil, &times); err != nil || len(times.Times) == 0 {
		return "", ""
	}
	return date, times.Times[rng.IntN(len(times.Times))]
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, patientID, doctorID int64, date, slot string) {
	body := map[string]any{"doctorId": doctorID, "date": date, "time": slot, "symptoms": "simulated visit"}
	var resp struct {
		Appointment struct {
			ID int64 `json:"id"`
		} `json:"appointment"`
	}
	status, err := s.call(ctx, om, http.MethodPost, "/appointments", s.as(patientID, identity.RolePatient), body, &resp)
	if err == nil && status == http.StatusCreated {
		s.pool.AddAppointment(booked{ID: resp.Appointment.ID, DoctorID: doctorID})
	}
}

func (s *Simulator) changeStatus(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	doctor := s.pool.doctorByID(appt.DoctorID)
	target := []string{"Confirmed", "Cancelled", "Completed"}[rng.IntN(3)]
	path := fmt.Sprintf("/appointments/%d/status", appt.ID)
	_, _ = s.call(ctx, &s.metrics.StatusChange, http.MethodPost, path, s.as(doctor.UserID, identity.RoleDoctor), map[string]string{"status": target}, nil)
}

func (s *Simulator) readByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	doctor := s.pool.doctorByID(appt.DoctorID)
	_, _ = s.call(ctx, &s.metrics.ReadByID, http.MethodGet, fmt.Sprintf("/appointments/%d", appt.ID), s.as(doctor.UserID, identity.RoleDoctor), nil, nil)
}

// as signs a short lived session token for the simulated caller.
func (s *Simulator) as(userID int64, role identity.Role) string {
	token, err := s.sessions.Issue(identity.Principal{ID: userID, Role: role}, time.Hour)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("issue session token")
		return ""
	}
	return token
}

func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path, token string, body, out any) (int, error) {
	target := s.config.APIBaseURL + path

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(time.Since(start), 0)
		}
		return 0, err
	}
	defer resp.Body.Close()
	om.Record(time.Since(start), resp.StatusCode)

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Same-slot stampede", &s.metrics.Stampede)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	unavailable := atomic.LoadInt64(&om.Unavailable)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if unavailable > 0 {
		fmt.Printf("  Try again later: %d (%.1f%%)\n", unavailable, pct(unavailable))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

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
