package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/appointment-scheduling/internal/config"
	"github.com/clinicore/appointment-scheduling/internal/db"
)

// simulate hammers the booking endpoint with concurrent patients competing
// for a small pool of slots, to observe conflict behavior under load.

type simConfig struct {
	apiBaseURL string
	duration   time.Duration
	workers    int
	doctors    int
	slots      int
}

type metrics struct {
	total    int64
	success  int64
	conflict int64
	rejected int64
	errored  int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	sim := simConfig{
		apiBaseURL: getenv("SIM_API_URL", "http://127.0.0.1:8080"),
		duration:   getenvDuration("SIM_DURATION", 30*time.Second),
		workers:    getenvInt("SIM_WORKERS", 16),
		doctors:    getenvInt("SIM_DOCTORS", 5),
		slots:      getenvInt("SIM_SLOTS", 20),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	patients, err := loadIDs(pool, "SELECT id FROM patients WHERE is_blocked = false LIMIT 200")
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	doctors, err := loadIDs(pool, fmt.Sprintf("SELECT id FROM doctors WHERE is_active = true LIMIT %d", sim.doctors))
	if err != nil {
		log.Fatalf("load doctors: %v", err)
	}
	if len(patients) == 0 || len(doctors) == 0 {
		log.Fatal("no patients or doctors found, run cmd/seed first")
	}

	// A deliberately small slot pool so workers collide: 30-minute
	// boundaries starting two days out, within seeded morning windows.
	base := time.Now().Add(48 * time.Hour).Truncate(24 * time.Hour).Add(8 * time.Hour)
	slotTimes := make([]time.Time, 0, sim.slots)
	for i := 0; i < sim.slots; i++ {
		slotTimes = append(slotTimes, base.Add(time.Duration(i)*30*time.Minute))
	}

	log.Printf("simulating: workers=%d doctors=%d slots=%d duration=%s",
		sim.workers, len(doctors), len(slotTimes), sim.duration)

	var m metrics
	deadline := time.Now().Add(sim.duration)

	var wg sync.WaitGroup
	for w := 0; w < sim.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			client := &http.Client{Timeout: 10 * time.Second}

			for time.Now().Before(deadline) {
				patient := patients[rng.Intn(len(patients))]
				doctor := doctors[rng.Intn(len(doctors))]
				at := slotTimes[rng.Intn(len(slotTimes))]

				book(client, sim.apiBaseURL, cfg.JWTSecret, patient, doctor, at, &m)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	log.Printf("done: total=%d success=%d conflict=%d rejected=%d error=%d",
		atomic.LoadInt64(&m.total),
		atomic.LoadInt64(&m.success),
		atomic.LoadInt64(&m.conflict),
		atomic.LoadInt64(&m.rejected),
		atomic.LoadInt64(&m.errored),
	)
}

func book(client *http.Client, baseURL, secret string, patient, doctor uuid.UUID, at time.Time, m *metrics) {
	atomic.AddInt64(&m.total, 1)

	token, err := mintToken(secret, patient, "patient")
	if err != nil {
		atomic.AddInt64(&m.errored, 1)
		return
	}

	body, _ := json.Marshal(map[string]any{
		"patient_id":       patient.String(),
		"doctor_id":        doctor.String(),
		"scheduled_at":     at.Format(time.RFC3339),
		"duration_minutes": 30,
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&m.errored, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&m.errored, 1)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		atomic.AddInt64(&m.success, 1)
	case resp.StatusCode == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Slot already taken or the patient hit their cap; both are
		// expected under contention.
		atomic.AddInt64(&m.rejected, 1)
	default:
		atomic.AddInt64(&m.errored, 1)
	}
}

func mintToken(secret string, sub uuid.UUID, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  sub.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func loadIDs(pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(context.Background(), query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
