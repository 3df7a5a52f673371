package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	source      string
	destination string
	amount      string
	reuse       float64
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Created
	replayed      uint64 // Idempotent replays
	fail409       uint64 // Key still in flight
	fail422       uint64 // Key reused with another body
	fail5xx       uint64 // Payment failed upstream
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | retry")
	flag.StringVar(&source, "source", "http://localhost:3001/accounts/alice", "Source account URI")
	flag.StringVar(&destination, "destination", "http://localhost:3002/accounts/bob", "Destination account URI")
	flag.StringVar(&amount, "amount", "1", "Destination amount per payment")
	flag.Float64Var(&reuse, "reuse", 0.5, "Share of requests that retry a shared key (retry workload)")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	keys := newKeyPool(concurrency)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, keys)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// keyPool hands out idempotency keys. Under the retry workload some keys are
// shared across workers, which is what a client retrying after a timeout
// looks like to the server.
type keyPool struct {
	mu     sync.Mutex
	shared []string
}

func newKeyPool(n int) *keyPool {
	p := &keyPool{}
	for i := 0; i < n; i++ {
		p.shared = append(p.shared, uuid.NewString())
	}
	return p
}

func (p *keyPool) next() string {
	if workload != "retry" || rand.Float64() >= reuse {
		return uuid.NewString()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.shared[rand.Intn(len(p.shared))]
	// Rotate occasionally so replays and fresh executions stay mixed.
	if rand.Float64() < 0.1 {
		p.shared[rand.Intn(len(p.shared))] = uuid.NewString()
	}
	return key
}

func worker(wg *sync.WaitGroup, start time.Time, keys *keyPool) {
	defer wg.Done()
	client := &http.Client{Timeout: 30 * time.Second}

	payload := map[string]any{
		"source_account":      source,
		"destination_account": destination,
		"destination_amount":  amount,
	}
	body, _ := json.Marshal(payload)

	for time.Since(start) < duration {
		req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", keys.next())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.Header.Get("Idempotent-Replayed") == "true":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		case resp.StatusCode >= 500:
			atomic.AddUint64(&fail5xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	rep := atomic.LoadUint64(&replayed)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	f5xx := atomic.LoadUint64(&fail5xx)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var conflictRate float64
	if total > 0 {
		conflictRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_created":   s201,
		"success_replay":    rep,
		"conflict_inflight": f409,
		"conflict_rate_pct": conflictRate,
		"key_mismatch":      f422,
		"payment_failed":    f5xx,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
