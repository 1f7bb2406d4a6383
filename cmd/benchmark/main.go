package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/api"
	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/logger"
)

// Benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	secret      string
	buyers      int
	sellers     int
	orderAmount int64
)

// Metrics
var (
	totalOrders   uint64
	holds201      uint64
	releases200   uint64
	conflicts409  uint64 // duplicate or invalid transitions
	rejected422   uint64 // insufficient funds, verification, etc.
	unavailable   uint64
	failOther     uint64
	releaseMethod sync.Map // domain.ReleaseMethod -> *uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "JWT secret; headers are used when empty")
	flag.IntVar(&buyers, "buyers", 1000, "Seeded buyer wallets (bench-buyer-NNNN)")
	flag.IntVar(&sellers, "sellers", 100, "Seeded seller wallets (bench-seller-NNNN)")
	flag.Int64Var(&orderAmount, "amount", 1000, "Order amount in minor units")
}

var log = logger.New()

type client struct {
	http  *http.Client
	actor domain.Actor
	token string
}

func newClient(actor domain.Actor) *client {
	c := &client{http: &http.Client{Timeout: 5 * time.Second}, actor: actor}
	if secret != "" {
		token, err := api.IssueToken(secret, actor, duration+time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		c.token = token
	}
	return c
}

// post sends body and decodes a 2xx response into out. It returns the
// status code, or 0 on a transport error.
func (c *client) post(path string, body, out any) int {
	payload, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, targetURL+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("X-Actor-ID", c.actor.ID)
		req.Header.Set("X-Actor-Role", string(c.actor.Role))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0
		}
	}
	return resp.StatusCode
}

func main() {
	flag.Parse()
	log.Info().Str("workload", workload).Int("workers", concurrency).Dur("duration", duration).Msg("starting benchmark")

	checkout := newClient(domain.Actor{ID: "bench-checkout", Role: domain.RoleService})
	sellerWallets := make([]uuid.UUID, sellers)
	for i := range sellerWallets {
		var w domain.Wallet
		status := checkout.post("/api/v1/wallets", domain.OpenWalletRequest{UserID: sellerID(i)}, &w)
		if status != http.StatusCreated {
			log.Fatal().Int("status", status).Str("seller", sellerID(i)).Msg("open seller wallet")
		}
		sellerWallets[i] = w.ID
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, checkout, sellerWallets)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func sellerID(i int) string { return fmt.Sprintf("bench-seller-%04d", i) }

// worker drives the checkout lifecycle: hold, split, release.
func worker(wg *sync.WaitGroup, start time.Time, c *client, sellerWallets []uuid.UUID) {
	defer wg.Done()

	for time.Since(start) < duration {
		buyer := pickBuyer()
		seller := sellerWallets[rand.Intn(len(sellerWallets))]
		atomic.AddUint64(&totalOrders, 1)

		var reserve domain.ReserveResponse
		status := c.post("/api/v1/reserves", domain.HoldReserveRequest{
			OrderID: "bench-" + uuid.NewString(),
			BuyerID: fmt.Sprintf("bench-buyer-%04d", buyer),
			Amount:  orderAmount,
		}, &reserve)
		if !count(status, http.StatusCreated, &holds201) {
			continue
		}

		var splits domain.CreateSplitsResponse
		status = c.post(fmt.Sprintf("/api/v1/reserves/%s/splits", reserve.ReserveID), domain.CreateSplitsRequest{
			ReserveID: reserve.ReserveID,
			Shares:    []domain.Share{{PayeeWalletID: seller, GrossAmount: orderAmount}},
		}, &splits)
		if !count(status, http.StatusCreated, nil) || len(splits.SplitIDs) == 0 {
			continue
		}

		var rel domain.ReleaseSplitResponse
		status = c.post(fmt.Sprintf("/api/v1/splits/%s/release", splits.SplitIDs[0]), domain.ReleaseSplitRequest{
			SplitID:           splits.SplitIDs[0],
			DeliveryConfirmed: true,
			Proof:             &domain.Proof{OTP: splits.DeliveryOTP, QRToken: splits.QRToken},
		}, &rel)
		if count(status, http.StatusOK, &releases200) {
			n, _ := releaseMethod.LoadOrStore(rel.ReleaseMethod, new(uint64))
			atomic.AddUint64(n.(*uint64), 1)
		}
	}
}

// count classifies status and reports whether it was the expected one.
func count(status, want int, ok *uint64) bool {
	switch status {
	case want:
		if ok != nil {
			atomic.AddUint64(ok, 1)
		}
		return true
	case http.StatusConflict:
		atomic.AddUint64(&conflicts409, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddUint64(&rejected422, 1)
	case http.StatusServiceUnavailable:
		atomic.AddUint64(&unavailable, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
	return false
}

func pickBuyer() int {
	if workload == "hotspot" {
		// Hotspot: 90% of orders debit the same two buyers
		if rand.Float32() < 0.90 {
			return rand.Intn(2)
		}
	}
	return rand.Intn(buyers)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalOrders)
	released := atomic.LoadUint64(&releases200)

	methods := map[string]uint64{}
	releaseMethod.Range(func(k, v any) bool {
		methods[string(k.(domain.ReleaseMethod))] = atomic.LoadUint64(v.(*uint64))
		return true
	})

	results := map[string]interface{}{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"orders_attempted":    total,
		"orders_per_sec":      float64(total) / d.Seconds(),
		"reserves_held":       atomic.LoadUint64(&holds201),
		"splits_released":     released,
		"release_methods":     methods,
		"conflicts":           atomic.LoadUint64(&conflicts409),
		"rejected":            atomic.LoadUint64(&rejected422),
		"unavailable":         atomic.LoadUint64(&unavailable),
		"errors":              atomic.LoadUint64(&failOther),
		"completion_rate_pct": float64(released) / float64(max(total, 1)) * 100,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Error().Err(err).Str("file", filename).Msg("save results")
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
