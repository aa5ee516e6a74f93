package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/coinledger/coinledger-api/internal/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minOrders  = 15
	maxOrders  = 150
	numWorkers = 5

	initialDeposit = 1_000_000.0
)

var (
	coins = []struct {
		ID     string
		Symbol string
	}{
		{"bitcoin", "BTC"},
		{"ethereum", "ETH"},
		{"solana", "SOL"},
		{"cardano", "ADA"},
		{"dogecoin", "DOGE"},
	}
	sides = []string{"buy", "sell"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
	mu         sync.Mutex
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes min, max, mean, median, p95 and p99 durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the ledger API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient(baseURL string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"profile":   {name: "Create Profile"},
			"deposit":   {name: "Deposit"},
			"place":     {name: "Place Order"},
			"sweep":     {name: "Sweep"},
			"portfolio": {name: "Get Portfolio"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// envelope matches the API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (sc *simulationClient) do(stat, method, path string, payload interface{}, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[stat].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[stat].addFailure()
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[stat].addFailure()
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(env.Data, out)
}

func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}
	raw, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewBuffer(raw))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// placeOrder submits a random order and returns its id and status.
func (sc *simulationClient) placeOrder(workerID int) (orderID, status string, err error) {
	coin := coins[rand.Intn(len(coins))]
	order := map[string]interface{}{
		"coin_id":     coin.ID,
		"coin_symbol": coin.Symbol,
		"side":        sides[rand.Intn(len(sides))],
		"mode":        "market",
		"quantity":    float64(rand.Intn(100)+1) / 100.0,
	}
	// Roughly a third of orders are limit orders parked away from the
	// market so the sweep has work to do
	if rand.Intn(3) == 0 {
		order["mode"] = "limit"
		order["limit_price"] = float64(rand.Intn(90_000) + 1)
	}

	var placed struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := sc.do("place", http.MethodPost, "/api/v1/orders", order, &placed); err != nil {
		return "", "", err
	}
	if placed.OrderID == "" {
		return "", "", fmt.Errorf("no order ID in response")
	}

	log.Debug().
		Int("worker_id", workerID).
		Str("order_id", placed.OrderID).
		Str("status", placed.Status).
		Msg("order placed")

	return placed.OrderID, placed.Status, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the ledger simulation against a running API server:
// fund a profile, hammer the order endpoints from concurrent workers,
// trigger a sweep and report endpoint latencies.
func main() {
	baseURL := os.Getenv("SERVER_ADDRESS")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	simClient, err := newSimulationClient(baseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Profile may already exist from a previous run
	if err := simClient.do("profile", http.MethodPost, "/api/v1/portfolio", nil, nil); err != nil {
		log.Warn().Err(err).Msg("profile creation skipped")
	}
	if err := simClient.do("deposit", http.MethodPost, "/api/v1/portfolio/deposit",
		map[string]float64{"amount": initialDeposit}, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to fund profile")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	stats := struct {
		Placed    int
		Completed int
		Pending   int
		Failed    int
		StartTime time.Time
		mu        sync.Mutex
	}{StartTime: time.Now()}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				_, status, err := simClient.placeOrder(workerID)
				stats.mu.Lock()
				if err != nil {
					stats.Failed++
				} else {
					stats.Placed++
					if status == "completed" {
						stats.Completed++
					} else {
						stats.Pending++
					}
				}
				stats.mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Sweep any limit orders whose conditions are already met
	var report struct {
		Evaluated int `json:"evaluated"`
		Executed  int `json:"executed"`
		Skipped   int `json:"skipped"`
		Failed    int `json:"failed"`
	}
	if err := simClient.do("sweep", http.MethodPost, "/api/v1/internal/sweep", nil, &report); err != nil {
		log.Error().Err(err).Msg("Failed to trigger sweep")
	} else {
		log.Info().
			Int("evaluated", report.Evaluated).
			Int("executed", report.Executed).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("sweep finished")
	}

	var portfolio struct {
		Balance  float64 `json:"balance"`
		Holdings []struct {
			CoinID   string  `json:"coin_id"`
			Quantity float64 `json:"quantity"`
		} `json:"holdings"`
	}
	if err := simClient.do("portfolio", http.MethodGet, "/api/v1/portfolio", nil, &portfolio); err != nil {
		log.Error().Err(err).Msg("Failed to fetch portfolio")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("LEDGER SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Order Statistics
----------------
Placed:            %d
Completed:         %d
Still Pending:     %d
Failed:            %d
Swept (executed):  %d

Portfolio
---------
Cash Balance:      $%.2f
Distinct Holdings: %d

Duration:          %s
`,
		stats.Placed, stats.Completed, stats.Pending, stats.Failed,
		report.Executed,
		portfolio.Balance, len(portfolio.Holdings),
		duration.Round(time.Millisecond))

	simClient.printPerformanceStats()
}
