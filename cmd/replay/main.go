// Replay tool for exercising Kestrel with synthetic transaction traffic.
//
// Usage:
//   go run cmd/replay/main.go -count 1000 -url http://localhost:8080
//
// This tool:
//   1. Generates synthetic bank transfers (a configurable share risky)
//   2. Submits each transaction to Kestrel for triage
//   3. Tallies labels, decisions and verdicts from the responses
//   4. Reports throughput and latency
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
)

// SubmitRequest mirrors the Kestrel POST /transactions payload.
type SubmitRequest struct {
	Transaction Transaction `json:"transaction"`
	Profile     Profile     `json:"profile"`
}

type Transaction struct {
	CustomerID         string    `json:"customerId"`
	Beneficiary        string    `json:"beneficiary"`
	Amount             float64   `json:"amount"`
	Currency           string    `json:"currency"`
	DestinationCountry string    `json:"destinationCountry"`
	Channel            string    `json:"channel"`
	Timestamp          time.Time `json:"timestamp"`
}

type Profile struct {
	CustomerID    string  `json:"customerId"`
	KYCVerified   bool    `json:"kycVerified"`
	KYCKnown      bool    `json:"kycKnown"`
	PEP           bool    `json:"pep"`
	Nationality   string  `json:"nationality"`
	AverageAmount float64 `json:"averageAmount"`
	DeviceTrusted bool    `json:"deviceTrusted"`
}

// SubmitResponse is the subset of the triage response the replay needs.
type SubmitResponse struct {
	TxID     string `json:"txId"`
	Status   string `json:"status"`
	Alert    *struct {
		Label string `json:"label"`
	} `json:"alert"`
	Decision *struct {
		Action string `json:"action"`
		CaseID string `json:"caseId"`
	} `json:"decision"`
	Case     *struct {
		Status      string `json:"status"`
		Disposition *struct {
			Verdict string `json:"verdict"`
		} `json:"disposition"`
	} `json:"case"`
}

// Tally aggregates replay outcomes.
type Tally struct {
	mu        sync.Mutex
	labels    map[string]int
	decisions map[string]int
	verdicts  map[string]int

	submitted int64
	errors    int64
	latencyMs int64
}

func newTally() *Tally {
	return &Tally{
		labels:    make(map[string]int),
		decisions: make(map[string]int),
		verdicts:  make(map[string]int),
	}
}

func (t *Tally) record(resp *SubmitResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if resp.Alert != nil {
		t.labels[resp.Alert.Label]++
	}
	if resp.Decision != nil {
		t.decisions[resp.Decision.Action]++
	}
	if resp.Case != nil && resp.Case.Disposition != nil {
		t.verdicts[resp.Case.Disposition.Verdict]++
	}
}

var riskCountries = []string{"Iran", "North Korea", "Syria", "Myanmar"}
var safeCountries = []string{"Saudi Arabia", "UAE", "Germany", "UK", "USA"}
var channels = []string{"online", "mobile", "branch"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "replay-test", "Tenant ID for requests")
	count := flag.Int("count", 1000, "Number of transactions to submit")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	riskRate := flag.Float64("risk", 0.1, "Share of risky transactions (0.0-1.0)")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible traffic")
	verbose := flag.Bool("verbose", false, "Print each triage result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║             KESTREL REPLAY - Synthetic Triage Load            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Risk Rate:   %.2f\n", *riskRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))
	requests := make([]SubmitRequest, 0, *count)
	for i := 0; i < *count; i++ {
		requests = append(requests, generate(rng, i, rng.Float64() < *riskRate))
	}

	fmt.Printf("\nSubmitting %d transactions with %d workers...\n", len(requests), *workers)
	start := time.Now()
	tally := runReplay(requests, *baseURL, *tenantID, *workers, *verbose)
	printResults(tally, time.Since(start))
}

// generate builds one synthetic submission. Risky traffic combines a
// large amount, a sanctioned destination, a night timestamp and weak
// customer standing; benign traffic stays near the customer average.
func generate(rng *rand.Rand, i int, risky bool) SubmitRequest {
	customerID := fmt.Sprintf("CUST-%04d", rng.Intn(200))
	avg := 300 + rng.Float64()*3000

	if risky {
		return SubmitRequest{
			Transaction: Transaction{
				CustomerID:         customerID,
				Beneficiary:        fmt.Sprintf("ACC-R%04d", i),
				Amount:             avg * (5 + rng.Float64()*10),
				Currency:           "SAR",
				DestinationCountry: riskCountries[rng.Intn(len(riskCountries))],
				Channel:            channels[rng.Intn(len(channels))],
				Timestamp:          time.Now().UTC().Truncate(24 * time.Hour).Add(time.Duration(rng.Intn(5)) * time.Hour),
			},
			Profile: Profile{
				CustomerID:    customerID,
				KYCVerified:   false,
				KYCKnown:      true,
				PEP:           rng.Float64() < 0.2,
				Nationality:   "Saudi Arabia",
				AverageAmount: avg,
				DeviceTrusted: false,
			},
		}
	}

	return SubmitRequest{
		Transaction: Transaction{
			CustomerID:         customerID,
			Beneficiary:        fmt.Sprintf("ACC-%04d", rng.Intn(50)),
			Amount:             avg * (0.5 + rng.Float64()),
			Currency:           "SAR",
			DestinationCountry: safeCountries[rng.Intn(len(safeCountries))],
			Channel:            channels[rng.Intn(len(channels))],
			Timestamp:          time.Now().UTC().Truncate(24 * time.Hour).Add(time.Duration(9+rng.Intn(9)) * time.Hour),
		},
		Profile: Profile{
			CustomerID:    customerID,
			KYCVerified:   true,
			KYCKnown:      true,
			Nationality:   "Saudi Arabia",
			AverageAmount: avg,
			DeviceTrusted: true,
		},
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runReplay(requests []SubmitRequest, baseURL, tenantID string, numWorkers int, verbose bool) *Tally {
	tally := newTally()

	work := make(chan SubmitRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 15 * time.Second}

			for req := range work {
				start := time.Now()
				result, err := submit(client, baseURL, tenantID, req)
				atomic.AddInt64(&tally.latencyMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&tally.submitted, 1)

				if err != nil {
					atomic.AddInt64(&tally.errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.Transaction.CustomerID, err)
					}
					continue
				}

				tally.record(result)

				if verbose {
					label, action := "-", "-"
					if result.Alert != nil {
						label = result.Alert.Label
					}
					if result.Decision != nil {
						action = result.Decision.Action
					}
					fmt.Printf("%s | %-12s | %10.2f -> %-12s | %-11s | %s\n",
						result.TxID,
						req.Transaction.CustomerID,
						req.Transaction.Amount,
						req.Transaction.DestinationCountry,
						label,
						action,
					)
				}
			}
		}()
	}

	for _, req := range requests {
		work <- req
	}
	close(work)
	wg.Wait()

	return tally
}

func submit(client *http.Client, baseURL, tenantID string, req SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(t *Tally, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Submitted:  %d\n", t.submitted)
	fmt.Printf("   Errors:     %d\n", t.errors)

	fmt.Printf("\n🏷️  LABELS\n")
	for _, label := range []string{"NON_FRAUD", "INVESTIGATE", "FLAGGED"} {
		fmt.Printf("   %-12s %d\n", label, t.labels[label])
	}

	fmt.Printf("\n⚖️  DECISIONS\n")
	for _, action := range []string{"CLOSE", "REQUEST_MORE_INFO", "CREATE_CASE"} {
		fmt.Printf("   %-18s %d\n", action, t.decisions[action])
	}

	fmt.Printf("\n🔍 VERDICTS\n")
	for _, verdict := range []string{"LEGITIMATE", "SUSPECTED_FRAUD", "CONFIRMED_FRAUD"} {
		fmt.Printf("   %-16s %d\n", verdict, t.verdicts[verdict])
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if t.submitted > 0 {
		avgMs := float64(t.latencyMs) / float64(t.submitted)
		tps := float64(t.submitted) / duration.Seconds()
		fmt.Printf("   Avg Latency:     %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:      %.2f tx/sec\n", tps)
	}
	fmt.Println()
}
