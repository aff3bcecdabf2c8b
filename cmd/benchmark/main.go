// Benchmark tool for load-testing Kestrel with synthetic sales data.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080
//
// This tool:
//   1. Seeds a set of contracts with pricing rules
//   2. Imports synthetic sales (or a CSV export) for each contract
//   3. Fires concurrent calculation requests at Kestrel
//   4. Reports throughput, latency, and result consistency across repeat runs
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SaleRecord is the sales import format.
type SaleRecord struct {
	ID          string  `json:"id"`
	Product     string  `json:"product"`
	Category    string  `json:"category,omitempty"`
	Territory   string  `json:"territory,omitempty"`
	Quantity    float64 `json:"quantity"`
	GrossAmount float64 `json:"grossAmount,omitempty"`
	Date        string  `json:"date"`
}

// CalculationResponse is the subset of the calculate response the benchmark
// cares about.
type CalculationResponse struct {
	ID             string   `json:"id"`
	TotalRoyalty   float64  `json:"totalRoyalty"`
	FinalRoyalty   float64  `json:"finalRoyalty"`
	UnmatchedSales int      `json:"unmatchedSales"`
	RulesApplied   []string `json:"rulesApplied"`
	SaleCount      int      `json:"saleCount"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalCalculations int64
	TotalErrors       int64
	TotalUnmatched    int64

	// Mismatches counts contract runs whose royalty differed from the first
	// run for the same contract. Royalty calculations must be repeatable.
	Mismatches int64

	ProcessingTimeMs int64
	MinLatencyMs     int64
	MaxLatencyMs     int64
}

var products = []string{"Pinot Noir", "Chardonnay Reserve", "Estate Riesling", "Sparkling Brut", "Cabernet Sauvignon"}
var territories = []string{"US - California", "US - Oregon", "Japan - Kansai", "UK", "Germany"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	csvPath := flag.String("csv", "", "Optional CSV sales export (product,territory,quantity,gross,date)")
	contracts := flag.Int("contracts", 10, "Number of contracts to seed")
	salesPer := flag.Int("sales", 1000, "Sales per contract")
	rounds := flag.Int("rounds", 5, "Calculation rounds per contract")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each calculation result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Royalty Calculation              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Contracts:   %d\n", *contracts)
	fmt.Printf("Sales each:  %d\n", *salesPer)
	fmt.Printf("Rounds:      %d\n", *rounds)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	client := &http.Client{Timeout: 30 * time.Second}

	var sales []SaleRecord
	if *csvPath != "" {
		fmt.Printf("\nReading sales from %s...\n", *csvPath)
		var err error
		sales, err = readSalesCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Loaded %d sales from CSV\n", len(sales))
	}

	fmt.Printf("\nSeeding %d contracts...\n", *contracts)
	contractIDs := make([]string, *contracts)
	for i := range contractIDs {
		contractID := fmt.Sprintf("bench-contract-%03d", i)
		contractIDs[i] = contractID

		if err := seedRules(client, *baseURL, *tenantID, contractID); err != nil {
			fmt.Printf("ERROR: Failed to seed rules for %s: %v\n", contractID, err)
			os.Exit(1)
		}

		batch := sales
		if batch == nil {
			batch = generateSales(*salesPer)
		}
		if err := importSales(client, *baseURL, *tenantID, contractID, batch); err != nil {
			fmt.Printf("ERROR: Failed to import sales for %s: %v\n", contractID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("✓ Seeded %d contracts\n", *contracts)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(contractIDs, *baseURL, *tenantID, *rounds, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if metrics.Mismatches > 0 {
		os.Exit(1)
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

// seedRules creates a tiered formula rule, a legacy seasonal rule, and a
// minimum guarantee for the contract.
func seedRules(client *http.Client, baseURL, tenantID, contractID string) error {
	rules := []map[string]any{
		{
			"id":         contractID + "-tiered",
			"contractId": contractID,
			"ruleName":   "Volume Tiered Rate",
			"priority":   1,
			"isActive":   true,
			"productCategories": []string{"wine"},
			"formulaDefinition": map[string]any{
				"name": "tiered-royalty",
				"root": map[string]any{
					"type": "multiply",
					"operands": []map[string]any{
						{"type": "reference", "field": "units"},
						{
							"type":  "tier",
							"field": "units",
							"tiers": []map[string]any{
								{"min": 0, "max": 5000, "rate": 100},
								{"min": 5001, "rate": 110},
							},
						},
					},
				},
			},
		},
		{
			"id":         contractID + "-fallback",
			"contractId": contractID,
			"ruleName":   "Fallback Rate",
			"priority":   100,
			"isActive":   true,
			"baseRate":   1.25,
			"seasonalAdjustments": map[string]float64{
				"Summer":  0.95,
				"Holiday": 1.10,
			},
		},
		{
			"id":               contractID + "-mg",
			"contractId":       contractID,
			"ruleName":         "Annual Minimum",
			"ruleType":         "minimum_guarantee",
			"isActive":         true,
			"minimumGuarantee": 50000,
		},
	}

	for _, rule := range rules {
		if err := postJSON(client, baseURL+"/api/v1/rules", tenantID, rule, nil); err != nil {
			return err
		}
	}
	return nil
}

func generateSales(n int) []SaleRecord {
	sales := make([]SaleRecord, n)
	for i := range sales {
		qty := float64(10 + rand.Intn(500))
		day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, rand.Intn(365))
		sales[i] = SaleRecord{
			ID:          fmt.Sprintf("sale-%06d", i),
			Product:     products[rand.Intn(len(products))],
			Category:    "wine",
			Territory:   territories[rand.Intn(len(territories))],
			Quantity:    qty,
			GrossAmount: qty * (8 + rand.Float64()*20),
			Date:        day.Format(time.RFC3339),
		}
	}
	return sales
}

func importSales(client *http.Client, baseURL, tenantID, contractID string, sales []SaleRecord) error {
	// Import in batches to keep request bodies reasonable.
	const batchSize = 500
	for i := 0; i < len(sales); i += batchSize {
		end := i + batchSize
		if end > len(sales) {
			end = len(sales)
		}
		body := map[string]any{
			"contractId": contractID,
			"sales":      sales[i:end],
		}
		if err := postJSON(client, baseURL+"/api/v1/sales", tenantID, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func readSalesCSV(path string) ([]SaleRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil { // header
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var sales []SaleRecord
	for i := 0; ; i++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(record) < 5 {
			continue // Skip malformed rows
		}

		qty, _ := strconv.ParseFloat(record[2], 64)
		gross, _ := strconv.ParseFloat(record[3], 64)
		sales = append(sales, SaleRecord{
			ID:          fmt.Sprintf("csv-sale-%06d", i),
			Product:     record[0],
			Territory:   record[1],
			Quantity:    qty,
			GrossAmount: gross,
			Date:        record[4],
		})
	}
	return sales, nil
}

type workItem struct {
	contractID string
	round      int
}

func runBenchmark(contractIDs []string, baseURL, tenantID string, rounds, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{MinLatencyMs: int64(^uint64(0) >> 1)}

	// First-run royalty per contract, for consistency checking.
	var mu sync.Mutex
	baseline := make(map[string]float64)

	work := make(chan workItem, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for item := range work {
				start := time.Now()
				var result CalculationResponse
				err := postJSON(client, fmt.Sprintf("%s/api/v1/contracts/%s/calculate", baseURL, item.contractID), tenantID, map[string]any{}, &result)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalCalculations, 1)
				updateLatency(metrics, elapsed)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s round %d -> %v\n", item.contractID, item.round, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalUnmatched, int64(result.UnmatchedSales))

				mu.Lock()
				prev, seen := baseline[item.contractID]
				if !seen {
					baseline[item.contractID] = result.FinalRoyalty
				}
				mu.Unlock()
				if seen && prev != result.FinalRoyalty {
					atomic.AddInt64(&metrics.Mismatches, 1)
					fmt.Printf("MISMATCH: %s round %d: %.2f != %.2f\n", item.contractID, item.round, result.FinalRoyalty, prev)
				}

				if verbose {
					fmt.Printf("%s round %d: royalty=%.2f sales=%d unmatched=%d (%dms)\n",
						item.contractID, item.round, result.FinalRoyalty, result.SaleCount, result.UnmatchedSales, elapsed)
				}
			}
		}()
	}

	for round := 0; round < rounds; round++ {
		for _, contractID := range contractIDs {
			work <- workItem{contractID: contractID, round: round}
		}
	}
	close(work)
	wg.Wait()

	return metrics
}

func updateLatency(m *Metrics, elapsed int64) {
	for {
		cur := atomic.LoadInt64(&m.MinLatencyMs)
		if elapsed >= cur || atomic.CompareAndSwapInt64(&m.MinLatencyMs, cur, elapsed) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&m.MaxLatencyMs)
		if elapsed <= cur || atomic.CompareAndSwapInt64(&m.MaxLatencyMs, cur, elapsed) {
			break
		}
	}
}

func postJSON(client *http.Client, url, tenantID string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        RESULTS                                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nCalculations:  %d\n", m.TotalCalculations)
	fmt.Printf("Errors:        %d\n", m.TotalErrors)
	fmt.Printf("Mismatches:    %d\n", m.Mismatches)
	fmt.Printf("Unmatched:     %d sale evaluations\n", m.TotalUnmatched)

	fmt.Printf("\nWall time:     %s\n", duration.Round(time.Millisecond))
	if m.TotalCalculations > 0 {
		fmt.Printf("Throughput:    %.1f calc/sec\n", float64(m.TotalCalculations)/duration.Seconds())
		fmt.Printf("Avg latency:   %dms\n", m.ProcessingTimeMs/m.TotalCalculations)
		fmt.Printf("Min latency:   %dms\n", m.MinLatencyMs)
		fmt.Printf("Max latency:   %dms\n", m.MaxLatencyMs)
	}

	if m.Mismatches == 0 {
		fmt.Println("\n✓ All repeat calculations produced identical royalties")
	} else {
		fmt.Println("\n✗ Repeat calculations diverged - results are not repeatable")
	}
	fmt.Println()
}
