// Replay tool for scoring Heron against a labelled transaction file.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/transactions.csv -url http://localhost:8080
//
// The CSV needs a header with at least sender, receiver, amount, currency and
// country. Optional columns: id, dob, manual_flag and expected_alert. When
// expected_alert is present the tool prints a confusion matrix.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Row is one replayed transaction with its optional label.
type Row struct {
	Request  domain.TransactionRequest
	Labelled bool
	Expected bool
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	Processed  int64
	Alerts     int64
	Invalid    int64
	Failed     int64
	Errors     int64
	Labelled   int64
	DurationMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	token := flag.String("token", os.Getenv("HERON_TOKEN"), "Bearer token for the ingestion role")
	limit := flag.Int("limit", 0, "Maximum transactions to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := readRows(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(rows), *csvPath)

	start := time.Now()
	m := replay(rows, *baseURL, *token, *workers, *verbose)
	printResults(m, time.Since(start))
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

// readRows parses the CSV. Rows with an unparseable amount are skipped.
func readRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"sender", "receiver", "amount", "currency", "country"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		amount, err := decimal.NewFromString(field(record, "amount"))
		if err != nil {
			continue
		}

		row := Row{Request: domain.TransactionRequest{
			ID:       field(record, "id"),
			Sender:   field(record, "sender"),
			Receiver: field(record, "receiver"),
			Amount:   amount,
			Currency: field(record, "currency"),
			Country:  field(record, "country"),
			DOB:      field(record, "dob"),
		}}
		if flagged, _ := strconv.ParseBool(field(record, "manual_flag")); flagged {
			row.Request.Metadata = map[string]string{domain.ManualFlagKey: "true"}
		}
		if v := field(record, "expected_alert"); v != "" {
			row.Expected, _ = strconv.ParseBool(v)
			row.Labelled = true
		}

		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func replay(rows []Row, baseURL, token string, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{}
	work := make(chan Row, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := evaluate(client, baseURL, token, row.Request)
				atomic.AddInt64(&m.DurationMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.Processed, 1)

				if err != nil {
					atomic.AddInt64(&m.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.Request.Sender, err)
					}
					continue
				}
				m.record(row, result)

				if verbose {
					fmt.Printf("%-24s | %12s %-3s | %-12s | %-17s | alert=%-5v risk=%d\n",
						row.Request.Sender,
						row.Request.Amount.StringFixed(2),
						row.Request.Currency,
						row.Request.Country,
						result.Status,
						result.AlertGenerated,
						result.RiskScore,
					)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return m
}

func (m *Metrics) record(row Row, result *domain.IngestionResult) {
	switch result.Status {
	case domain.StatusInvalidInput:
		atomic.AddInt64(&m.Invalid, 1)
		return
	case domain.StatusEvaluationFailed:
		atomic.AddInt64(&m.Failed, 1)
		return
	}
	if result.AlertGenerated {
		atomic.AddInt64(&m.Alerts, 1)
	}
	if !row.Labelled {
		return
	}
	atomic.AddInt64(&m.Labelled, 1)

	switch predicted := result.AlertGenerated; {
	case predicted && row.Expected:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !row.Expected:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !row.Expected:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func evaluate(client *http.Client, baseURL, token string, req domain.TransactionRequest) (*domain.IngestionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 400 and 500 still carry an IngestionResult.
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("status %d: ingestion role required", resp.StatusCode)
	}

	var result domain.IngestionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n==================== REPLAY RESULTS ====================")
	fmt.Printf("  Processed:      %d\n", m.Processed)
	fmt.Printf("  Alerts:         %d\n", m.Alerts)
	fmt.Printf("  Invalid input:  %d\n", m.Invalid)
	fmt.Printf("  Failed:         %d\n", m.Failed)
	fmt.Printf("  Errors:         %d\n", m.Errors)

	if m.Labelled > 0 {
		fmt.Println("\n  Confusion matrix (labelled rows)")
		fmt.Println("                  alert    no alert")
		fmt.Printf("    expected    %8d  %8d\n", m.TruePositives, m.FalseNegatives)
		fmt.Printf("    clean       %8d  %8d\n", m.FalsePositives, m.TrueNegatives)

		precision, recall := 0.0, 0.0
		if tp := m.TruePositives + m.FalsePositives; tp > 0 {
			precision = float64(m.TruePositives) / float64(tp)
		}
		if p := m.TruePositives + m.FalseNegatives; p > 0 {
			recall = float64(m.TruePositives) / float64(p)
		}
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		fmt.Printf("\n  Precision: %.3f  Recall: %.3f  F1: %.3f\n", precision, recall, f1)
	}

	fmt.Printf("\n  Wall time: %v\n", duration.Round(time.Millisecond))
	if m.Processed > 0 {
		fmt.Printf("  Avg latency: %.1f ms\n", float64(m.DurationMs)/float64(m.Processed))
		fmt.Printf("  Throughput:  %.1f tx/s\n", float64(m.Processed)/duration.Seconds())
	}
}
