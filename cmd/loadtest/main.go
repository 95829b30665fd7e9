package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAmount = "100.00"
	submitPath    = "/api/v1/payments"
)

type loadMode string

const (
	modeSubmit       loadMode = "submit"
	modeSubmitStatus loadMode = "submit-status"
	modeSubmitCancel loadMode = "submit-cancel"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	currency    string
	amount      string
	accountTag  string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if statusCode >= 200 && statusCode < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[codeLabel(statusCode)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func codeLabel(statusCode int) string {
	if statusCode <= 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%d", statusCode)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the payment API")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeSubmit), "load mode: submit | submit-status | submit-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for submit-status mode (0..100)")
	flag.StringVar(&cfg.currency, "currency", "USD", "payment currency")
	flag.StringVar(&cfg.amount, "amount", defaultAmount, "payment amount as decimal string")
	flag.StringVar(&cfg.accountTag, "account-tag", "load", "source account prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if strings.TrimSpace(cfg.baseURL) == "" {
		return cfg, errors.New("url is required")
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.currency) == "" {
		return cfg, errors.New("currency is required")
	}
	if strings.TrimSpace(cfg.amount) == "" {
		return cfg, errors.New("amount is required")
	}
	if strings.TrimSpace(cfg.accountTag) == "" {
		return cfg, errors.New("account-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeSubmit:
		return modeSubmit, nil
	case modeSubmitStatus:
		return modeSubmitStatus, nil
	case modeSubmitCancel:
		return modeSubmitCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.timeout}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type submitRequest struct {
	IdempotencyKey     string `json:"idempotency_key"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Description        string `json:"description,omitempty"`
}

type submitResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func runScenario(
	client *http.Client,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioCode := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	submit := submitRequest{
		IdempotencyKey:     fmt.Sprintf("lt-%s-%d", runID, index),
		Amount:             cfg.amount,
		Currency:           cfg.currency,
		SourceAccount:      fmt.Sprintf("%s-src-%s-%d", cfg.accountTag, runID, index),
		DestinationAccount: fmt.Sprintf("%s-dst-%s", cfg.accountTag, runID),
		Description:        "load test payment",
	}

	resp, statusCode, err := callSubmitPayment(client, cfg, submit, col)
	if err != nil {
		scenarioCode = statusCode
		return err
	}
	if resp.TransactionID == "" {
		scenarioCode = http.StatusInternalServerError
		return errors.New("submit response returned empty transaction id")
	}

	if cfg.mode == modeSubmit {
		return nil
	}

	if statusCode, err = callGetPayment(client, cfg, resp.TransactionID, col); err != nil {
		scenarioCode = statusCode
		return err
	}

	if cfg.mode == modeSubmitCancel || (cfg.mode == modeSubmitStatus && shouldCancelScenario(index, cfg.cancelRate)) {
		// Отмена гонится с асинхронным settlement'ом: платёж может уже быть
		// терминальным. 409 здесь не считается ошибкой сценария.
		if statusCode, err = callCancelPayment(client, cfg, resp.TransactionID, col); err != nil && statusCode != http.StatusConflict {
			scenarioCode = statusCode
			return err
		}
	}

	return nil
}

func callSubmitPayment(client *http.Client, cfg config, req submitRequest, col *collector) (submitResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return submitResponse{}, http.StatusInternalServerError, err
	}

	start := time.Now()
	httpResp, err := client.Post(cfg.baseURL+submitPath, "application/json", bytes.NewReader(body))
	if err != nil {
		col.record("SubmitPayment", time.Since(start), 0)
		return submitResponse{}, 0, err
	}
	defer drainAndClose(httpResp.Body)
	col.record("SubmitPayment", time.Since(start), httpResp.StatusCode)

	if httpResp.StatusCode != http.StatusAccepted && httpResp.StatusCode != http.StatusOK {
		return submitResponse{}, httpResp.StatusCode, fmt.Errorf("submit payment: unexpected status %d", httpResp.StatusCode)
	}

	var resp submitResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return submitResponse{}, http.StatusInternalServerError, fmt.Errorf("decode submit response: %w", err)
	}
	return resp, httpResp.StatusCode, nil
}

func callGetPayment(client *http.Client, cfg config, transactionID string, col *collector) (int, error) {
	start := time.Now()
	httpResp, err := client.Get(cfg.baseURL + submitPath + "/" + transactionID)
	if err != nil {
		col.record("GetPayment", time.Since(start), 0)
		return 0, err
	}
	defer drainAndClose(httpResp.Body)
	col.record("GetPayment", time.Since(start), httpResp.StatusCode)

	if httpResp.StatusCode != http.StatusOK {
		return httpResp.StatusCode, fmt.Errorf("get payment: unexpected status %d", httpResp.StatusCode)
	}
	return httpResp.StatusCode, nil
}

func callCancelPayment(client *http.Client, cfg config, transactionID string, col *collector) (int, error) {
	body := []byte(`{"reason":"load-cancel"}`)

	start := time.Now()
	httpResp, err := client.Post(cfg.baseURL+submitPath+"/"+transactionID+"/cancel", "application/json", bytes.NewReader(body))
	if err != nil {
		col.record("CancelPayment", time.Since(start), 0)
		return 0, err
	}
	defer drainAndClose(httpResp.Body)
	col.record("CancelPayment", time.Since(start), httpResp.StatusCode)

	if httpResp.StatusCode != http.StatusOK {
		return httpResp.StatusCode, fmt.Errorf("cancel payment: unexpected status %d", httpResp.StatusCode)
	}
	return httpResp.StatusCode, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
