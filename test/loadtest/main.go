// Package main implements a load test harness for the aggregation orchestrator.
// It submits synthetic jobs through the fan-out path, answers every dispatched
// request with simulated provider workers, and measures how long jobs take to
// settle along with throughput and error rate.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -concurrency 8 \
//	  -duration 30s \
//	  -chains ethereum,base \
//	  -accounts 2 \
//	  -failure-rate 0.05 \
//	  -verify
//
// Pass -redis-url to run against redis backends instead of in-memory ones.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/bus"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/orchestrator"
	"github.com/emperorhan/aggregation-orchestrator/internal/provider"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/store/memory"
	redispkg "github.com/emperorhan/aggregation-orchestrator/internal/store/redis"
	"github.com/ethereum/go-ethereum/common"
)

const (
	outcomeStream = "loadtest.outcome"
	settleTimeout = 30 * time.Second
	pollInterval  = 5 * time.Millisecond
)

func main() {
	var (
		redisURL      = flag.String("redis-url", "", "Redis connection string; empty runs in-memory backends")
		concurrency   = flag.Int("concurrency", 4, "Number of parallel job submitters")
		duration      = flag.Duration("duration", 30*time.Second, "Test duration")
		chainsFlag    = flag.String("chains", "ethereum,base", "Comma-separated chains requested per job")
		accountsFlag  = flag.Int("accounts", 1, "Accounts per job")
		failureRate   = flag.Float64("failure-rate", 0, "Fraction of combos the simulated workers fail")
		workerLatency = flag.Duration("worker-latency", 2*time.Millisecond, "Simulated provider latency per request")
		codecName     = flag.String("codec", redispkg.CodecNameJSON, "Bus codec (json or msgpack)")
		verify        = flag.Bool("verify", false, "Run post-load-test job accounting verification")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	chains := splitChains(*chainsFlag)
	fmt.Fprintf(os.Stderr, "load test: concurrency=%d duration=%s chains=%v accounts=%d failure_rate=%.2f codec=%s redis=%t\n",
		*concurrency, *duration, chains, *accountsFlag, *failureRate, *codecName, *redisURL != "")

	ctx, cancel := context.WithTimeout(context.Background(), *duration+settleTimeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	h, err := newHarness(ctx, *redisURL, *codecName, logger)
	if err != nil {
		logger.Error("failed to build harness", "error", err)
		os.Exit(1)
	}
	defer h.close()

	// Simulated provider workers answer every request until the test ends.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workersWG sync.WaitGroup
	for _, id := range h.matrix.Registry().IDs() {
		workersWG.Add(1)
		go func(id model.ProviderID) {
			defer workersWG.Done()
			h.simulateProvider(workerCtx, id, *failureRate, *workerLatency)
		}(id)
	}
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- h.consumer.Run(workerCtx) }()

	var (
		totalJobs   atomic.Int64
		totalCombos atomic.Int64
		totalErrors atomic.Int64
		latenciesMu sync.Mutex
		latenciesNs []int64
		jobIDsMu    sync.Mutex
		jobIDs      []string
	)

	recordLatency := func(d time.Duration) {
		latenciesMu.Lock()
		latenciesNs = append(latenciesNs, d.Nanoseconds())
		latenciesMu.Unlock()
	}

	submitter := func(workerID int) {
		deadline := time.Now().Add(*duration)
		for time.Now().Before(deadline) && ctx.Err() == nil {
			start := time.Now()
			jobID, err := h.fanout.Ensure(ctx, orchestrator.EnsureRequest{
				Accounts: randomAccounts(*accountsFlag),
				Chains:   chains,
			})
			if err != nil {
				logger.Warn("ensure failed", "worker", workerID, "error", err)
				totalErrors.Add(1)
				continue
			}

			snap, err := h.waitSettled(ctx, jobID)
			if err != nil {
				logger.Warn("job did not settle", "worker", workerID, "job_id", jobID, "error", err)
				totalErrors.Add(1)
				continue
			}

			recordLatency(time.Since(start))
			totalJobs.Add(1)
			totalCombos.Add(int64(snap.Expected))
			jobIDsMu.Lock()
			jobIDs = append(jobIDs, jobID)
			jobIDsMu.Unlock()
		}
	}

	testStart := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			submitter(id)
		}(i)
	}
	wg.Wait()
	testDuration := time.Since(testStart)

	stopWorkers()
	workersWG.Wait()
	if err := <-consumerDone; err != nil && ctx.Err() == nil {
		logger.Warn("consumer finished with error", "error", err)
	}

	jobs := totalJobs.Load()
	combos := totalCombos.Load()
	errCount := totalErrors.Load()

	latenciesMu.Lock()
	allLatencies := make([]int64, len(latenciesNs))
	copy(allLatencies, latenciesNs)
	latenciesMu.Unlock()
	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

	errorRate := float64(0)
	if attempts := jobs + errCount; attempts > 0 {
		errorRate = float64(errCount) / float64(attempts) * 100
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       LOAD TEST RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:       %s\n", testDuration.Round(time.Millisecond))
	fmt.Printf("Submitters:     %d\n", *concurrency)
	fmt.Printf("Accounts/job:   %d\n", *accountsFlag)
	fmt.Printf("Chains:         %s\n", strings.Join(chains, ","))
	fmt.Println("----------------------------------------")
	fmt.Println("Throughput:")
	fmt.Printf("  Jobs:         %d\n", jobs)
	fmt.Printf("  Combos:       %d\n", combos)
	fmt.Printf("  Jobs/sec:     %.2f\n", float64(jobs)/testDuration.Seconds())
	fmt.Printf("  Combos/sec:   %.2f\n", float64(combos)/testDuration.Seconds())
	fmt.Println("----------------------------------------")
	fmt.Println("Latency (ensure to settled):")
	fmt.Printf("  p50:          %s\n", formatNanos(percentile(allLatencies, 50)))
	fmt.Printf("  p95:          %s\n", formatNanos(percentile(allLatencies, 95)))
	fmt.Printf("  p99:          %s\n", formatNanos(percentile(allLatencies, 99)))
	fmt.Println("----------------------------------------")
	fmt.Println("Errors:")
	fmt.Printf("  Total:        %d\n", errCount)
	fmt.Printf("  Error rate:   %.2f%%\n", errorRate)
	fmt.Println("========================================")

	if *verify {
		verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 60*time.Second)
		failed := verifyJobAccounting(verifyCtx, h.query, jobIDs, *failureRate == 0)
		verifyCancel()
		if failed {
			errCount++
		}
	}

	if errCount > 0 {
		os.Exit(1)
	}
}

// harness holds the orchestrator services under test.
type harness struct {
	store     store.Store
	transport redispkg.MessageTransport
	matrix    *provider.Matrix
	publisher *bus.Publisher
	fanout    *orchestrator.Fanout
	query     *orchestrator.QueryService
	consumer  *orchestrator.Consumer
	closeFn   func()
}

func newHarness(ctx context.Context, redisURL, codecName string, logger *slog.Logger) (*harness, error) {
	codec, err := redispkg.GetCodec(codecName)
	if err != nil {
		return nil, err
	}

	h := &harness{closeFn: func() {}}
	if redisURL == "" {
		h.store = memory.New()
		h.transport = redispkg.NewInMemoryStreamWithCodec(codec)
	} else {
		client, err := redispkg.NewClient(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		prefix := fmt.Sprintf("loadtest:%d:", time.Now().UnixNano())
		h.store = redispkg.NewJobStore(client, prefix)
		h.transport = redispkg.NewStream(client, prefix, redispkg.WithCodec(codec))
		h.closeFn = func() { _ = client.Close() }
	}

	h.matrix = provider.NewMatrix(provider.DefaultRegistry(), provider.WithLogger(logger))
	h.publisher = bus.NewPublisher(h.transport, logger, bus.WithRoutingPrefix("loadtest.request."))
	tracker := orchestrator.NewTracker(h.store, logger)
	h.fanout = orchestrator.NewFanout(h.store, h.matrix, h.publisher, tracker, orchestrator.FanoutConfig{
		JobTTL:             10 * time.Minute,
		MaxAccounts:        8,
		PublishConcurrency: 16,
	}, logger)
	h.query = orchestrator.NewQueryService(h.store, logger)
	h.consumer = orchestrator.NewConsumer(h.transport, tracker, orchestrator.ConsumerConfig{
		Stream: outcomeStream,
	}, logger)
	return h, nil
}

func (h *harness) close() {
	_ = h.transport.Close()
	h.closeFn()
}

// simulateProvider plays one provider's worker pool: every request is
// answered with one outcome report per requested chain.
func (h *harness) simulateProvider(ctx context.Context, id model.ProviderID, failureRate float64, latency time.Duration) {
	stream := h.publisher.RoutingKey(id)
	lastID := ""
	for {
		var req event.IntegrationRequest
		msgID, err := h.transport.Read(ctx, stream, lastID, &req)
		if ctx.Err() != nil {
			return
		}
		if msgID != "" {
			lastID = msgID
		}
		if err != nil {
			continue
		}

		if latency > 0 {
			time.Sleep(latency)
		}
		for _, chain := range req.Chains {
			report := event.OutcomeReport{
				JobID:    req.JobID,
				Provider: id,
				Chain:    string(chain),
				Account:  req.Account,
				Outcome:  model.OutcomeSuccess,
				Payload:  json.RawMessage(fmt.Sprintf(`{"provider":%q,"chain":%q,"positions":[]}`, id, chain)),
			}
			if failureRate > 0 && mathrand.Float64() < failureRate {
				report.Outcome = model.OutcomeFailure
				report.Payload = nil
				report.Error = "simulated provider failure"
			}
			if _, err := h.transport.Publish(ctx, outcomeStream, report); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "publish outcome for %s: %v\n", req.JobID, err)
			}
		}
	}
}

// waitSettled polls the read model until the job reaches a terminal status.
func (h *harness) waitSettled(ctx context.Context, jobID string) (*model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		snap, err := h.query.GetSnapshot(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if snap.Status.IsTerminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s still %s: %w", jobID, snap.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

// checkResult holds the outcome of a single verification check.
type checkResult struct {
	Name   string
	Passed bool
	Detail string
}

// verifyJobAccounting re-reads every settled job and checks its counters.
// It returns true if any check failed.
func verifyJobAccounting(ctx context.Context, query *orchestrator.QueryService, jobIDs []string, expectClean bool) bool {
	var (
		unreadable []string
		unbalanced []string
		errored    []string
	)
	for _, jobID := range jobIDs {
		snap, err := query.GetSnapshot(ctx, jobID)
		if err != nil {
			unreadable = append(unreadable, jobID)
			continue
		}
		if snap.Succeeded+snap.Failed+snap.TimedOut != snap.Expected || len(snap.Pending) != 0 {
			unbalanced = append(unbalanced, jobID)
		}
		if snap.Status != model.JobStatusCompleted {
			errored = append(errored, jobID)
		}
	}

	results := []checkResult{
		sampleCheck("every settled job is readable", unreadable),
		sampleCheck("counters add up to expected combos", unbalanced),
	}
	if expectClean {
		results = append(results, sampleCheck("jobs without injected failures complete cleanly", errored))
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("    JOB ACCOUNTING VERIFICATION")
	fmt.Println("========================================")

	anyFailed := false
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			anyFailed = true
		}
		fmt.Printf("  [%s] %s\n", status, r.Name)
		if r.Detail != "" {
			fmt.Printf("         %s\n", r.Detail)
		}
	}

	fmt.Println("----------------------------------------")
	if anyFailed {
		fmt.Println("  Result: SOME CHECKS FAILED")
	} else {
		fmt.Println("  Result: ALL CHECKS PASSED")
	}
	fmt.Println("========================================")
	return anyFailed
}

func sampleCheck(name string, offending []string) checkResult {
	if len(offending) == 0 {
		return checkResult{Name: name, Passed: true, Detail: "0 offending jobs"}
	}
	sample := offending
	if len(sample) > 5 {
		sample = sample[:5]
	}
	return checkResult{
		Name:   name,
		Passed: false,
		Detail: fmt.Sprintf("found %d offending job(s) [sample: %s]", len(offending), strings.Join(sample, "; ")),
	}
}

// randomAccounts returns n fresh EVM addresses so every submission creates
// a new job instead of joining a running one.
func randomAccounts(n int) []string {
	accounts := make([]string, n)
	for i := range accounts {
		var raw [common.AddressLength]byte
		_, _ = rand.Read(raw[:])
		accounts[i] = common.BytesToAddress(raw[:]).Hex()
	}
	return accounts
}

func splitChains(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// formatNanos formats nanoseconds as a human-readable duration string.
func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
