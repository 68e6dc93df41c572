// Package loadgen drives a running scoring service with concurrent
// predict requests and reports outcome counts and latency percentiles.
package loadgen

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/revscore/pkg/logger"
)

// Run executes a benchmark against cfg.BaseURL.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("loadgen")
	log.Info(ctx, "starting load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("model", cfg.Model),
		logger.Int("requests", cfg.Requests),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
	)

	c := newClient(&cfg)
	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	start := time.Now()
	results := submit(ctx, &cfg, c)
	stats := summarize(results)
	stats.Duration = time.Since(start)

	log.Info(ctx, "final statistics",
		logger.Int("submitted", stats.Submitted),
		logger.Int("ok", stats.OK),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Duration("p50", stats.P50),
		logger.Duration("p95", stats.P95),
		logger.Duration("max", stats.Max),
		logger.Float64("requestsPerSecond", stats.Throughput()),
	)
	return stats, ctx.Err()
}

// submit sends cfg.Requests requests from cfg.Workers goroutines.
func submit(ctx context.Context, cfg *Config, c *client) []result {
	jobs := make(chan predictRequest, cfg.Workers*workerChannelMultiplier)
	out := make(chan result, cfg.Workers*workerChannelMultiplier)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for body := range jobs {
				out <- c.predict(ctx, body)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < cfg.Requests; i++ {
			body := predictRequest{
				RevID:          cfg.RevIDs[i%len(cfg.RevIDs)],
				Lang:           cfg.Lang,
				ExtendedOutput: cfg.ExtendedOutput,
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- body:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]result, 0, cfg.Requests)
	for r := range out {
		results = append(results, r)
	}
	return results
}

func summarize(results []result) *Stats {
	s := &Stats{Submitted: len(results)}
	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		switch r.outcome {
		case outcomeOK:
			s.OK++
		case outcomeRejected:
			s.Rejected++
		default:
			s.Failed++
		}
		latencies = append(latencies, r.latency)
	}
	if len(latencies) == 0 {
		return s
	}
	slices.Sort(latencies)
	s.P50 = percentile(latencies, 50)
	s.P95 = percentile(latencies, 95)
	s.Max = latencies[len(latencies)-1]
	return s
}

// percentile uses nearest rank on sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (p*len(sorted)+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
