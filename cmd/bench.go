package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/revscore/internal/loadgen"
)

func newBenchCmd(load loadFunc) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Send concurrent predict requests to a running server.",
		Example: `  revscore bench --url http://localhost:8080 --model damaging --lang en \
    --rev-ids 12345,12346 --requests 500 --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Loaded for logging setup only.
			if _, err := load(cmd); err != nil {
				return err
			}
			stats, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"submitted=%d ok=%d rejected=%d failed=%d p50=%s p95=%s max=%s rps=%.1f\n",
				stats.Submitted, stats.OK, stats.Rejected, stats.Failed,
				stats.P50, stats.P95, stats.Max, stats.Throughput())
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the service")
	f.StringVar(&cfg.Model, "model", "damaging", "model name in the predict route")
	f.StringVar(&cfg.Lang, "lang", "en", "wiki language code")
	f.Int64SliceVar(&cfg.RevIDs, "rev-ids", nil, "revision ids to score, cycled through")
	f.IntVar(&cfg.Requests, "requests", loadgen.DefaultRequests, "number of requests to send")
	f.IntVar(&cfg.Workers, "workers", loadgen.DefaultWorkers, "number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", loadgen.DefaultTimeout, "per-request timeout")
	f.BoolVar(&cfg.ExtendedOutput, "extended-output", false, "ask for bare feature values")
	return cmd
}
