package commands

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/logging"
	"github.com/shizukutanaka/Kagami/internal/mining"
	"github.com/shizukutanaka/Kagami/internal/stats"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure hashrate against a synthetic job",
	Long: `Benchmark runs the full scheduler and worker pool against a fixed
synthetic job whose target can never be met, then reports the aggregate and
per-thread hashrate.`,
	RunE: runBenchmarkCmd,
}

var (
	benchAlgorithm string
	benchDuration  time.Duration
	benchThreads   int
	benchLight     bool
)

func init() {
	benchmarkCmd.Flags().StringVarP(&benchAlgorithm, "algorithm", "a", "randomx", "algorithm to benchmark")
	benchmarkCmd.Flags().DurationVarP(&benchDuration, "duration", "d", 60*time.Second, "benchmark duration")
	benchmarkCmd.Flags().IntVarP(&benchThreads, "threads", "t", runtime.NumCPU(), "worker thread count")
	benchmarkCmd.Flags().BoolVar(&benchLight, "light", false, "use the light-memory context")
	rootCmd.AddCommand(benchmarkCmd)
}

func runBenchmarkCmd(cmd *cobra.Command, args []string) error {
	kind, err := algorithm.ParseKind(benchAlgorithm)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = "debug"
	log, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	fmt.Printf("Benchmarking %s: %d threads for %s\n", kind, benchThreads, benchDuration)

	// Benchmark uses a short window and no periodic summary; one final
	// report is emitted after the run.
	agg := stats.NewAggregator(log.Named("stats"), stats.Config{
		Window:          stats.BenchmarkWindow,
		SummaryInterval: 0,
	})

	mode := algorithm.FastMode
	if benchLight {
		mode = algorithm.LightMode
	}
	sched := mining.NewScheduler(log.Named("scheduler"), mining.SchedulerConfig{
		Algorithm: kind,
		Mode:      mode,
		Threads:   benchThreads,
		BatchSize: mining.DefaultBatchSize,
	}, mining.NewSyntheticSource(kind), agg)

	ctx, cancel := context.WithTimeout(context.Background(), benchDuration)
	defer cancel()

	go agg.Run(ctx)
	go debugPerThread(ctx, log, sched)

	started := time.Now()
	if err := sched.Run(ctx); err != nil && err != context.DeadlineExceeded {
		return err
	}
	counts := sched.WorkerHashCounts()
	sched.Stop()
	elapsed := time.Since(started)

	// Let the aggregator drain the final progress deltas.
	time.Sleep(100 * time.Millisecond)
	snap := agg.Snapshot()

	fmt.Printf("\nBenchmark complete\n")
	fmt.Printf("  Algorithm:    %s\n", kind)
	fmt.Printf("  Duration:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Total hashes: %s\n", humanize.Comma(int64(snap.TotalHashes)))
	fmt.Printf("  Hashrate:     %.2f H/s\n", float64(snap.TotalHashes)/elapsed.Seconds())
	for id, hashes := range counts {
		log.Debug("per-thread result",
			zap.Int("worker", id),
			zap.Uint64("hashes", hashes),
			zap.Float64("hashrate_hs", float64(hashes)/elapsed.Seconds()),
		)
	}
	return nil
}

// debugPerThread logs each worker's hashrate once per second.
func debugPerThread(ctx context.Context, log *zap.Logger, sched *mining.Scheduler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	prev := make(map[int]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, hashes := range sched.WorkerHashCounts() {
				log.Debug("thread hashrate",
					zap.Int("worker", id),
					zap.Uint64("delta_hs", hashes-prev[id]),
				)
				prev[id] = hashes
			}
		}
	}
}
