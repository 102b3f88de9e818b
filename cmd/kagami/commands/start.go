package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/api"
	"github.com/shizukutanaka/Kagami/internal/config"
	"github.com/shizukutanaka/Kagami/internal/hardware"
	"github.com/shizukutanaka/Kagami/internal/logging"
	"github.com/shizukutanaka/Kagami/internal/mining"
	"github.com/shizukutanaka/Kagami/internal/network"
	"github.com/shizukutanaka/Kagami/internal/stats"
	"github.com/shizukutanaka/Kagami/internal/storage"
)

const (
	summaryInterval  = 60 * time.Second
	hardwareInterval = 10 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start mining",
	RunE:  runStart,
}

var (
	startConfig    string
	startWorkers   int
	startAlgorithm string
)

func init() {
	startCmd.Flags().StringVarP(&startConfig, "config", "c", "config.yaml", "path to configuration file")
	startCmd.Flags().IntVarP(&startWorkers, "workers", "w", 0, "worker thread count (overrides config)")
	startCmd.Flags().StringVarP(&startAlgorithm, "algorithm", "a", "", "mining algorithm (overrides config)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(startConfig)
	if err != nil {
		return err
	}
	if startWorkers > 0 {
		cfg.General.WorkerThreads = startWorkers
	}
	if startAlgorithm != "" {
		if _, err := algorithm.ParseKind(startAlgorithm); err != nil {
			return err
		}
		cfg.General.Algorithm = startAlgorithm
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	printBanner(log, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	agg := stats.NewAggregator(log.Named("stats"), stats.Config{
		Window:          stats.DefaultWindow,
		SummaryInterval: summaryInterval,
	})
	metrics := stats.NewMetrics("kagami")
	agg.SetMetrics(metrics)

	mode := algorithm.FastMode
	if cfg.General.LightMode {
		mode = algorithm.LightMode
	}
	schedCfg := mining.SchedulerConfig{
		Algorithm: cfg.AlgorithmKind(),
		Mode:      mode,
		Threads:   cfg.ResolveThreads(),
		BatchSize: cfg.General.BatchSize,
	}

	var opts []mining.SchedulerOption
	if cfg.Storage.Enabled {
		ledger, err := storage.OpenLedger(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer ledger.Close()
		log.Info("share ledger enabled",
			zap.String("path", cfg.Storage.Path),
			zap.String("session_id", ledger.SessionID()),
		)
		opts = append(opts, mining.WithShareRecorder(ledger))
	}

	// Pool takes precedence when both backends are configured.
	var source mining.JobSource
	var runSource func(context.Context) error
	if cfg.PoolActive() {
		pool := network.NewPoolClient(log.Named("pool"), *cfg.Pool, cfg.AlgorithmKind())
		source, runSource = pool, pool.Run
	} else {
		node := network.NewNodeClient(log.Named("node"), *cfg.Node)
		source, runSource = node, node.Run
	}

	sched := mining.NewScheduler(log.Named("scheduler"), schedCfg, source, agg, opts...)

	errc := make(chan error, 4)
	go func() { errc <- agg.Run(ctx) }()
	go func() { errc <- runSource(ctx) }()

	monitor := hardware.NewMonitor(log.Named("hardware"), agg, hardwareInterval)
	go func() { errc <- monitor.Run(ctx) }()

	if cfg.API.Enabled {
		server := api.NewServer(log.Named("api"), cfg.API.ListenAddr, agg, metrics)
		go func() { errc <- server.Run(ctx) }()
	}

	watcher, err := config.NewWatcher(log.Named("config"), startConfig)
	if err != nil {
		return err
	}
	if err := watcher.Start(func(updated *config.Config) {
		sched.SetThreadCount(updated.ResolveThreads())
	}); err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	runErr := sched.Run(ctx)
	cancel()
	sched.Stop()
	agg.LogSummary()

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	select {
	case err := <-errc:
		if err != nil && err != context.Canceled {
			log.Warn("component exited with error", zap.Error(err))
		}
	default:
	}
	log.Info("kagami stopped")
	return nil
}

func printBanner(log *zap.Logger, cfg *config.Config) {
	info := hardware.DetectInfo()
	backend := "node"
	if cfg.PoolActive() {
		backend = "pool"
	}
	log.Info("kagami starting",
		zap.String("version", Version),
		zap.String("algorithm", cfg.General.Algorithm),
		zap.Int("threads", cfg.ResolveThreads()),
		zap.String("backend", backend),
		zap.String("cpu", info.CPUBrand),
		zap.Int("cores", info.Cores),
		zap.Int("logical_cpus", info.Threads),
		zap.Strings("features", info.Features),
		zap.String("memory", humanize.IBytes(info.TotalMemory)),
	)
	fmt.Printf("Kagami %s — %s on %d threads (%s backend)\n",
		Version, cfg.General.Algorithm, cfg.ResolveThreads(), backend)
}
