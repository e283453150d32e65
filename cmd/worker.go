package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"QFMIngest/core/audio"
	"QFMIngest/core/maintenance"
	"QFMIngest/core/onboarding"
	"QFMIngest/core/stage"
	"QFMIngest/core/worker"
	"QFMIngest/core/writeback"
	"QFMIngest/importer"
	"QFMIngest/logger"
	"QFMIngest/server"
	"QFMIngest/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerNoOps bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "运行上线和写回工作池",
	Long: `Runs the onboarding and write-back worker pools, periodic maintenance and the ops endpoint.
When IMPORT_DIR is set the import directory is watched as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx)
	},
}

func runWorker(ctx context.Context) error {
	shutdownTracing, err := telemetry.Init(ctx, cfg.TraceStdout)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", logger.ErrorField(err))
		}
	}()

	a, err := setup(ctx, needs{blobs: true, leaser: true})
	if err != nil {
		return err
	}
	defer a.close()

	for _, c := range a.containers.All() {
		if err := a.blobs.EnsureContainer(ctx, c); err != nil {
			return fmt.Errorf("ensure container %s: %w", c, err)
		}
	}

	st, err := stage.New(cfg.StagingDir, cfg.DeleteRetryInterval, cfg.DeleteRetryAttempts)
	if err != nil {
		return err
	}

	onboard := onboarding.New(onboarding.Deps{
		Database:      a.database,
		Blobs:         a.blobs,
		Leaser:        a.leaser,
		Stage:         st,
		Transcoder:    audio.NewFFmpegTranscoder(cfg.FFmpegPath),
		Prober:        audio.NewFFprobeProber(cfg.FFprobePath),
		Containers:    a.containers,
		RetryInterval: cfg.DeleteRetryInterval,
		RetryAttempts: cfg.DeleteRetryAttempts,
	})
	if err := onboard.CheckCatalog(ctx); err != nil {
		return fmt.Errorf("quality catalog not usable, run migrate first: %w", err)
	}
	write := writeback.New(writeback.Deps{
		Database:      a.database,
		Blobs:         a.blobs,
		Leaser:        a.leaser,
		Stage:         st,
		Containers:    a.containers,
		RetryInterval: cfg.DeleteRetryInterval,
	})
	pool := worker.New(worker.Config{
		Onboarding:   cfg.OnboardingWorkers,
		WriteBack:    cfg.WriteBackWorkers,
		PollInterval: cfg.PollInterval,
		LeaseTTL:     cfg.LeaseTTL,
	}, a.leaser, onboard, write)

	maint := maintenance.NewService(maintenance.Config{
		Interval:    cfg.MaintenanceInterval,
		StageMaxAge: cfg.StageMaxAge,
		ArtGrace:    maintenance.DefaultConfig.ArtGrace,
	}, a.database, a.blobs, st, a.containers)
	maint.Start()
	defer maint.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	if !workerNoOps && cfg.OpsAddr != "" {
		ops := server.New(cfg.OpsAddr, server.Deps{
			Database: a.database,
			Leaser:   a.leaser,
			Pool:     pool,
			Ping:     a.ping,
		})
		g.Go(func() error { return ops.Run(gctx) })
	}
	if cfg.ImportDir != "" {
		w := importer.NewWatcher(cfg.ImportDir, cfg.ImportOwner,
			importer.New(a.database, a.blobs, a.leaser, a.containers))
		g.Go(func() error { return w.Watch(gctx) })
	}

	logger.Info("ingest worker running",
		logger.String("leaser", cfg.LeaserBackend),
		logger.String("blobs", cfg.BlobBackend),
		logger.String("staging", cfg.StagingDir))
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().BoolVar(&workerNoOps, "no-ops", false, "不启动运维 HTTP 接口")
}
