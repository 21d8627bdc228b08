package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/database"
	"github.com/sifterhq/sifter/internal/download"
	"github.com/sifterhq/sifter/internal/ffmpeg"
	"github.com/sifterhq/sifter/internal/llm"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/pipeline"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
	"github.com/sifterhq/sifter/internal/stats"
	"github.com/sifterhq/sifter/internal/storage"
	"github.com/sifterhq/sifter/internal/stt"
	"github.com/sifterhq/sifter/internal/tts"
	"github.com/sifterhq/sifter/internal/version"
)

// statusInterval is how often the worker logs a host status heartbeat.
const statusInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sifter worker daemon",
	Long: `Start the worker daemon.

The daemon runs the job queue workers for all pipeline stages
(transcription, analysis, curation, assembly, orchestrator) and, when
enabled, the cron scheduler that fires digest runs per user frequency.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("workers", 0, "number of queue workers (0 = config value)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	workspace := storage.New(cfg.Storage, logger)
	if err := workspace.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := buildPipeline(ctx, cfg, db, workspace, logger)
	if err != nil {
		return err
	}

	jobRepo := repository.NewJobRepository(db.DB)
	executor := queue.NewExecutor(jobRepo).WithLogger(logger)
	executor.RegisterHandler(models.QueueTranscription, deps.transcription)
	executor.RegisterHandler(models.QueueAnalysis, deps.analysis)
	executor.RegisterHandler(models.QueueCuration, deps.curation)
	executor.RegisterHandler(models.QueueDigest, deps.assembly)
	executor.RegisterHandler(models.QueueOrchestrator, deps.orchestrator)

	workerCount := cfg.Queue.WorkerCount
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		workerCount = n
	}

	runner := queue.NewRunner(jobRepo, executor).
		WithLogger(logger).
		WithConfig(queue.RunnerConfig{
			WorkerCount:  workerCount,
			PollInterval: cfg.Queue.PollInterval,
			LockTimeout:  cfg.Queue.LockTimeout,
			JobTimeout:   cfg.Queue.JobTimeout,
			Retention:    cfg.Queue.Retention,
		})
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting queue runner: %w", err)
	}
	defer runner.Stop()

	if cfg.Orchestrator.ScheduleEnabled {
		scheduler := queue.NewScheduler(deps.service, deps.users, queue.SchedulerConfig{
			DailyCron:  cfg.Orchestrator.DailyCron,
			WeeklyCron: cfg.Orchestrator.WeeklyCron,
		}).WithLogger(logger)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting digest scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	go statusLoop(ctx, runner, stats.NewCollector(cfg.Storage.TempDir), logger)

	logger.Info("sifter worker started",
		slog.String("version", version.Version),
		slog.Int("workers", workerCount),
		slog.Bool("scheduler", cfg.Orchestrator.ScheduleEnabled))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()

	return nil
}

// pipelineDeps bundles the wired stages and their shared services.
type pipelineDeps struct {
	users         repository.UserRepository
	service       *queue.Service
	transcription *pipeline.TranscriptionStage
	analysis      *pipeline.AnalysisStage
	curation      *pipeline.CurationStage
	assembly      *pipeline.AssemblyStage
	orchestrator  *pipeline.Orchestrator
}

// buildPipeline constructs the stage graph from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config, db *database.DB, workspace *storage.Workspace, logger *slog.Logger) (*pipelineDeps, error) {
	users := repository.NewUserRepository(db.DB)
	podcasts := repository.NewPodcastRepository(db.DB)
	episodes := repository.NewEpisodeRepository(db.DB)
	clips := repository.NewClipRepository(db.DB)
	digests := repository.NewDigestRepository(db.DB)
	jobs := repository.NewJobRepository(db.DB)

	downloader := download.New(cfg.Download, logger)

	toolkit, err := ffmpeg.NewToolkit(cfg.FFmpeg, logger)
	if err != nil {
		return nil, fmt.Errorf("locating ffmpeg: %w", err)
	}
	if !toolkit.Available(ctx) {
		return nil, fmt.Errorf("ffmpeg is not runnable, check ffmpeg.binary_path")
	}

	transcriber, err := stt.New(cfg.STT, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring transcription backend: %w", err)
	}
	llmClient, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring completion backend: %w", err)
	}
	synthesizer, err := tts.New(cfg.TTS, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring synthesis backend: %w", err)
	}

	chunker := pipeline.NewChunker(toolkit, workspace, cfg.STT, cfg.Pipeline, logger)
	service := queue.NewService(jobs, logger)

	transcription := pipeline.NewTranscriptionStage(episodes, downloader, chunker, transcriber, workspace, logger)
	analysis := pipeline.NewAnalysisStage(episodes, podcasts, clips, llmClient, cfg.Pipeline, logger)
	curation := pipeline.NewCurationStage(digests, clips, llmClient, cfg.Pipeline, logger)
	assembly := pipeline.NewAssemblyStage(digests, users, downloader, toolkit, synthesizer, llmClient, workspace, logger)
	orchestrator := pipeline.NewOrchestrator(users, episodes, digests, service, curation, assembly, cfg.Orchestrator, logger)

	return &pipelineDeps{
		users:         users,
		service:       service,
		transcription: transcription,
		analysis:      analysis,
		curation:      curation,
		assembly:      assembly,
		orchestrator:  orchestrator,
	}, nil
}

// statusLoop logs a periodic host and queue heartbeat.
func statusLoop(ctx context.Context, runner *queue.Runner, collector *stats.Collector, logger *slog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := collector.Collect(ctx)
			status := runner.GetStatus()
			logger.Info("worker status",
				slog.Int64("pending_jobs", status.PendingJobs),
				slog.Int64("running_jobs", status.RunningJobs),
				slog.Float64("cpu_percent", snap.CPUPercent),
				slog.Float64("load_1m", snap.LoadAvg1m),
				slog.Float64("memory_percent", snap.MemoryPercent),
				slog.Uint64("disk_available_bytes", snap.DiskAvailableBytes),
				slog.Int("goroutines", snap.GoroutineCount))
		}
	}
}
