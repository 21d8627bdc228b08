package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sifterhq/sifter/internal/database"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/storage"
)

var digestJSON bool

var digestCmd = &cobra.Command{
	Use:   "digest <user-id>",
	Short: "Generate a digest for one user",
	Long: `Run the digest pipeline end to end for a single user and wait for
the result.

Transcription and analysis jobs are enqueued on the job queue, so a
serve daemon must be draining the queues (or the episodes must already
be analyzed). Curation and assembly run inside this command.`,
	Args: cobra.ExactArgs(1),
	RunE: runDigest,
}

func init() {
	digestCmd.Flags().BoolVar(&digestJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(digestCmd)
}

func runDigest(cmd *cobra.Command, args []string) error {
	userID, err := models.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}

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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("interrupted, abandoning digest run")
		cancel()
	}()

	deps, err := buildPipeline(ctx, cfg, db, workspace, logger)
	if err != nil {
		return err
	}

	stage := &queue.InlineStage{
		Logger: logger,
		OnProgress: func(p int) {
			fmt.Fprintf(os.Stderr, "progress: %d%%\n", p)
		},
	}

	result, err := deps.orchestrator.GenerateDigest(ctx, userID, stage)
	if err != nil {
		return fmt.Errorf("generating digest: %w", err)
	}

	if digestJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if result.Status == "no_episodes" {
		fmt.Println("no recent episodes in the digest window")
		return nil
	}
	fmt.Printf("digest %s ready: %s (%.0fs, %d clips from %d episodes)\n",
		result.DigestID, result.AudioURL, result.Duration, result.ClipCount, result.EpisodeCount)
	return nil
}
