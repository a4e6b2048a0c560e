package wire

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/filetrack"
)

// newServeCmd runs the outbox processor (C8) in the foreground until
// interrupted, the same "start, block on signals, stop with a timeout"
// shape graph/engine.go's long-running examples use. It optionally also
// watches a workspace directory and logs an opportunistic orphan scan
// against a target checkpoint whenever the workspace changes, instead of
// polling the filesystem on a timer.
func newServeCmd() *cobra.Command {
	var stopTimeout time.Duration
	var watchWorkspace string
	var watchCheckpoint string
	var watchPatterns string
	var watchExclude string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the outbox processor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchWorkspace != "" && watchCheckpoint == "" {
				return errors.New("wtbd: --watch-checkpoint is required with --watch-workspace")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Error("wtbd: close failed", "error", err)
				}
			}()

			proc := app.NewProcessor()
			proc.Start(ctx)
			logger.Info("wtbd: outbox processor started",
				"storage_mode", cfg.StorageMode,
				"poll_interval", cfg.OutboxPollInterval,
				"batch_size", cfg.OutboxBatchSize)

			if watchWorkspace != "" && watchCheckpoint != "" {
				watcher, err := startWorkspaceWatch(ctx, app, logger, watchWorkspace, watchCheckpoint, watchPatterns, watchExclude)
				if err != nil {
					return err
				}
				defer watcher.Stop()
			}

			<-ctx.Done()
			logger.Info("wtbd: shutting down")
			proc.Stop(stopTimeout)
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "how long to wait for the processor worker to exit on shutdown")
	cmd.Flags().StringVar(&watchWorkspace, "watch-workspace", "", "optional workspace directory to watch for opportunistic orphan scans")
	cmd.Flags().StringVar(&watchCheckpoint, "watch-checkpoint", "", "checkpoint id orphan scans compare the workspace against (required with --watch-workspace)")
	cmd.Flags().StringVar(&watchPatterns, "watch-track-patterns", "*", "comma-separated glob patterns of files to track")
	cmd.Flags().StringVar(&watchExclude, "watch-exclude-patterns", "", "comma-separated glob patterns to exclude")
	return cmd
}

// startWorkspaceWatch wires a filetrack.Watcher over workspace: each
// debounced change re-derives the orphan set against checkpointID and
// logs it (dry-run only -- this demonstration binary never deletes files
// on its own initiative).
func startWorkspaceWatch(ctx context.Context, app *App, logger *slog.Logger, workspace, checkpointID, trackCSV, excludeCSV string) (*filetrack.Watcher, error) {
	watcher, err := filetrack.NewWatcher(workspace, 0, logger)
	if err != nil {
		return nil, err
	}
	trackPatterns := splitCSV(trackCSV)
	excludePatterns := splitCSV(excludeCSV)

	onChange := func() {
		filesAtCheckpoint, err := app.Files.GetFilesAtCheckpoint(ctx, checkpointID)
		if err != nil {
			logger.Warn("wtbd: watch: get files at checkpoint failed", "checkpoint_id", checkpointID, "error", err)
			return
		}
		orphaned, err := app.Cleanup.IdentifyOrphanedFiles(ctx, workspace, trackPatterns, excludePatterns, filesAtCheckpoint)
		if err != nil {
			logger.Warn("wtbd: watch: identify orphaned files failed", "error", err)
			return
		}
		if len(orphaned) > 0 {
			logger.Info("wtbd: watch: workspace changed, orphaned files detected",
				"checkpoint_id", checkpointID, "count", len(orphaned))
		}
	}

	if err := watcher.Start(ctx, onChange); err != nil {
		return nil, err
	}
	logger.Info("wtbd: watching workspace", "root", workspace, "checkpoint_id", checkpointID)
	return watcher, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
