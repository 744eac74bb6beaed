package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagesync/internal/logging"
	"github.com/janekbaraniewski/usagesync/internal/syncer"
	"github.com/janekbaraniewski/usagesync/internal/usage"
	"github.com/janekbaraniewski/usagesync/internal/watch"
)

// watchExts are the file types any reader consumes. The OpenCode database
// changes through its WAL file between checkpoints.
var watchExts = map[string]bool{
	".jsonl":  true,
	".ndjson": true,
	".json":   true,
	".db":     true,
	".db-wal": true,
}

func newWatchCommand(verbose *bool) *cobra.Command {
	var (
		once     bool
		pollOnly bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever a usage source changes on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(*verbose)
			if err != nil {
				return err
			}
			defer rt.close()

			engine := rt.engine()
			if once {
				report, err := engine.Run(cmd.Context(), syncer.SyncPlan())
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				printReport(os.Stdout, report)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if debounce <= 0 {
				debounce = time.Duration(rt.cfg.Watch.DebounceSeconds) * time.Second
			}
			roots := rt.watchRoots()
			w := watch.New(watch.Options{
				Roots:        roots,
				Debounce:     debounce,
				PollInterval: time.Duration(rt.cfg.Watch.PollSeconds) * time.Second,
				Exts:         watchExts,
				PollOnly:     pollOnly,
				Logger:       rt.log,
			}, func(ctx context.Context) error {
				report, err := engine.Run(ctx, syncer.SyncPlan())
				if err != nil {
					return err
				}
				if report.Skipped != syncer.SkipNoChanges {
					printReport(os.Stdout, report)
				}
				return nil
			})

			fmt.Fprintf(os.Stdout, "watching %d locations (debounce %s); press Ctrl+C to stop\n", len(roots), debounce)
			rt.log.Info("watch started", logging.Event("watch_start"), zap.Strings("roots", roots))
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sync cycle and exit")
	cmd.Flags().BoolVar(&pollOnly, "poll", false, "poll for changes instead of using filesystem notifications")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before a batched sync (default from settings)")
	return cmd
}

// watchRoots lists the directories of every enabled reader.
func (r *runtime) watchRoots() []string {
	loc := r.locations()
	enabled := r.cfg.SourceEnabled

	var roots []string
	if enabled(usage.SourceClaude) {
		roots = append(roots, loc.ClaudeProjectsDirs...)
	}
	if enabled(usage.SourceCodex) {
		roots = append(roots, loc.CodexSessionsDir)
	}
	if enabled(usage.SourceGemini) {
		roots = append(roots, loc.GeminiTmpDir)
	}
	if enabled(usage.SourceOpenCode) && loc.OpenCodeDBPath != "" {
		roots = append(roots, filepath.Dir(loc.OpenCodeDBPath))
	}
	if enabled(usage.SourceExternal) {
		roots = append(roots, loc.ExternalUsageDir)
		if enabled(usage.SourceOpenCode) {
			roots = append(roots, loc.OpenCodeDir)
		}
	}
	return lo.Uniq(lo.Compact(roots))
}
