package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagesync/internal/logging"
	"github.com/janekbaraniewski/usagesync/internal/sources/claude"
	"github.com/janekbaraniewski/usagesync/internal/syncer"
)

const maxHookPayload = 1 << 20

func newHookCommand(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Sync the Claude Code transcript named in a hook payload on stdin",
		Long: "Reads the Claude Code hook payload from stdin, folds new transcript lines into the " +
			"Claude ledger and delivers changed Claude aggregates. Failures are logged, never " +
			"reported through the exit code, so the hook cannot interrupt a session.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(*verbose)
			if err != nil {
				fmt.Fprintf(os.Stderr, "usagesync hook: %v\n", err)
				return nil
			}
			defer rt.close()

			raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxHookPayload))
			if err != nil {
				rt.log.Warn("hook stdin read failed", logging.Event("hook_input_failed"), zap.Error(err))
			}
			plan, err := hookPlan(raw)
			if err != nil {
				rt.log.Warn("hook payload rejected", logging.Event("hook_input_failed"), zap.Error(err))
			}

			report, err := rt.engine().Run(cmd.Context(), plan)
			if err != nil {
				rt.log.Error("hook sync failed", logging.Event("hook_failed"), zap.Error(err))
				return nil
			}
			if *verbose {
				printReport(os.Stderr, report)
			}
			return nil
		},
	}
}

// hookPlan turns a payload into a run plan. A payload without a transcript
// still yields a plan that retries the Claude ledger's pending keys.
func hookPlan(raw []byte) (syncer.Plan, error) {
	in, err := claude.ParseHookInput(raw)
	if err != nil {
		if errors.Is(err, claude.ErrNoTranscript) {
			return syncer.HookPlan("", in.SessionID), nil
		}
		return syncer.HookPlan("", ""), fmt.Errorf("hook: %w", err)
	}
	return syncer.HookPlan(in.TranscriptPath, in.SessionID), nil
}
