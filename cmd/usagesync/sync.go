package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/usagesync/internal/syncer"
)

func newSyncCommand(verbose *bool) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Read every usage source and deliver changed daily aggregates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(*verbose)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.engine().Run(cmd.Context(), syncer.SyncPlan())
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			if asJSON {
				return writeReportJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	return cmd
}

func writeReportJSON(w io.Writer, report syncer.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printReport(w io.Writer, r syncer.Report) {
	var read []string
	for _, src := range sortedKeys(r.Read) {
		read = append(read, fmt.Sprintf("%s=%d", src, r.Read[src]))
	}
	if len(read) == 0 {
		read = append(read, "nothing")
	}
	fmt.Fprintf(w, "read:      %s\n", strings.Join(read, " "))
	fmt.Fprintf(w, "changed:   %d of %d aggregates\n", r.Changed, r.Candidates)

	switch r.Skipped {
	case "":
		marker := okStyle.Render("+")
		if r.Failed > 0 {
			marker = warnStyle.Render("!")
		}
		fmt.Fprintf(w, "%s delivered %d, failed %d, pending %d\n", marker, r.Delivered, r.Failed, r.Pending)
	case syncer.SkipNoChanges:
		fmt.Fprintf(w, "%s up to date\n", okStyle.Render("+"))
	case syncer.SkipNotLinked:
		fmt.Fprintf(w, "%s not linked: set USAGESYNC_API_TOKEN or run 'usagesync token set'\n", warnStyle.Render("!"))
	default:
		fmt.Fprintf(w, "%s delivery skipped: %s\n", warnStyle.Render("!"), r.Skipped)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.Key, f.Error)
	}
}
