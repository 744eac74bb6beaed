package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/usagesync/internal/integrations"
	"github.com/janekbaraniewski/usagesync/internal/sources/external"
	"github.com/janekbaraniewski/usagesync/internal/syncer"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

const maxPendingShown = 5

func newStatusCommand(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledgers, pending deliveries and collector settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(*verbose)
			if err != nil {
				return err
			}
			defer rt.close()

			auth, _, err := rt.auth()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			origin := auth.Origin
			if auth.IsZero() {
				origin = ""
			}

			st := rt.engine().Status()
			loc := rt.locations()
			opts := external.Options{ManagedDir: loc.ExternalUsageDir}
			if rt.cfg.SourceEnabled(usage.SourceOpenCode) {
				opts.OpenCodeDir = loc.OpenCodeDir
			}
			_, diag := external.Read(cmd.Context(), opts)

			printStatus(os.Stdout, statusView{
				APIBase:    rt.apiBase(),
				AuthOrigin: origin,
				StateDir:   rt.paths.StateDir,
				Status:     st,
				External:   diag,
				Hook:       integrations.Detect(integrations.NewDefaultDirs()),
			})
			return nil
		},
	}
}

type statusView struct {
	APIBase    string
	AuthOrigin string
	StateDir   string
	Status     syncer.Status
	External   external.Diagnostics
	Hook       integrations.Status
}

func printStatus(out io.Writer, v statusView) {
	fmt.Fprintln(out, headStyle.Render("Collector"))
	fmt.Fprintf(out, "  api base:  %s\n", v.APIBase)
	if v.AuthOrigin == "" {
		fmt.Fprintf(out, "  %s not linked\n", warnStyle.Render("!"))
	} else {
		fmt.Fprintf(out, "  %s linked (%s)\n", okStyle.Render("+"), v.AuthOrigin)
	}
	fmt.Fprintf(out, "  state dir: %s\n", v.StateDir)

	fmt.Fprintln(out)
	fmt.Fprintln(out, headStyle.Render("Ledgers"))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  SOURCE\tROWS\tCURSORS\tPENDING")
	for _, l := range v.Status.Ledgers {
		if l.Err != nil {
			fmt.Fprintf(w, "  %s\t%s\t\t\n", l.Source, warnStyle.Render("error: "+l.Err.Error()))
			continue
		}
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\n", l.Source, l.Rows, l.Cursors, len(l.Pending))
	}
	_ = w.Flush()
	for _, l := range v.Status.Ledgers {
		if len(l.Pending) == 0 {
			continue
		}
		shown := lo.Slice(l.Pending, 0, maxPendingShown)
		for _, key := range shown {
			fmt.Fprintf(out, "  %s %s\n", dimStyle.Render("pending"), key)
		}
		if rest := len(l.Pending) - len(shown); rest > 0 {
			fmt.Fprintf(out, "  %s\n", dimStyle.Render(fmt.Sprintf("... and %d more", rest)))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headStyle.Render("Upload tracker"))
	if v.Status.TrackerErr != nil {
		fmt.Fprintf(out, "  %s %v\n", warnStyle.Render("!"), v.Status.TrackerErr)
	}
	fmt.Fprintf(out, "  acknowledged: %d\n", v.Status.TrackerEntries)
	if v.Status.Undelivered > 0 {
		fmt.Fprintf(out, "  %s undelivered: %d\n", warnStyle.Render("!"), v.Status.Undelivered)
	} else {
		fmt.Fprintf(out, "  %s everything delivered\n", okStyle.Render("+"))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headStyle.Render("External usage"))
	d := v.External
	fmt.Fprintf(out, "  managed dir:  %s (%d files)\n", presence(d.ManagedDirExists), d.ManagedFiles)
	fmt.Fprintf(out, "  opencode dir: %s (%d files)\n", presence(d.OpenCodeDirExists), d.OpenCodeFiles)
	fmt.Fprintf(out, "  parsed rows:  %d\n", d.ParsedRows)
	if len(d.NormalizerMatches) > 0 {
		var parts []string
		for _, name := range sortedKeys(d.NormalizerMatches) {
			parts = append(parts, fmt.Sprintf("%s=%d", name, d.NormalizerMatches[name]))
		}
		fmt.Fprintf(out, "  normalizers:  %s\n", strings.Join(parts, " "))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headStyle.Render("Claude Code hook"))
	marker := warnStyle.Render("!")
	if v.Hook.State == "ready" {
		marker = okStyle.Render("+")
	}
	fmt.Fprintf(out, "  %s %s (%s)\n", marker, v.Hook.Summary, v.Hook.ConfigFile)
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
