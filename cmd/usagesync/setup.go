package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/usagesync/internal/integrations"
)

func newSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Manage the Claude Code hook that syncs after every session turn",
	}
	cmd.AddCommand(newSetupInstallCommand())
	cmd.AddCommand(newSetupUninstallCommand())
	cmd.AddCommand(newSetupStatusCommand())
	return cmd
}

func newSetupInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Register 'usagesync hook' for the Stop and SubagentStop events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := integrations.Install(integrations.NewDefaultDirs())
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Claude Code hook %s\n", okStyle.Render("+"), result.Action)
			fmt.Fprintf(out, "  command: %s\n", result.Command)
			fmt.Fprintf(out, "  config:  %s\n", result.ConfigFile)
			return nil
		},
	}
}

func newSetupUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the usagesync hook from the Claude Code settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dirs := integrations.NewDefaultDirs()
			if err := integrations.Uninstall(dirs); err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Claude Code hook removed from %s\n", okStyle.Render("+"), dirs.SettingsFile())
			return nil
		},
	}
}

func newSetupStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the hook is registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := integrations.Detect(integrations.NewDefaultDirs())
			marker := warnStyle.Render("!")
			if st.State == "ready" {
				marker = okStyle.Render("+")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s: %s\n", marker, st.State, st.Summary)
			fmt.Fprintf(out, "  config: %s\n", st.ConfigFile)
			if len(st.Events) > 0 {
				fmt.Fprintf(out, "  events: %v\n", st.Events)
			}
			return nil
		},
	}
}
