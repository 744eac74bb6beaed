package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/usagesync/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "usagesync",
		Short:         "usagesync keeps daily AI coding tool usage in sync with the collector.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostic events to stderr")

	root.AddCommand(newSyncCommand(&verbose))
	root.AddCommand(newHookCommand(&verbose))
	root.AddCommand(newWatchCommand(&verbose))
	root.AddCommand(newStatusCommand(&verbose))
	root.AddCommand(newTokenCommand(&verbose))
	root.AddCommand(newSetupCommand())
	return root
}
