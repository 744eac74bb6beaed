package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/usagesync/internal/collector"
	"github.com/janekbaraniewski/usagesync/internal/config"
)

func newTokenCommand(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored collector API token",
	}
	cmd.AddCommand(newTokenSetCommand(verbose))
	cmd.AddCommand(newTokenClearCommand(verbose))
	return cmd
}

func newTokenSetCommand(verbose *bool) *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:   "set [token]",
		Short: "Encrypt and store an API token (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(*verbose)
			if err != nil {
				return err
			}
			defer rt.close()

			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				token, err = readTokenLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token: empty token")
			}

			secret, err := collector.LoadOrCreateSecret(rt.paths.DeviceSecret)
			if err != nil {
				return err
			}
			if err := config.SaveTokenTo(rt.paths.APIToken, token, secret); err != nil {
				return err
			}
			if rt.cfg.APIToken != "" {
				if err := config.ClearLegacyTokenFrom(rt.configPath); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: token stored but legacy config token not cleared: %v\n", err)
				}
			}
			if apiBase = strings.TrimSpace(apiBase); apiBase != "" {
				if err := config.SaveAPIBaseTo(rt.configPath, apiBase); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s token stored in %s\n", okStyle.Render("+"), rt.paths.APIToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiBase, "api-base", "", "also save the collector base URL")
	return cmd
}

func newTokenClearCommand(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(*verbose)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := config.DeleteTokenAt(rt.paths.APIToken); err != nil {
				return err
			}
			if rt.cfg.APIToken != "" {
				if err := config.ClearLegacyTokenFrom(rt.configPath); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s token removed\n", okStyle.Render("+"))
			return nil
		},
	}
}

func readTokenLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("token: read stdin: %w", err)
	}
	return line, nil
}
