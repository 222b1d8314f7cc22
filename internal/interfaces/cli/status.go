package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command, which probes a running server's
// readiness endpoint.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the readiness of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := cliCtx.Client()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, cliCtx)
			defer cancel()
			health, err := c.Ready(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, health)
		},
	}
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "conceptguard %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
				Version, GitCommit, BuildDate, runtime.Version())
			return nil
		},
	}
}
