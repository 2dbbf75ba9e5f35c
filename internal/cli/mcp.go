package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/GriffinCanCode/pgexec/internal/mcp/server"
)

func newMCPCommand(flags *globalFlags, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Serve execute_code, list_capabilities and pool_stats as MCP tools on
stdin/stdout. Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := flags.start(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := mcpserver.Config{
				Version:      version,
				BindingsRoot: a.Config.Sandbox.BindingsRoot,
			}
			if a.Config.RateLimit.Enabled {
				cfg.ExecutionsPerSecond = a.Config.RateLimit.RequestsPerSecond
				cfg.Burst = a.Config.RateLimit.Burst
			}

			s := mcpserver.NewServer(a.Engine, cfg, a.Logger.Component("mcp").Logger)
			return s.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
