package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pgexec/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/server"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := flags.start(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("port") {
				a.Config.Server.Port = port
			}

			a.Logger.Info("Starting pgexec",
				zap.String("addr", a.Config.Server.Addr()),
				logging.Mode(a.Config.Sandbox.Mode),
				zap.String("driver", a.DB.Driver()),
			)
			return server.NewServer(a).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default 8000)")
	return cmd
}
