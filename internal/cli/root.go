package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/pgexec/internal/app"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/config"
)

// ErrScriptFailed is returned by exec when the script did not succeed. The
// execution has already been printed.
var ErrScriptFailed = errors.New("script failed")

type globalFlags struct {
	config   string
	mode     string
	driver   string
	dsn      string
	logLevel string
	dev      bool
}

// NewRootCommand builds the command tree
func NewRootCommand(version string) *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "pgexec",
		Short: "Run untrusted JavaScript against a database in a sandbox",
		Long: `pgexec runs JavaScript snippets inside a restricted runtime. Scripts reach
the database only through the read-only operations bound under the "pg"
global, in-process or in a separate worker process.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "Path to YAML config file (default: $"+config.FileEnv+")")
	pf.StringVar(&flags.mode, "mode", "", "Isolation mode: inprocess or isolated")
	pf.StringVar(&flags.driver, "driver", "", "Database driver: postgres or sqlite")
	pf.StringVar(&flags.dsn, "dsn", "", "Database connection string")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&flags.dev, "dev", false, "Development logging")

	cmd.AddCommand(newServeCommand(flags))
	cmd.AddCommand(newMCPCommand(flags, version))
	cmd.AddCommand(newExecCommand(flags))

	return cmd
}

// load resolves configuration with flags applied last
func (f *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	path := f.config
	if path == "" {
		path = os.Getenv(config.FileEnv)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Sandbox.Mode = f.mode
	}
	if changed("driver") {
		cfg.Database.Driver = f.driver
	}
	if changed("dsn") {
		cfg.Database.DSN = f.dsn
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("dev") {
		cfg.Logging.Development = f.dev
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// start loads configuration and assembles the app
func (f *globalFlags) start(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := f.load(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}
