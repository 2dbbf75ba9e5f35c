package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/pgexec/internal/engine"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

func newExecCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [file|-]",
		Short: "Run one script and print the execution as JSON",
		Example: `  pgexec exec report.js
  echo 'return await pg.core.listTables();' | pgexec exec --mode isolated`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readScript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			a, err := flags.start(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.Engine.Execute(cmd.Context(), engine.Request{
				Code: code,
				Mode: sandbox.Mode(a.Config.Sandbox.Mode),
			})
			if err != nil {
				return err
			}

			out, err := sonic.ConfigStd.MarshalIndent(exec, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode execution: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !exec.Success {
				return ErrScriptFailed
			}
			return nil
		},
	}
}

func readScript(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, engine.MaxCodeBytes+1))
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}
