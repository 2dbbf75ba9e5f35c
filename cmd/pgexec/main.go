// Command pgexec runs untrusted JavaScript against a database.
//
// Usage:
//
//	pgexec serve --dsn postgres://localhost/app --driver postgres
//	pgexec mcp --mode isolated
//	pgexec exec script.js
//
// The same binary is re-executed as the isolated-mode worker.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/GriffinCanCode/pgexec/internal/cli"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

// Injected via ldflags at build time
var version = "dev"

func main() {
	if sandbox.IsWorkerProcess() {
		os.Exit(sandbox.RunWorker(os.Stdin, os.Stdout))
	}

	if err := cli.NewRootCommand(version).Execute(); err != nil {
		if !errors.Is(err, cli.ErrScriptFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
