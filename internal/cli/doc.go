// Package cli defines the pgexec command tree.
//
// Commands:
//
//	serve   HTTP API with Prometheus metrics
//	mcp     MCP tools over stdio
//	exec    run one script from a file or stdin and print the execution
//
// Every command loads configuration the same way: defaults, then the YAML
// file given by --config (or PGEXEC_CONFIG), then PGEXEC_* environment
// variables, then any flags set on the command line.
package cli
