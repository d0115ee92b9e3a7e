// Package cmd implements the command-line interface of dDB. Every command
// opens the database in --data-dir, runs and closes it again, which writes
// the data file back.
//
// The package is organized into several subpackages:
//
//   - document: Commands for documents (put, get, del, list)
//   - index: Commands for secondary indexes (create, drop, list, info, rebuild, get, range)
//   - hooks: Prints the introspection hooks, optionally in Prometheus format
//   - bench: Index benchmarks against an in-memory database
//   - util: Shared flag, configuration and key parsing helpers (internal use)
//
// See ddb -help for a list of all commands.
package cmd
