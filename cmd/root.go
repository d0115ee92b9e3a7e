package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDB/cmd/bench"
	"github.com/ValentinKolb/dDB/cmd/document"
	"github.com/ValentinKolb/dDB/cmd/hooks"
	"github.com/ValentinKolb/dDB/cmd/index"
	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ddb",
		Short: "embedded document database with secondary indexes",
		Long: fmt.Sprintf(`dDB (v%s)

An embedded document database written in Go. Documents are stored in
partitions, secondary indexes map field values to documents and are kept
current as documents change.

Every flag can also be set as environment variable DDB_<FLAG>
(e.g. DDB_DATA_DIR=/var/lib/ddb), .env and .env.local are read too.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dDB",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dDB v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(document.DocumentCommands)
	RootCmd.AddCommand(index.IndexCommands)
	RootCmd.AddCommand(hooks.HooksCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupDatabaseFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
