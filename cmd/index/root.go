package index

import (
	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/spf13/cobra"
)

var (
	// IndexCommands represents the index command group
	IndexCommands = &cobra.Command{
		Use:                "index",
		Short:              "Create, query and maintain secondary indexes",
		PersistentPreRunE:  util.OpenDatabase,
		PersistentPostRunE: util.CloseDatabase,
	}
)

func init() {
	IndexCommands.AddCommand(createCmd)
	IndexCommands.AddCommand(dropCmd)
	IndexCommands.AddCommand(listCmd)
	IndexCommands.AddCommand(infoCmd)
	IndexCommands.AddCommand(rebuildCmd)
	IndexCommands.AddCommand(getCmd)
	IndexCommands.AddCommand(rangeCmd)

	key := "key-type"
	IndexCommands.PersistentFlags().String(key, "string", util.WrapString("Type of the keys given on the command line (string, int, float, bool, time)"))

	key = "type"
	createCmd.Flags().String(key, "NOTUNIQUE", util.WrapString("Index type (UNIQUE, NOTUNIQUE)"))
	key = "partitions"
	createCmd.Flags().StringSlice(key, nil, util.WrapString("Partitions to index (comma separated), created if missing"))
	key = "manual"
	createCmd.Flags().Bool(key, false, util.WrapString("Do not maintain the index on document changes, only on rebuild"))

	key = "exclusive"
	rangeCmd.Flags().Bool(key, false, util.WrapString("Exclude the bounds from the range"))
}
