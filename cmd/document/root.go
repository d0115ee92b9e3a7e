package document

import (
	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/spf13/cobra"
)

var (
	// DocumentCommands represents the document command group
	DocumentCommands = &cobra.Command{
		Use:                "doc",
		Short:              "Store, read and delete documents",
		PersistentPreRunE:  util.OpenDatabase,
		PersistentPostRunE: util.CloseDatabase,
	}
)

func init() {
	DocumentCommands.AddCommand(putCmd)
	DocumentCommands.AddCommand(getCmd)
	DocumentCommands.AddCommand(delCmd)
	DocumentCommands.AddCommand(listCmd)

	putCmd.Flags().String("id", "", util.WrapString("Identity of an existing document to update (e.g. #3:0), its fields are merged with the new ones"))
	listCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of documents to print (0 = all)"))
}
