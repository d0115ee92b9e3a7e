package hooks

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/spf13/cobra"
)

var (
	// HooksCmd prints the introspection hooks of the database
	HooksCmd = &cobra.Command{
		Use:                "hooks",
		Short:              "Print the introspection hooks of the database",
		Long:               "Print the current value of every registered hook, for example the item count of each index. With --prometheus the numeric hooks are written in the Prometheus text format.",
		Args:               cobra.NoArgs,
		PersistentPreRunE:  util.OpenDatabase,
		PersistentPostRunE: util.CloseDatabase,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prom, _ := cmd.Flags().GetBool("prometheus")
			if prom {
				util.DB.Hooks().WritePrometheus(os.Stdout)
				return nil
			}
			fmt.Print(util.DB.Hooks().Dump())
			return nil
		},
	}
)

func init() {
	HooksCmd.Flags().Bool("prometheus", false, util.WrapString("Write numeric hooks in the Prometheus text format"))
}
