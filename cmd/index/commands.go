package index

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/ValentinKolb/dDB/lib/database"
	dbindex "github.com/ValentinKolb/dDB/lib/index"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/spf13/cobra"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [name] [field]",
		Short: "Creates an index over a document field and builds it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawType, _ := cmd.Flags().GetString("type")
			typ, err := dbindex.ParseType(strings.ToUpper(rawType))
			if err != nil {
				return err
			}
			partitions, _ := cmd.Flags().GetStringSlice("partitions")
			manual, _ := cmd.Flags().GetBool("manual")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			ix, res, err := util.DB.CreateIndex(ctx, database.IndexDefinition{
				Name:       args[0],
				Type:       typ,
				Field:      args[1],
				Partitions: partitions,
				Automatic:  !manual,
			}, &dbindex.LogProgressListener{Index: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("created %s: %d records scanned, %d indexed in %s\n", ix, res.Scanned, res.Indexed, res.Duration)
			return nil
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop [name]",
		Short: "Deletes an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.DB.DropIndex(args[0]); err != nil {
				return err
			}
			fmt.Println("dropped", args[0])
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range util.DB.Indexes() {
				ix, err := util.DB.Index(name)
				if err != nil {
					return err
				}
				fmt.Println(ix)
			}
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info [name]",
		Short: "Prints the configuration and counters of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := util.DB.Index(args[0])
			if err != nil {
				return err
			}
			cfg := ix.Configuration()
			size, err := ix.Size()
			if err != nil {
				return err
			}
			fmt.Printf("%-22s: %s\n", "Name", ix.Name())
			fmt.Printf("%-22s: %s\n", "Type", ix.Type())
			fmt.Printf("%-22s: %s\n", "Field", cfg.Field)
			fmt.Printf("%-22s: %t\n", "Automatic", ix.IsAutomatic())
			fmt.Printf("%-22s: %s\n", "Partitions", strings.Join(ix.Partitions(), ", "))
			fmt.Printf("%-22s: %s\n", "Map", ix.Identity())
			fmt.Printf("%-22s: %d\n", "Keys", size)

			s := ix.Stats()
			fmt.Printf("%-22s: %d\n", "Gets", s.Gets)
			fmt.Printf("%-22s: %d\n", "Ranges", s.Ranges)
			fmt.Printf("%-22s: %d\n", "Puts", s.Puts)
			fmt.Printf("%-22s: %d\n", "Removes", s.Removes)
			return nil
		},
	}
	rebuildCmd = &cobra.Command{
		Use:   "rebuild [name]",
		Short: "Rebuilds an index from its partitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := util.DB.Index(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			res, err := ix.Rebuild(ctx, &dbindex.LogProgressListener{Index: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("rebuilt %s: %d records scanned, %d indexed in %s\n", ix.Name(), res.Scanned, res.Indexed, res.Duration)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [name] [key]",
		Short: "Prints the records indexed under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, key, err := indexAndKey(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			refs, err := ix.Get(key)
			if err != nil {
				return err
			}
			return printRefs(refs)
		},
	}
	rangeCmd = &cobra.Command{
		Use:   "range [name] [from] [to]",
		Short: "Prints the records indexed under keys between from and to",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, lo, err := indexAndKey(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			hi, err := parseKey(cmd, args[2])
			if err != nil {
				return err
			}
			exclusive, _ := cmd.Flags().GetBool("exclusive")
			refs, err := ix.GetBetween(lo, hi, !exclusive)
			if err != nil {
				return err
			}
			return printRefs(refs)
		},
	}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func parseKey(cmd *cobra.Command, raw string) (any, error) {
	keyType, _ := cmd.Flags().GetString("key-type")
	return util.ParseKey(raw, keyType)
}

func indexAndKey(cmd *cobra.Command, name, raw string) (dbindex.IIndex, any, error) {
	ix, err := util.DB.Index(name)
	if err != nil {
		return nil, nil, err
	}
	key, err := parseKey(cmd, raw)
	if err != nil {
		return nil, nil, err
	}
	return ix, key, nil
}

// printRefs prints each referenced document, or its identity if it is gone
func printRefs(refs *rid.Set) error {
	docs := util.DB.Documents()
	for _, id := range refs.IDs() {
		doc, err := docs.Load(id)
		if err != nil {
			fmt.Printf("%s <%v>\n", id, err)
			continue
		}
		fmt.Println(doc)
	}
	fmt.Printf("(%d records)\n", refs.Len())
	return nil
}
