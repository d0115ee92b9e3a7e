package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [partition] [json]",
		Short: "Saves a document given as JSON object",
		Long:  "Saves a document given as JSON object. The partition is created if it does not exist. Automatic indexes over the partition are updated.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			partition := args[0]
			fields, err := parseFields(args[1])
			if err != nil {
				return err
			}
			docs := util.DB.Documents()
			if err := docs.CreatePartition(partition); err != nil {
				return err
			}

			var doc *docstore.Document
			if raw, _ := cmd.Flags().GetString("id"); raw != "" {
				id, err := rid.Parse(raw)
				if err != nil {
					return err
				}
				if doc, err = docs.Load(id); err != nil {
					return err
				}
				for k, v := range fields {
					doc.Set(k, v)
				}
			} else {
				doc = docstore.NewDocument(fields)
			}

			if err := docs.Save(partition, doc); err != nil {
				return err
			}
			fmt.Println(doc.Identity())
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [rid]",
		Short: "Prints a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := rid.Parse(args[0])
			if err != nil {
				return err
			}
			doc, err := util.DB.Documents().Load(id)
			if err != nil {
				return err
			}
			fmt.Println(doc)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [rid]",
		Short: "Deletes a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := rid.Parse(args[0])
			if err != nil {
				return err
			}
			docs := util.DB.Documents()
			doc, err := docs.Load(id)
			if err != nil {
				return err
			}
			if err := docs.Delete(doc); err != nil {
				return err
			}
			fmt.Println("deleted", id)
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [partition]",
		Short: "Prints the documents of a partition, or the partitions if none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := util.DB.Documents()
			if len(args) == 0 {
				for _, p := range docs.Partitions() {
					n, err := docs.Count(p)
					if err != nil {
						return err
					}
					fmt.Printf("%-20s %d records\n", p, n)
				}
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			printed := 0
			for ref, err := range docs.Browse(args[0]) {
				if err != nil {
					return err
				}
				if limit > 0 && printed >= limit {
					break
				}
				switch r := ref.(type) {
				case *docstore.Document:
					fmt.Println(r)
				case *docstore.Blob:
					fmt.Printf("%s <blob, %d bytes>\n", r.Identity(), len(r.Data))
				}
				printed++
			}
			return nil
		},
	}
)

// parseFields decodes a JSON object, keeping numbers exact
func parseFields(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return fields, nil
}
