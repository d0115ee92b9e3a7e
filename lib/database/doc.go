// Package database ties the storage layers together into an embedded
// document database with secondary indexes.
//
// Open builds the stack bottom-up: the maple engine behind a local store,
// the record store and the document store. With a DataDir the engine
// content is read from DataDir/ddb.maple first, and Sync or Close write it
// back through a temporary file that replaces the old one.
//
// Indexes are created with CreateIndex, which builds them from the existing
// documents before they become visible. Their configuration records live
// under config/index/<name> in the same key-value store and are restored on
// the next Open. Automatic indexes subscribe to the document store and stay
// current as documents are saved and deleted.
//
// Usage:
//
//	cfg := common.DefaultDatabaseConfig()
//	cfg.DataDir = "/var/lib/ddb"
//	d, err := database.Open(cfg)
//	...
//	ix, _, err := d.CreateIndex(ctx, database.IndexDefinition{
//		Name:       "byName",
//		Type:       index.NotUnique,
//		Field:      "name",
//		Partitions: []string{"Person"},
//		Automatic:  true,
//	}, nil)
//	refs, err := ix.Get("Ada")
package database
