// Package index implements secondary indexes over a document store.
//
// An index maps keys extracted from documents to sets of record references
// and keeps them in a sortedmap.BTreeMap. Every access to the map goes
// through a reentrant shared/exclusive lock (lib/lock): reads share it, writes
// and the full Rebuild hold it exclusively. Internal helpers pass the owner
// token of the outer operation so nested acquisitions re-enter.
//
// # Types
//
// Unique indexes reject a second record under an existing key with
// ErrDuplicateKey. NotUnique indexes accept any number of records per key.
//
// # Rebuild
//
// Rebuild clears the index, counts the records of all tracked partitions,
// then browses them and inserts every document the extractor yields a key
// for. A ProgressListener sees OnBegin, one OnProgress per record and exactly
// one OnCompletion. Any failure clears the index and returns a *BuildError.
//
// # Transactions
//
// Documents created inside a transaction carry a provisional identity. Keys
// that received such a reference are remembered and re-inserted with
// rehashed sets after the commit, when the documents report their final
// identity. A rollback just forgets them.
//
// # Persistence
//
// The configuration record (common.IndexConfiguration) names the backing map.
// Serialize and Deserialize convert it with a lib/serializer codec.
// LoadFromConfiguration restores an index and loads its map, or reports false
// if the record has no map yet.
//
// Four hooks per index publish the map counters to a hooks.Registry:
// index.<name>.items, .entryPointSize, .maxUpdateBeforeSave and
// .optimizationThreshold.
package index
