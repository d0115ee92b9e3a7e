package index

import (
	"context"
	"iter"
	"time"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/rid"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Document is a record an index can extract keys from
type Document interface {
	rid.Ref
	Partition() string
	Field(name string) (any, bool)
}

// RecordSource enumerates the records of a partition. It is only used by
// rebuilds. Records that are not a Document are counted but not indexed.
type RecordSource interface {
	Count(partition string) (int64, error)
	Browse(partition string) iter.Seq2[rid.Ref, error]
}

// EventSource delivers transaction and record events of a document store
type EventSource interface {
	RegisterListener(l docstore.DatabaseListener)
	UnregisterListener(l docstore.DatabaseListener)
	RegisterRecordListener(l docstore.RecordListener)
	UnregisterRecordListener(l docstore.RecordListener)
}

// ValueExtractor returns the key a document is indexed under. ok=false
// means the document is not indexable, which is not an error.
type ValueExtractor func(doc Document) (key any, ok bool, err error)

// ProgressListener follows a rebuild. OnCompletion is called exactly once
// per rebuild.
type ProgressListener interface {
	OnBegin(total int64)
	OnProgress(scanned int64, percent int)
	OnCompletion(success bool)
}

// Result summarizes a successful rebuild
type Result struct {
	Scanned  int64         // records visited
	Indexed  int64         // records inserted
	Duration time.Duration // wall time including the flush
}

// --------------------------------------------------------------------------
// Index Interface
// --------------------------------------------------------------------------

// IIndex is a secondary index mapping extracted keys to sets of record
// references. Reads hold the index lock in shared mode for the duration of
// the call, writes hold it exclusively.
//
// An index also listens to its document store: it fixes up references that
// received their final identity on commit and, when automatic, follows
// record changes in its tracked partitions.
type IIndex interface {
	docstore.DatabaseListener
	docstore.RecordListener

	// --------------------------------------------------------------------------
	// Read Operations
	// --------------------------------------------------------------------------

	// Get returns the references stored under key. A miss yields an empty set.
	Get(key any) (*rid.Set, error)

	// GetBetween returns the union of the sets of all keys between lo and hi.
	// inclusive applies to both bounds. lo and hi must have the same concrete
	// type, otherwise the error matches ErrInvalidArgument.
	GetBetween(lo, hi any, inclusive bool) (*rid.Set, error)

	// Size returns the number of keys
	Size() (int, error)

	// Entries returns a snapshot of all entries in key order
	Entries() (iter.Seq2[any, *rid.Set], error)

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put adds ref to the set of key, subject to the type's policy
	Put(key any, ref rid.Ref) error

	// Remove deletes key with all its references
	Remove(key any) error

	// RemoveRef deletes ref from the set of key, and key once its set is empty
	RemoveRef(key any, ref rid.Ref) error

	// Clear removes every entry. Partitions and configuration are kept.
	Clear() error

	// Rebuild clears the index and scans all tracked partitions. On failure
	// the index is left empty and the error is a *BuildError.
	Rebuild(ctx context.Context, listener ProgressListener) (Result, error)

	// CheckEntry validates an entry before it is inserted by a record event
	CheckEntry(doc Document, key any) error

	// --------------------------------------------------------------------------
	// Lifecycle
	// --------------------------------------------------------------------------

	// Create binds a new backing map, registers the hooks and subscribes to
	// the store events
	Create(name string, partitions []string, automatic bool) error

	// LoadFromConfiguration restores the index from a configuration record and
	// loads its map. It returns false, and no error, when the record names no
	// backing map.
	LoadFromConfiguration(cfg *common.IndexConfiguration) (bool, error)

	// Load materializes the backing map
	Load() error

	// Unload saves pending changes and releases the backing map
	Unload() error

	// LazySave flushes once enough updates accumulated
	LazySave() error

	// Flush saves the backing map unconditionally
	Flush() error

	// Delete removes the backing map permanently and unsubscribes
	Delete() error

	// Serialize encodes the configuration record
	Serialize() ([]byte, error)

	// Deserialize restores the configuration record and rebinds the map
	// identity without loading the map
	Deserialize(b []byte) error

	// --------------------------------------------------------------------------
	// Introspection
	// --------------------------------------------------------------------------

	Name() string
	SetName(name string)
	Type() Type
	IsAutomatic() bool
	Identity() rid.RID
	Partitions() []string
	AddPartition(name string)
	Configuration() common.IndexConfiguration
	Stats() StatsSnapshot
	String() string
}
