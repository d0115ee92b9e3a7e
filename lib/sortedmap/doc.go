// Package sortedmap provides BTreeMap, an ordered map from keys to record
// reference sets that persists itself as records.
//
// Keys are normalized to string, int64, float64, bool, time.Time or rid.RID.
// Keys of different kinds order by kind; integers and floats compare by value.
//
// # Persistence
//
// A map is identified by its header record. The header lists the page
// records together with the xxhash checksum and first key of each page. A
// page holds up to Options.PageSize consecutive entries and is compressed
// with zstd or lz4 when configured.
//
// A loaded map holds every entry in memory. Updates only mark it dirty:
// LazySave writes once Options.MaxUpdatesBeforeSave updates accumulated,
// Save writes right away, and Unload saves before dropping the entries.
// Saving compares page checksums and rewrites only pages that changed. After
// Options.OptimizeThreshold removals the next save writes all pages from
// scratch and releases the old ones.
package sortedmap
