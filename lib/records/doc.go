// Package records stores raw records addressed by rid.RID on top of a
// store.IStore.
//
// Records live in named partitions. Creating a record hands out the next
// position of its partition, positions are never reused. Each partition keeps
// its live positions in a roaring64 bitmap, so counting is O(1) and browsing
// walks positions in ascending order without scanning the key space.
//
// Key layout in the underlying store:
//
//	meta/partitions        JSON catalogue (id, name, next position)
//	meta/live/<pid>        roaring64 bitmap of live positions
//	rec/<pid>/<pos:016x>   record payload
//
// The catalogue and bitmaps are written by Flush. If a bitmap is missing on
// Open, it is rebuilt from the record keys.
package records
