// Package maple implements the in-memory key-value engine (db.KVDB) that backs
// the record store. It focuses on concurrent access through sharding and on a
// compact binary snapshot format.
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     shards and provides the public API for key-value operations. The write index
//     is supplied by the caller (see store/lstore) and only ever moves forward.
//
//   - Shard: A partition of the key space backed by an xsync.MapOf. Keys are
//     hashed with a per-database seed (util.HashString) and the higher bits of the
//     hash pick the shard. Original keys are kept so Range can serve prefix scans.
//
//   - Entry: The stored value plus the write index of its last update.
//
// Internal Mechanisms:
//
//   - Stale Write Prevention: A write (set or delete) is only applied if its write
//     index is greater than or equal to the stored index of the entry.
//
//   - Persistence Format: The snapshot is a binary stream with the structure
//     1. Magic number "DDBMAPLE" to identify the file format
//     2. Version number (currently 1)
//     3. Database seed value for hash function consistency
//     4. Number of entries
//     5. For each entry: key length (u16), key, index, value length (u32), value bytes
//     Save takes a fuzzy snapshot that does not block writers. The caller is
//     responsible for quiescing writers when a consistent cut is required.
//
//   - Metrics: GetInfo reports an estimated size based on sampled entries and the
//     distribution of keys across shards.
package maple
