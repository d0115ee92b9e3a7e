// Package db provides a standardized interface for key-value database implementations.
// It defines the KVDB interface that the storage layers above (store, records) are
// written against, while abstracting implementation details.
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for basic operations (Set, Get, Has, Delete), prefix scans
//     (Range), metadata retrieval (GetInfo), and persistence operations (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method. This allows clients to
//     discover supported operations at runtime.
//
//   - Implementation Identifiers: The Implementation type provides string constants
//     for different database backends (currently "maple").
//
//   - Database Information: The DatabaseInfo structure provides standardized
//     reporting on database state. Size statistics are estimates since a precise
//     calculation can be expensive.
//
// Note on Write Indices:
//   - All write operations take a write-index parameter that serves as a logical
//     timestamp. A write older than the stored entry is ignored.
//   - All implementations must ensure that the write-index only increases
//     monotonically. Attempts to set a write-index lower than the current one must be ignored.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/dDB/lib/db/engines/maple) provides the
// sharded in-memory implementation of the KVDB interface.
//
// The util package (github.com/ValentinKolb/dDB/lib/db/util) provides seeded hashing and
// size statistics used by the engines.
//
// The testing package (github.com/ValentinKolb/dDB/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
