// Package common provides the data structures and utilities shared across
// the packages of the embedded database.
//
// Key Components:
//
//   - DatabaseConfig: Configuration of a database instance (storage location,
//     cache size, index page layout, save thresholds, logging) with validation
//     and a sectioned String() printer used by the CLI.
//
//   - IndexConfiguration: The persisted description of a secondary index
//     (type, name, automatic flag, tracked partitions, backing map identity).
//     The serializer package encodes it in JSON, gob or a compact binary form.
//
//   - Logger: Custom logging implementation plugged into dragonboat's logger
//     facade, giving all packages the same "LEVEL | package | message" format.
package common
