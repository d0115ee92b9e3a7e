// Package util provides helpers shared by the db.KVDB engines and the
// storage layers built on them.
//
// The package contains:
//   - functions: seed generation and seeded FNV-1a string hashing used for shard selection
//   - statistics: spread statistics (shard or page balance) and a SizeHistogram for
//     estimating value sizes without keeping every sample
package util
