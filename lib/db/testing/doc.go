// Package testing holds the conformance suite and benchmarks every db.KVDB
// engine has to pass. The record store relies on the behaviour checked here:
// last-writer-wins by write index, prefix Range over copied values and a
// Save/Load round trip that keeps keys, values and the write index.
//
// Usage from an engine package:
//
//	func Test(t *testing.T) {
//		dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB { return NewMapleDB(nil) })
//	}
//
//	func Benchmark(b *testing.B) {
//		dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB { return NewMapleDB(nil) })
//	}
package testing
