// Package lstore implements store.IStore for a single process on top of any
// db.KVDB engine, normally maple.
//
// Every write is tagged with the next value of an atomic write index, which
// keeps the engine's last-writer-wins rule consistent with call order. Load
// moves the counter past the highest index found in the snapshot so writes
// after a restart are not dropped as stale.
//
// Operations the engine does not support fail with RetCUnsupportedOperation,
// and every operation after Close fails with RetCInvalidOperation.
//
// Usage:
//
//	kv := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
//	_ = kv.Set("config/index/byName", raw)
//	value, ok, err := kv.Get("config/index/byName")
package lstore
