// Package docstore stores schemaless documents in the partitions of a record
// store.
//
// Documents are JSON objects. A document gets its identity when it is first
// saved; inside a transaction that identity is provisional and becomes final
// on commit. Record listeners see every create, update and delete before it
// is visible and may veto it, which is how automatic indexes stay in sync.
// Database listeners see the lifecycle and the transaction boundaries.
//
// The store is the record source indexes are rebuilt from: Count and Browse
// operate on partition names.
package docstore
