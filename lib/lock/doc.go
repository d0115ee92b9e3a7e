// Package lock provides the reentrant shared/exclusive lock that guards a
// secondary index.
//
// Reads (lookups, range scans, size) take the lock in shared mode and may run
// in parallel. Structural changes (put, remove, clear, rebuild, load, unload,
// transaction fixup) take it exclusively. Since a rebuild calls clear, put
// and lazy save while already holding the exclusive lock, the lock is
// reentrant for its owner.
//
// Ownership:
//
//	Go has no notion of a current goroutine that a lock could key on, so the
//	caller names itself with an Owner token created by NewOwner. Every nested
//	acquisition passes the same token. Two different tokens never share a hold,
//	even when they are used from the same goroutine.
//
// Fairness:
//
//	The lock is reader-preferring. A steady stream of readers can delay a
//	waiting writer, but a nested shared acquisition can never deadlock behind
//	a writer that queued in between.
//
// Usage Example:
//
//	l := lock.NewLock()
//	owner := lock.NewOwner()
//
//	l.AcquireExclusive(owner)
//	defer l.ReleaseExclusive(owner)
//
//	// nested call with the same owner does not block
//	l.AcquireExclusive(owner)
//	l.ReleaseExclusive(owner)
package lock
