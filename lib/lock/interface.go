package lock

// Owner identifies the holder of a lock. Go has no goroutine identity, so
// callers that want reentrancy carry their owner token explicitly and pass it
// to every nested acquisition. The zero Owner is never handed out.
type Owner uint64

// ILock is a reentrant shared/exclusive lock.
//
// Shared holds nest per owner and are admitted as long as no other owner
// holds the exclusive lock, they never queue behind waiting writers. The
// owner of the exclusive lock may acquire it again and may also take shared
// holds. Upgrading a pure shared hold to exclusive is a programming error and
// panics, as does releasing a hold that is not held.
type ILock interface {
	// AcquireShared blocks until the owner holds the lock in shared mode.
	AcquireShared(owner Owner)
	// ReleaseShared drops one shared hold of the owner.
	ReleaseShared(owner Owner)
	// AcquireExclusive blocks until the owner holds the lock exclusively.
	AcquireExclusive(owner Owner)
	// ReleaseExclusive drops one exclusive hold of the owner.
	ReleaseExclusive(owner Owner)
	// HoldsExclusive reports whether the owner currently holds the exclusive lock.
	HoldsExclusive(owner Owner) bool
}
