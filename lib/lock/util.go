package lock

import "sync/atomic"

var ownerSeq atomic.Uint64

// NewOwner returns a process-unique owner token.
func NewOwner() Owner {
	return Owner(ownerSeq.Add(1))
}
