package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Seeds
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed for per-instance hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// no entropy available, the clock is still good enough for sharding
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is a hashed key
type UintKey uint64

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// HashString hashes s with FNV-1a, mixing the seed into the offset basis so
// that two engines with different seeds distribute the same keys differently
func HashString(s string, seed uint64) UintKey {
	hash := uint64(fnvOffset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return UintKey(hash)
}
