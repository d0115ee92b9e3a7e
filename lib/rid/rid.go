package rid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Record Identity
// --------------------------------------------------------------------------

// RID is the identity of a stored record: the partition it lives in and its
// position inside that partition. Positions below zero are provisional, they
// are handed out inside an open transaction and replaced on commit.
type RID struct {
	Partition uint32
	Position  int64
}

// Invalid is the identity of a record that was never stored.
var Invalid = RID{Partition: math.MaxUint32, Position: -1}

// Provisional returns the n-th provisional identity for a partition (n >= 0).
func Provisional(partition uint32, n int64) RID {
	return RID{Partition: partition, Position: -(n + 2)}
}

// IsValid reports whether the identity points to a persistent record.
func (r RID) IsValid() bool {
	return r.Partition != math.MaxUint32 && r.Position >= 0
}

// IsProvisional reports whether the identity was assigned inside a transaction
// and still waits for its final position.
func (r RID) IsProvisional() bool {
	return r.Partition != math.MaxUint32 && r.Position < -1
}

// Identity makes RID satisfy Ref.
func (r RID) Identity() RID {
	return r
}

// Compare orders identities by partition, then position.
func (r RID) Compare(o RID) int {
	switch {
	case r.Partition < o.Partition:
		return -1
	case r.Partition > o.Partition:
		return 1
	case r.Position < o.Position:
		return -1
	case r.Position > o.Position:
		return 1
	}
	return 0
}

// String formats the identity as "#partition:position".
func (r RID) String() string {
	if r == Invalid {
		return "#-1:-1"
	}
	return fmt.Sprintf("#%d:%d", r.Partition, r.Position)
}

// Parse is the inverse of String.
func Parse(s string) (RID, error) {
	if s == "#-1:-1" {
		return Invalid, nil
	}
	body, ok := strings.CutPrefix(s, "#")
	if !ok {
		return Invalid, fmt.Errorf("invalid record id %q: missing '#'", s)
	}
	part, pos, ok := strings.Cut(body, ":")
	if !ok {
		return Invalid, fmt.Errorf("invalid record id %q: missing ':'", s)
	}
	p, err := strconv.ParseUint(part, 10, 32)
	if err != nil {
		return Invalid, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	n, err := strconv.ParseInt(pos, 10, 64)
	if err != nil {
		return Invalid, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return RID{Partition: uint32(p), Position: n}, nil
}

// MarshalText encodes the identity in its string form (used by JSON).
func (r RID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes the string form produced by MarshalText.
func (r *RID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// --------------------------------------------------------------------------
// References
// --------------------------------------------------------------------------

// Ref is anything that can report the identity of the record it stands for.
// The identity of a Ref may change over time (a provisional identity becomes
// final on commit), consumers must not assume it is stable.
type Ref interface {
	Identity() RID
}
