package rid

import (
	"slices"
	"strings"
)

// Set is an unordered collection of references with unique membership by
// identity. Members are keyed by the identity they reported when they were
// added, so a member whose identity changed afterwards is only found again
// after Rehash.
//
// Thread-safety: Set is not safe for concurrent use.
type Set struct {
	refs map[RID]Ref
}

// NewSet creates a set holding the given references.
func NewSet(refs ...Ref) *Set {
	s := &Set{refs: make(map[RID]Ref, len(refs))}
	for _, r := range refs {
		s.Add(r)
	}
	return s
}

// Add inserts the reference and reports whether it was not yet present.
func (s *Set) Add(r Ref) bool {
	id := r.Identity()
	if _, ok := s.refs[id]; ok {
		return false
	}
	s.refs[id] = r
	return true
}

// Remove deletes the member with the current identity of r.
func (s *Set) Remove(r Ref) bool {
	id := r.Identity()
	if _, ok := s.refs[id]; !ok {
		return false
	}
	delete(s.refs, id)
	return true
}

// Contains reports whether a member is keyed by the current identity of r.
func (s *Set) Contains(r Ref) bool {
	if s == nil {
		return false
	}
	_, ok := s.refs[r.Identity()]
	return ok
}

// Len returns the number of members. A nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.refs)
}

// Refs returns the members ordered by the identity they are keyed under.
func (s *Set) Refs() []Ref {
	if s == nil {
		return nil
	}
	keys := s.keys()
	out := make([]Ref, len(keys))
	for i, k := range keys {
		out[i] = s.refs[k]
	}
	return out
}

// IDs returns the current identities of all members in ascending order.
func (s *Set) IDs() []RID {
	if s == nil {
		return nil
	}
	out := make([]RID, 0, len(s.refs))
	for _, r := range s.refs {
		out = append(out, r.Identity())
	}
	slices.SortFunc(out, RID.Compare)
	return out
}

// Union adds every member of o to s.
func (s *Set) Union(o *Set) {
	if o == nil {
		return
	}
	for k, r := range o.refs {
		if _, ok := s.refs[k]; !ok {
			s.refs[k] = r
		}
	}
}

// Clone returns a shallow copy that keeps the keys of s as they are.
func (s *Set) Clone() *Set {
	c := &Set{refs: make(map[RID]Ref, s.Len())}
	if s != nil {
		for k, r := range s.refs {
			c.refs[k] = r
		}
	}
	return c
}

// Rehash returns a fresh set holding the same members, each keyed by the
// identity it reports now. Members that collapsed onto the same identity are
// kept once.
func (s *Set) Rehash() *Set {
	c := &Set{refs: make(map[RID]Ref, s.Len())}
	if s != nil {
		for _, r := range s.refs {
			c.Add(r)
		}
	}
	return c
}

// Stale reports whether any member is keyed under an identity it no longer has.
func (s *Set) Stale() bool {
	if s == nil {
		return false
	}
	for k, r := range s.refs {
		if r.Identity() != k {
			return true
		}
	}
	return false
}

func (s *Set) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, id := range s.IDs() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(id.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

func (s *Set) keys() []RID {
	keys := make([]RID, 0, len(s.refs))
	for k := range s.refs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, RID.Compare)
	return keys
}
