// Package rid defines record identities and reference sets.
//
// A RID addresses a record by partition and position. Records created inside
// an open transaction carry a provisional RID (negative position) until the
// transaction commits, at which point the record store assigns the final one.
// Anything that stands for a record implements Ref, which reports the identity
// the record has right now.
//
// Set groups references with unique membership by identity. Because the key
// of a member is captured when it is added, a set whose members changed
// identity has to be rebuilt with Rehash before lookups by the new identity
// succeed. Secondary indexes rely on this after a commit.
package rid
