// Package serializer encodes index configuration records
// (common.IndexConfiguration) for persistence in the record store.
//
// Key Components:
//
//   - IConfigSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Compact binary format. A version byte and a flag byte
//     are followed by the type and name and then only the optional fields that
//     are present. The default for new databases.
//
//   - jsonSerializerImpl: JSON encoding, human-readable and handy for debugging.
//
//   - gobSerializerImpl: Go's gob encoding. gob cannot represent an absent
//     pointer next to a zero value, so the implementation carries presence flags
//     in its own wire struct.
//
// Absent fields survive a round trip in all formats: a record without the
// automatic flag decodes without it (and is treated as automatic), a record
// without a map identity decodes without one.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, _ := serializer.New("binary")
//	data, err := s.Serialize(*cfg)
//	var restored common.IndexConfiguration
//	err = s.Deserialize(data, &restored)
package serializer
