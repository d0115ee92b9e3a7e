package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDB/lib/rid"
)

// --------------------------------------------------------------------------
// Document
// --------------------------------------------------------------------------

// Document is a record holding named fields. Its identity is assigned by the
// store: invalid before the first save, provisional while its creating
// transaction is open, final after commit. The same *Document is handed out
// for the same record as long as it stays cached, so references kept by
// indexes observe the identity change.
//
// Thread-safety: all methods are safe for concurrent use.
type Document struct {
	id        atomic.Pointer[rid.RID]
	partition atomic.Pointer[string]

	mu     sync.RWMutex
	fields map[string]any
	saved  map[string]any // fields as of the last save, nil if never saved
}

// NewDocument creates an unsaved document with a copy of fields
func NewDocument(fields map[string]any) *Document {
	d := &Document{fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		d.fields[k] = normalizeValue(v)
	}
	return d
}

// Identity returns the current identity, rid.Invalid if never saved
func (d *Document) Identity() rid.RID {
	if p := d.id.Load(); p != nil {
		return *p
	}
	return rid.Invalid
}

func (d *Document) setIdentity(id rid.RID) {
	d.id.Store(&id)
}

// Partition returns the name of the partition the document was saved to
func (d *Document) Partition() string {
	if p := d.partition.Load(); p != nil {
		return *p
	}
	return ""
}

func (d *Document) setPartition(name string) {
	d.partition.Store(&name)
}

// Field returns a field value. Dotted names descend into nested objects.
func (d *Document) Field(name string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lookup(d.fields, name)
}

// Set assigns a field. Integers are stored as int64 and floats as float64.
func (d *Document) Set(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields[name] = normalizeValue(value)
}

// Unset removes a field
func (d *Document) Unset(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fields, name)
}

// Fields returns a shallow copy of all fields
func (d *Document) Fields() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.fields)
}

func (d *Document) String() string {
	b, _ := d.MarshalJSON()
	return fmt.Sprintf("%s %s", d.Identity(), b)
}

// MarshalJSON encodes the fields of the document
func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(d.fields)
}

// snapshot returns a detached copy carrying the given fields together with the
// current identity and partition. Listeners receive snapshots as "before" state.
func (d *Document) snapshot(fields map[string]any) *Document {
	s := &Document{fields: fields}
	if s.fields == nil {
		s.fields = map[string]any{}
	}
	s.setIdentity(d.Identity())
	s.setPartition(d.Partition())
	return s
}

// savedSnapshot returns the state as of the last save
func (d *Document) savedSnapshot() *Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot(maps.Clone(d.saved))
}

// markSaved records the current fields as persisted state
func (d *Document) markSaved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = maps.Clone(d.fields)
}

// restore replaces the fields (used by rollback)
func (d *Document) restore(fields map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields = maps.Clone(fields)
	if d.fields == nil {
		d.fields = map[string]any{}
	}
	d.saved = maps.Clone(d.fields)
}

// --------------------------------------------------------------------------
// Blob
// --------------------------------------------------------------------------

// Blob is a raw record without fields. It is stored and browsed like a
// document but never indexed.
type Blob struct {
	id        rid.RID
	partition string
	Data      []byte
}

func (b *Blob) Identity() rid.RID  { return b.id }
func (b *Blob) Partition() string { return b.partition }

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

const (
	kindDocument byte = 'd'
	kindBlob     byte = 'b'
)

func encodeDocument(d *Document) ([]byte, error) {
	body, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return append([]byte{kindDocument}, body...), nil
}

func decodeRecord(id rid.RID, partition string, data []byte) (rid.Ref, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("record %s is empty", id)
	}
	switch data[0] {
	case kindDocument:
		dec := json.NewDecoder(bytes.NewReader(data[1:]))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		doc := NewDocument(fields)
		doc.setIdentity(id)
		doc.setPartition(partition)
		doc.markSaved()
		return doc, nil
	case kindBlob:
		return &Blob{id: id, partition: partition, Data: bytes.Clone(data[1:])}, nil
	default:
		return nil, fmt.Errorf("record %s has unknown kind %q", id, data[0])
	}
}

// normalizeValue maps numbers onto int64/float64 so that a value reads back
// with the same type it was saved with
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func lookup(fields map[string]any, name string) (any, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	head, rest, ok := strings.Cut(name, ".")
	if !ok {
		return nil, false
	}
	nested, ok := fields[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(nested, rest)
}
