package records

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/ValentinKolb/dDB/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("records")

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrRecordNotFound is returned for identities without a live record
	ErrRecordNotFound = errors.New("record not found")
	// ErrPartitionUnknown is returned for partition ids or names never created
	ErrPartitionUnknown = errors.New("unknown partition")
)

// --------------------------------------------------------------------------
// Key layout
// --------------------------------------------------------------------------

const (
	catalogueKey = "meta/partitions"
	livePrefix   = "meta/live/"
	recordPrefix = "rec/"
)

func recordKey(id rid.RID) string {
	// fixed width positions keep keys of one partition lexically ordered
	return fmt.Sprintf("%s%d/%016x", recordPrefix, id.Partition, uint64(id.Position))
}

func partitionPrefix(pid uint32) string {
	return recordPrefix + strconv.FormatUint(uint64(pid), 10) + "/"
}

func liveKey(pid uint32) string {
	return livePrefix + strconv.FormatUint(uint64(pid), 10)
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

type partition struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	Next int64  `json:"next"` // next position to hand out

	live *roaring64.Bitmap
}

// Record is one entry produced by Browse
type Record struct {
	ID   rid.RID
	Data []byte
}

// Store keeps raw records addressed by RID on top of a key-value store.
// Positions inside a partition are handed out in ascending order and never
// reused. The set of live positions of each partition is a roaring bitmap,
// which makes Count cheap and lets Browse walk positions in order.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	kv     store.IStore
	byName map[string]*partition
	byID   map[uint32]*partition
	nextID uint32
}

// Open loads the partition catalogue from kv. A store without catalogue
// starts empty.
func Open(kv store.IStore) (*Store, error) {
	s := &Store{
		kv:     kv,
		byName: make(map[string]*partition),
		byID:   make(map[uint32]*partition),
	}

	raw, ok, err := kv.Get(catalogueKey)
	if err != nil {
		return nil, errors.Wrap(err, "read partition catalogue")
	}
	if !ok {
		return s, nil
	}

	var parts []*partition
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, errors.Wrap(err, "decode partition catalogue")
	}
	for _, p := range parts {
		if err := s.loadLive(p); err != nil {
			return nil, err
		}
		s.byName[p.Name] = p
		s.byID[p.ID] = p
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
	}
	log.Debugf("opened record store with %d partitions", len(parts))
	return s, nil
}

// loadLive restores the live bitmap of p, rebuilding it from the stored
// records when the persisted bitmap is missing
func (s *Store) loadLive(p *partition) error {
	p.live = roaring64.New()

	raw, ok, err := s.kv.Get(liveKey(p.ID))
	if err != nil {
		return errors.Wrapf(err, "read live set of partition %s", p.Name)
	}
	if ok {
		if err := p.live.UnmarshalBinary(raw); err != nil {
			return errors.Wrapf(err, "decode live set of partition %s", p.Name)
		}
		return nil
	}

	log.Warningf("live set of partition %s missing, rebuilding from records", p.Name)
	var parseErr error
	err = s.kv.Scan(partitionPrefix(p.ID), func(key string, _ []byte) bool {
		pos, err := strconv.ParseUint(key[len(partitionPrefix(p.ID)):], 16, 64)
		if err != nil {
			parseErr = errors.Wrapf(err, "malformed record key %q", key)
			return false
		}
		p.live.Add(pos)
		if int64(pos) >= p.Next {
			p.Next = int64(pos) + 1
		}
		return true
	})
	if err != nil {
		return err
	}
	return parseErr
}

// Flush persists the partition catalogue and the live bitmaps
func (s *Store) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]*partition, 0, len(s.byID))
	for _, p := range s.byID {
		parts = append(parts, p)
	}
	slices.SortFunc(parts, func(a, b *partition) int { return int(a.ID) - int(b.ID) })

	for _, p := range parts {
		raw, err := p.live.MarshalBinary()
		if err != nil {
			return errors.Wrapf(err, "encode live set of partition %s", p.Name)
		}
		if err := s.kv.Set(liveKey(p.ID), raw); err != nil {
			return errors.Wrapf(err, "write live set of partition %s", p.Name)
		}
	}

	raw, err := json.Marshal(parts)
	if err != nil {
		return errors.Wrap(err, "encode partition catalogue")
	}
	return errors.Wrap(s.kv.Set(catalogueKey, raw), "write partition catalogue")
}

// --------------------------------------------------------------------------
// Partitions
// --------------------------------------------------------------------------

// CreatePartition creates a partition or returns the id of the existing one
func (s *Store) CreatePartition(name string) (uint32, error) {
	if name == "" {
		return 0, errors.New("partition name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.byName[name]; ok {
		return p.ID, nil
	}
	p := &partition{ID: s.nextID, Name: name, live: roaring64.New()}
	s.nextID++
	s.byName[name] = p
	s.byID[p.ID] = p
	log.Infof("created partition %s (%d)", name, p.ID)
	return p.ID, nil
}

// PartitionID resolves a partition name
func (s *Store) PartitionID(name string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	return p.ID, true
}

// PartitionName resolves a partition id
func (s *Store) PartitionName(id uint32) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return p.Name, true
}

// Partitions returns all partition names in creation order
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]*partition, 0, len(s.byID))
	for _, p := range s.byID {
		parts = append(parts, p)
	}
	slices.SortFunc(parts, func(a, b *partition) int { return int(a.ID) - int(b.ID) })
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name
	}
	return names
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// Allocate reserves the next position of a partition without writing data
func (s *Store) Allocate(pid uint32) (rid.RID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[pid]
	if !ok {
		return rid.Invalid, errors.Wrapf(ErrPartitionUnknown, "partition %d", pid)
	}
	id := rid.RID{Partition: pid, Position: p.Next}
	p.Next++
	p.live.Add(uint64(id.Position))
	return id, nil
}

// Create allocates a position and writes data to it
func (s *Store) Create(pid uint32, data []byte) (rid.RID, error) {
	id, err := s.Allocate(pid)
	if err != nil {
		return rid.Invalid, err
	}
	if err := s.Write(id, data); err != nil {
		_ = s.Delete(id)
		return rid.Invalid, err
	}
	return id, nil
}

// Write replaces the content of an allocated record
func (s *Store) Write(id rid.RID, data []byte) error {
	if !s.Exists(id) {
		return errors.Wrapf(ErrRecordNotFound, "write %s", id)
	}
	return errors.Wrapf(s.kv.Set(recordKey(id), data), "write %s", id)
}

// Read returns the content of a record
func (s *Store) Read(id rid.RID) ([]byte, error) {
	if !s.Exists(id) {
		return nil, errors.Wrapf(ErrRecordNotFound, "read %s", id)
	}
	data, ok, err := s.kv.Get(recordKey(id))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", id)
	}
	if !ok {
		// allocated but never written
		return nil, nil
	}
	return data, nil
}

// Delete removes a record. Its position is not handed out again.
func (s *Store) Delete(id rid.RID) error {
	s.mu.Lock()
	p, ok := s.byID[id.Partition]
	if !ok || id.Position < 0 || !p.live.CheckedRemove(uint64(id.Position)) {
		s.mu.Unlock()
		return errors.Wrapf(ErrRecordNotFound, "delete %s", id)
	}
	s.mu.Unlock()
	return errors.Wrapf(s.kv.Delete(recordKey(id)), "delete %s", id)
}

// Exists reports whether id points to a live record
func (s *Store) Exists(id rid.RID) bool {
	if id.Position < 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id.Partition]
	return ok && p.live.Contains(uint64(id.Position))
}

// Count returns the number of live records of a partition
func (s *Store) Count(pid uint32) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[pid]
	if !ok {
		return 0, errors.Wrapf(ErrPartitionUnknown, "partition %d", pid)
	}
	return int64(p.live.GetCardinality()), nil
}

// Browse yields the live records of a partition in ascending position order.
// The set of positions is captured when iteration starts, records deleted
// while browsing are skipped.
func (s *Store) Browse(pid uint32) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		s.mu.RLock()
		p, ok := s.byID[pid]
		var positions *roaring64.Bitmap
		if ok {
			positions = p.live.Clone()
		}
		s.mu.RUnlock()

		if !ok {
			yield(Record{}, errors.Wrapf(ErrPartitionUnknown, "partition %d", pid))
			return
		}

		it := positions.Iterator()
		for it.HasNext() {
			id := rid.RID{Partition: pid, Position: int64(it.Next())}
			data, err := s.Read(id)
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			if !yield(Record{ID: id, Data: data}, err) || err != nil {
				return
			}
		}
	}
}
