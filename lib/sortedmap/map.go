package sortedmap

import (
	"fmt"
	"iter"
	"slices"
	"sync/atomic"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/records"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("sortedmap")

// ErrNotLoaded is returned by data operations while the map is unloaded
var ErrNotLoaded = errors.New("map not loaded")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options tune paging and flushing of a map
type Options struct {
	PageSize             int                // entries per page record
	MaxUpdatesBeforeSave int                // dirty updates after which LazySave writes
	OptimizeThreshold    int                // removals after which Save rewrites every page
	Compression          common.Compression // page compression
}

// DefaultOptions derives the options from the database defaults
func DefaultOptions() Options {
	return OptionsFrom(common.DefaultDatabaseConfig())
}

// OptionsFrom takes the map related settings of a database configuration
func OptionsFrom(cfg common.DatabaseConfig) Options {
	return Options{
		PageSize:             cfg.PageSize,
		MaxUpdatesBeforeSave: cfg.MaxUpdatesBeforeSave,
		OptimizeThreshold:    cfg.OptimizeThreshold,
		Compression:          cfg.Compression,
	}
}

// --------------------------------------------------------------------------
// Map
// --------------------------------------------------------------------------

type entry struct {
	key   any
	value *rid.Set
}

func lessEntry(a, b entry) bool {
	return Compare(a.key, b.key) < 0
}

// BTreeMap is an ordered key -> reference set map kept in a B-tree and
// persisted as paged records. The header record is the identity of the map.
// While loaded, all entries are resident and pages only matter for saving.
// Saving rewrites the pages whose content changed.
//
// Thread-safety: BTreeMap is not safe for concurrent use. Size and the
// introspection counters may be read concurrently with other calls.
type BTreeMap struct {
	records *records.Store
	id      rid.RID
	opts    Options

	tree    *btree.BTreeG[entry]
	pages   []pageRef
	dirty   int
	removed int

	size        atomic.Int64
	entryPoints atomic.Int64
}

// New creates an empty map in the given partition and writes its header.
// The map starts loaded.
func New(rs *records.Store, partition uint32, opts Options) (*BTreeMap, error) {
	m := &BTreeMap{records: rs, opts: sanitize(opts), tree: newTree()}
	header, err := encodeHeader(0, nil)
	if err != nil {
		return nil, err
	}
	if m.id, err = rs.Create(partition, header); err != nil {
		return nil, errors.Wrap(err, "create map header")
	}
	log.Debugf("created map %s", m.id)
	return m, nil
}

// Open binds to an existing map without loading it
func Open(rs *records.Store, identity rid.RID, opts Options) *BTreeMap {
	return &BTreeMap{records: rs, id: identity, opts: sanitize(opts)}
}

func sanitize(opts Options) Options {
	if opts.PageSize < 1 {
		opts.PageSize = common.DefaultDatabaseConfig().PageSize
	}
	if opts.Compression == "" {
		opts.Compression = common.CompressionNone
	}
	return opts
}

func newTree() *btree.BTreeG[entry] {
	return btree.NewG[entry](32, lessEntry)
}

// Identity returns the identity of the header record
func (m *BTreeMap) Identity() rid.RID {
	return m.id
}

// IsLoaded reports whether the entries are resident
func (m *BTreeMap) IsLoaded() bool {
	return m.tree != nil
}

// Rebind points the map at another identity. Resident entries are dropped
// without saving. The map has to be loaded afterwards.
func (m *BTreeMap) Rebind(identity rid.RID) {
	m.id = identity
	m.drop()
	m.size.Store(0)
}

func (m *BTreeMap) drop() {
	m.tree = nil
	m.pages = nil
	m.dirty = 0
	m.removed = 0
	m.entryPoints.Store(0)
}

// --------------------------------------------------------------------------
// Data operations
// --------------------------------------------------------------------------

// Get returns the set stored under key. The set is owned by the map.
func (m *BTreeMap) Get(key any) (*rid.Set, bool, error) {
	if m.tree == nil {
		return nil, false, ErrNotLoaded
	}
	k, err := Normalize(key)
	if err != nil {
		return nil, false, err
	}
	e, ok := m.tree.Get(entry{key: k})
	return e.value, ok, nil
}

// Put stores set under key, replacing a previous value
func (m *BTreeMap) Put(key any, set *rid.Set) error {
	if m.tree == nil {
		return ErrNotLoaded
	}
	k, err := Normalize(key)
	if err != nil {
		return err
	}
	m.tree.ReplaceOrInsert(entry{key: k, value: set})
	m.dirty++
	m.size.Store(int64(m.tree.Len()))
	return nil
}

// Remove deletes key and reports whether it was present
func (m *BTreeMap) Remove(key any) (bool, error) {
	if m.tree == nil {
		return false, ErrNotLoaded
	}
	k, err := Normalize(key)
	if err != nil {
		return false, err
	}
	if _, ok := m.tree.Delete(entry{key: k}); !ok {
		return false, nil
	}
	m.dirty++
	m.removed++
	m.size.Store(int64(m.tree.Len()))
	return true, nil
}

// Clear removes every entry
func (m *BTreeMap) Clear() error {
	if m.tree == nil {
		return ErrNotLoaded
	}
	n := m.tree.Len()
	m.tree.Clear(false)
	if n > 0 {
		m.dirty += n
		m.removed += n
	}
	m.size.Store(0)
	return nil
}

// Size returns the number of keys. For an unloaded map it is the count
// recorded at the last save or load.
func (m *BTreeMap) Size() int {
	return int(m.size.Load())
}

// Range yields the entries between lo and hi in key order. A nil bound is
// open. The map must not be modified while the sequence is consumed.
func (m *BTreeMap) Range(lo any, loInclusive bool, hi any, hiInclusive bool) (iter.Seq2[any, *rid.Set], error) {
	if m.tree == nil {
		return nil, ErrNotLoaded
	}
	var err error
	if lo != nil {
		if lo, err = Normalize(lo); err != nil {
			return nil, err
		}
	}
	if hi != nil {
		if hi, err = Normalize(hi); err != nil {
			return nil, err
		}
	}

	tree := m.tree
	return func(yield func(any, *rid.Set) bool) {
		visit := func(e entry) bool {
			if lo != nil && !loInclusive && Compare(e.key, lo) == 0 {
				return true
			}
			if hi != nil {
				c := Compare(e.key, hi)
				if c > 0 || (c == 0 && !hiInclusive) {
					return false
				}
			}
			return yield(e.key, e.value)
		}
		if lo == nil {
			tree.Ascend(visit)
		} else {
			tree.AscendGreaterOrEqual(entry{key: lo}, visit)
		}
	}, nil
}

// Ascend yields all entries in key order
func (m *BTreeMap) Ascend() (iter.Seq2[any, *rid.Set], error) {
	return m.Range(nil, false, nil, false)
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// EntryPointSize returns the number of resident page anchors
func (m *BTreeMap) EntryPointSize() int {
	return int(m.entryPoints.Load())
}

// MaxUpdatesBeforeSave returns the dirty update threshold of LazySave
func (m *BTreeMap) MaxUpdatesBeforeSave() int {
	return m.opts.MaxUpdatesBeforeSave
}

// OptimizeThreshold returns the number of removals after which a save
// rewrites every page
func (m *BTreeMap) OptimizeThreshold() int {
	return m.opts.OptimizeThreshold
}

// Dirty returns the number of updates since the last save
func (m *BTreeMap) Dirty() int {
	return m.dirty
}

func (m *BTreeMap) String() string {
	state := "unloaded"
	if m.IsLoaded() {
		state = "loaded"
	}
	return fmt.Sprintf("map %s (%s, %d keys, %d pages)", m.id, state, m.Size(), m.EntryPointSize())
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Load reads the header and all pages. Loading a loaded map is a no-op.
func (m *BTreeMap) Load() error {
	if m.tree != nil {
		return nil
	}
	raw, err := m.records.Read(m.id)
	if err != nil {
		return errors.Wrapf(err, "load map %s", m.id)
	}
	size, pages, err := decodeHeader(raw)
	if err != nil {
		return errors.Wrapf(err, "load map %s", m.id)
	}

	tree := newTree()
	for _, p := range pages {
		data, err := m.records.Read(p.id)
		if err != nil {
			return errors.Wrapf(err, "load page %s of map %s", p.id, m.id)
		}
		payload, err := decompress(data)
		if err != nil {
			return errors.Wrapf(err, "load page %s of map %s", p.id, m.id)
		}
		if checksum(payload) != p.checksum {
			return errors.Wrapf(ErrCorrupt, "checksum mismatch on page %s of map %s", p.id, m.id)
		}
		entries, err := decodePage(payload)
		if err != nil {
			return errors.Wrapf(err, "load page %s of map %s", p.id, m.id)
		}
		for _, e := range entries {
			tree.ReplaceOrInsert(e)
		}
	}
	if int64(tree.Len()) != size {
		log.Warningf("map %s: header counts %d keys, pages hold %d", m.id, size, tree.Len())
	}

	m.tree = tree
	m.pages = pages
	m.dirty = 0
	m.removed = 0
	m.size.Store(int64(tree.Len()))
	m.entryPoints.Store(int64(len(pages)))
	log.Debugf("loaded map %s with %d keys in %d pages", m.id, tree.Len(), len(pages))
	return nil
}

// Unload saves pending changes and drops the resident entries
func (m *BTreeMap) Unload() error {
	if m.tree == nil {
		return nil
	}
	if m.dirty > 0 {
		if err := m.Save(); err != nil {
			return err
		}
	}
	m.drop()
	return nil
}

// LazySave saves once the number of dirty updates reached
// MaxUpdatesBeforeSave and reports whether it did
func (m *BTreeMap) LazySave() (bool, error) {
	if m.tree == nil || m.dirty == 0 || m.dirty < m.opts.MaxUpdatesBeforeSave {
		return false, nil
	}
	return true, m.Save()
}

// Save writes every changed page and the header. Once OptimizeThreshold
// removals accumulated all pages are rewritten from scratch.
func (m *BTreeMap) Save() error {
	if m.tree == nil {
		return ErrNotLoaded
	}
	optimize := m.opts.OptimizeThreshold > 0 && m.removed >= m.opts.OptimizeThreshold

	var chunks [][]entry
	chunk := make([]entry, 0, m.opts.PageSize)
	m.tree.Ascend(func(e entry) bool {
		chunk = append(chunk, e)
		if len(chunk) == m.opts.PageSize {
			chunks = append(chunks, chunk)
			chunk = make([]entry, 0, m.opts.PageSize)
		}
		return true
	})
	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}

	old := m.pages
	if optimize {
		old = nil
	}
	pages := make([]pageRef, 0, len(chunks))
	written := 0
	for i, c := range chunks {
		payload, err := encodePage(c)
		if err != nil {
			return errors.Wrapf(err, "save map %s", m.id)
		}
		sum := checksum(payload)
		if i < len(old) && old[i].checksum == sum {
			pages = append(pages, pageRef{id: old[i].id, checksum: sum, first: c[0].key})
			continue
		}
		data, err := compress(m.opts.Compression, payload)
		if err != nil {
			return errors.Wrapf(err, "save map %s", m.id)
		}
		var id rid.RID
		if i < len(old) {
			id = old[i].id
			err = m.records.Write(id, data)
		} else {
			id, err = m.records.Create(m.id.Partition, data)
		}
		if err != nil {
			return errors.Wrapf(err, "save page of map %s", m.id)
		}
		pages = append(pages, pageRef{id: id, checksum: sum, first: c[0].key})
		written++
	}

	header, err := encodeHeader(int64(m.tree.Len()), pages)
	if err != nil {
		return errors.Wrapf(err, "save map %s", m.id)
	}
	if err := m.records.Write(m.id, header); err != nil {
		return errors.Wrapf(err, "save map header %s", m.id)
	}

	// release pages no longer referenced by the header
	for _, p := range m.pages {
		if !slices.ContainsFunc(pages, func(n pageRef) bool { return n.id == p.id }) {
			if err := m.records.Delete(p.id); err != nil {
				log.Warningf("map %s: failed to release page %s: %v", m.id, p.id, err)
			}
		}
	}

	log.Debugf("saved map %s: %d keys, %d/%d pages written, optimize=%t", m.id, m.tree.Len(), written, len(pages), optimize)
	m.pages = pages
	m.dirty = 0
	if optimize {
		m.removed = 0
	}
	m.entryPoints.Store(int64(len(pages)))
	return nil
}

// Delete removes the header and all pages. The map is unusable afterwards.
func (m *BTreeMap) Delete() error {
	pages := m.pages
	if m.tree == nil {
		// pages are only known from the header
		if raw, err := m.records.Read(m.id); err == nil {
			if _, p, err := decodeHeader(raw); err == nil {
				pages = p
			}
		}
	}
	for _, p := range pages {
		if err := m.records.Delete(p.id); err != nil && !errors.Is(err, records.ErrRecordNotFound) {
			return errors.Wrapf(err, "delete page %s of map %s", p.id, m.id)
		}
	}
	if err := m.records.Delete(m.id); err != nil && !errors.Is(err, records.ErrRecordNotFound) {
		return errors.Wrapf(err, "delete map %s", m.id)
	}
	log.Debugf("deleted map %s", m.id)
	m.drop()
	m.size.Store(0)
	m.id = rid.Invalid
	return nil
}
