package index

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/hooks"
	"github.com/ValentinKolb/dDB/lib/lock"
	"github.com/ValentinKolb/dDB/lib/records"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/ValentinKolb/dDB/lib/serializer"
	"github.com/ValentinKolb/dDB/lib/sortedmap"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("index")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Type selects the put policy of an index
type Type string

const (
	// Unique indexes map every key to at most one record
	Unique Type = "UNIQUE"
	// NotUnique indexes map a key to any number of records
	NotUnique Type = "NOTUNIQUE"
)

// ParseType converts a type name, case sensitive
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Unique, NotUnique:
		return Type(s), nil
	default:
		return "", invalidArgument("unknown index type %q", s)
	}
}

// DefaultMapPartition is the record partition backing maps are stored in
const DefaultMapPartition = "__index"

// Options wires an index to its collaborators
type Options struct {
	Records      *records.Store                    // storage of the backing map
	MapPartition string                            // partition for map records, DefaultMapPartition if empty
	Map          sortedmap.Options                 // paging and flush settings
	Source       RecordSource                      // scanned by Rebuild
	Extractor    ValueExtractor                    // key of a document
	Field        string                            // field read by Extractor, recorded in the configuration
	Events       EventSource                       // optional, store events to subscribe to
	Hooks        hooks.Registry                    // optional, receives the introspection hooks
	Serializer   serializer.IConfigSerializer      // optional, binary if nil
	Metrics      metrics.Registry                  // optional, operation counters
	CheckEntry   func(doc Document, key any) error // optional, validates entries of record events
}

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

// indexImpl implements IIndex. Every access to the backing map happens
// under the lock. The map pointer itself is atomic so that hooks can read
// the counters without taking the lock.
type indexImpl struct {
	docstore.NopDatabaseListener

	lock lock.ILock
	typ  Type
	opts Options

	name       string
	automatic  bool
	partitions []string
	cfg        *common.IndexConfiguration

	m       atomic.Pointer[sortedmap.BTreeMap]
	pending map[any]struct{} // keys holding provisional references

	// subMu orders subscription changes. It is never held together with the
	// index lock, the event source calls back into the index under its own.
	subMu      sync.Mutex
	subscribed bool

	stats *stats
}

// New creates an index of the given type. The index has no backing map until
// Create, LoadFromConfiguration or Deserialize is called.
func New(typ Type, opts Options) (IIndex, error) {
	if _, err := ParseType(string(typ)); err != nil {
		return nil, err
	}
	if opts.Records == nil || opts.Source == nil || opts.Extractor == nil {
		return nil, invalidArgument("index needs a record store, a record source and an extractor")
	}
	if opts.MapPartition == "" {
		opts.MapPartition = DefaultMapPartition
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.New()
	}
	if opts.Serializer == nil {
		opts.Serializer = serializer.NewBinarySerializer()
	}
	return &indexImpl{
		lock:    lock.NewLock(),
		typ:     typ,
		opts:    opts,
		pending: make(map[any]struct{}),
		stats:   newStats("unnamed", opts.Metrics),
	}, nil
}

func (ix *indexImpl) shared() func() {
	owner := lock.NewOwner()
	ix.lock.AcquireShared(owner)
	return func() { ix.lock.ReleaseShared(owner) }
}

// loadedMap returns the backing map, which must be bound
func (ix *indexImpl) loadedMap() (*sortedmap.BTreeMap, error) {
	m := ix.m.Load()
	if m == nil {
		return nil, errors.Wrapf(ErrNotCreated, "index %q", ix.name)
	}
	return m, nil
}

func normalizeKey(key any) (any, error) {
	k, err := sortedmap.Normalize(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return k, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (ix *indexImpl) Get(key any) (*rid.Set, error) {
	defer ix.shared()()
	ix.stats.gets.Inc(1)

	m, err := ix.loadedMap()
	if err != nil {
		return nil, err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	set, _, err := m.Get(k)
	if err != nil {
		return nil, err
	}
	return set.Clone(), nil
}

func (ix *indexImpl) GetBetween(lo, hi any, inclusive bool) (*rid.Set, error) {
	if reflect.TypeOf(lo) != reflect.TypeOf(hi) {
		return nil, invalidArgument("range bounds %T and %T differ in type", lo, hi)
	}
	defer ix.shared()()
	ix.stats.ranges.Inc(1)

	m, err := ix.loadedMap()
	if err != nil {
		return nil, err
	}
	klo, err := normalizeKey(lo)
	if err != nil {
		return nil, err
	}
	khi, err := normalizeKey(hi)
	if err != nil {
		return nil, err
	}
	seq, err := m.Range(klo, inclusive, khi, inclusive)
	if err != nil {
		return nil, err
	}
	out := rid.NewSet()
	for _, set := range seq {
		out.Union(set)
	}
	return out, nil
}

func (ix *indexImpl) Size() (int, error) {
	defer ix.shared()()
	m, err := ix.loadedMap()
	if err != nil {
		return 0, err
	}
	return m.Size(), nil
}

func (ix *indexImpl) Entries() (iter.Seq2[any, *rid.Set], error) {
	defer ix.shared()()
	m, err := ix.loadedMap()
	if err != nil {
		return nil, err
	}
	seq, err := m.Ascend()
	if err != nil {
		return nil, err
	}

	var keys []any
	var sets []*rid.Set
	for k, set := range seq {
		keys = append(keys, k)
		sets = append(sets, set.Clone())
	}
	return func(yield func(any, *rid.Set) bool) {
		for i := range keys {
			if !yield(keys[i], sets[i]) {
				return
			}
		}
	}, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (ix *indexImpl) Put(key any, ref rid.Ref) error {
	return ix.put(lock.NewOwner(), key, ref)
}

// put inserts under the exclusive lock of owner, which may already hold it
func (ix *indexImpl) put(owner lock.Owner, key any, ref rid.Ref) error {
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	set, ok, err := m.Get(k)
	if err != nil {
		return err
	}
	if ok && ix.typ == Unique && set.Len() > 0 && !set.Contains(ref) {
		return errors.Wrapf(ErrDuplicateKey, "index %q: key %v already references %s", ix.name, k, set)
	}
	if !ok {
		set = rid.NewSet()
	}
	set.Add(ref)
	if err := m.Put(k, set); err != nil {
		return err
	}
	if ref.Identity().IsProvisional() {
		ix.pending[k] = struct{}{}
	}
	ix.stats.puts.Inc(1)
	return nil
}

func (ix *indexImpl) Remove(key any) error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if _, err := m.Remove(k); err != nil {
		return err
	}
	ix.stats.removes.Inc(1)
	return nil
}

func (ix *indexImpl) RemoveRef(key any, ref rid.Ref) error {
	return ix.removeRef(lock.NewOwner(), key, ref)
}

func (ix *indexImpl) removeRef(owner lock.Owner, key any, ref rid.Ref) error {
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	set, ok, err := m.Get(k)
	if err != nil || !ok || !set.Remove(ref) {
		return err
	}
	ix.stats.removes.Inc(1)
	if set.Len() == 0 {
		_, err = m.Remove(k)
		return err
	}
	return m.Put(k, set)
}

func (ix *indexImpl) Clear() error {
	return ix.clear(lock.NewOwner())
}

func (ix *indexImpl) clear(owner lock.Owner) error {
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	clear(ix.pending)
	return m.Clear()
}

func (ix *indexImpl) CheckEntry(doc Document, key any) error {
	if ix.opts.CheckEntry == nil {
		return nil
	}
	return ix.opts.CheckEntry(doc, key)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (ix *indexImpl) Create(name string, partitions []string, automatic bool) error {
	if err := ix.create(name, partitions, automatic); err != nil {
		return err
	}
	ix.subscribe()
	return nil
}

func (ix *indexImpl) create(name string, partitions []string, automatic bool) error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	if ix.m.Load() != nil {
		return invalidArgument("index %q already has a backing map", ix.name)
	}
	if name == "" {
		return invalidArgument("index name must not be empty")
	}
	pid, err := ix.opts.Records.CreatePartition(ix.opts.MapPartition)
	if err != nil {
		return err
	}
	m, err := sortedmap.New(ix.opts.Records, pid, ix.opts.Map)
	if err != nil {
		return errors.Wrapf(err, "create index %q", name)
	}

	ix.name = name
	ix.automatic = automatic
	ix.partitions = dedupe(partitions)
	ix.cfg = common.NewIndexConfiguration(string(ix.typ), name, automatic, ix.partitions, m.Identity())
	ix.m.Store(m)
	ix.stats = newStats(name, ix.opts.Metrics)
	ix.registerHooks()
	log.Infof("created index %q (%s) on %v, map %s", name, ix.typ, ix.partitions, m.Identity())
	return nil
}

func (ix *indexImpl) LoadFromConfiguration(cfg *common.IndexConfiguration) (bool, error) {
	identity, ok := cfg.Identity()
	if !ok {
		return false, nil
	}
	if cfg.Type != "" && Type(cfg.Type) != ix.typ {
		return false, invalidArgument("configuration of type %q loaded into %s index", cfg.Type, ix.typ)
	}

	if err := ix.load(cfg, identity); err != nil {
		return false, err
	}
	ix.subscribe()
	return true, nil
}

func (ix *indexImpl) load(cfg *common.IndexConfiguration, identity rid.RID) error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m := sortedmap.Open(ix.opts.Records, identity, ix.opts.Map)
	if err := m.Load(); err != nil {
		return errors.Wrapf(err, "load index %q", cfg.Name)
	}
	ix.apply(cfg)
	ix.m.Store(m)
	ix.registerHooks()
	log.Debugf("loaded index %q with %d keys", ix.name, m.Size())
	return nil
}

// apply takes name, automatic flag and partitions from cfg
func (ix *indexImpl) apply(cfg *common.IndexConfiguration) {
	c := *cfg
	c.TrackedPartitions = slices.Clone(cfg.TrackedPartitions)
	ix.cfg = &c
	if ix.name != cfg.Name {
		ix.stats = newStats(cfg.Name, ix.opts.Metrics)
	}
	ix.name = cfg.Name
	ix.automatic = cfg.IsAutomatic()
	ix.partitions = dedupe(cfg.TrackedPartitions)
}

func (ix *indexImpl) Load() error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	return m.Load()
}

func (ix *indexImpl) Unload() error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	return m.Unload()
}

func (ix *indexImpl) LazySave() error {
	return ix.lazySave(lock.NewOwner())
}

func (ix *indexImpl) lazySave(owner lock.Owner) error {
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	saved, err := m.LazySave()
	if saved && err == nil {
		log.Debugf("index %q flushed lazily", ix.name)
	}
	return err
}

func (ix *indexImpl) Flush() error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	if !m.IsLoaded() {
		return nil
	}
	return m.Save()
}

// Delete drops the backing map. Record events arriving before the
// subscription ends find no map and are ignored.
func (ix *indexImpl) Delete() error {
	if err := ix.delete(); err != nil {
		return err
	}
	ix.unsubscribe()
	return nil
}

func (ix *indexImpl) delete() error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	m, err := ix.loadedMap()
	if err != nil {
		return err
	}
	if err := m.Delete(); err != nil {
		return err
	}
	ix.m.Store(nil)
	clear(ix.pending)
	if ix.cfg != nil {
		ix.cfg.MapIdentity = nil
	}
	log.Infof("deleted index %q", ix.name)
	return nil
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// configuration brings the record up to date, the caller holds the lock
func (ix *indexImpl) configuration() common.IndexConfiguration {
	identity := rid.Invalid
	if m := ix.m.Load(); m != nil {
		identity = m.Identity()
	}
	cfg := common.NewIndexConfiguration(string(ix.typ), ix.name, ix.automatic, ix.partitions, identity)
	cfg.Field = ix.opts.Field
	if cfg.Field == "" && ix.cfg != nil {
		cfg.Field = ix.cfg.Field
	}
	ix.cfg = cfg
	return *cfg
}

func (ix *indexImpl) Configuration() common.IndexConfiguration {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)
	cfg := ix.configuration()
	cfg.TrackedPartitions = slices.Clone(cfg.TrackedPartitions)
	return cfg
}

func (ix *indexImpl) Serialize() ([]byte, error) {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)
	return ix.opts.Serializer.Serialize(ix.configuration())
}

func (ix *indexImpl) Deserialize(b []byte) error {
	var cfg common.IndexConfiguration
	if err := ix.opts.Serializer.Deserialize(b, &cfg); err != nil {
		return err
	}
	if cfg.Type != "" && Type(cfg.Type) != ix.typ {
		return invalidArgument("configuration of type %q deserialized into %s index", cfg.Type, ix.typ)
	}

	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	oldName := ix.name
	ix.apply(&cfg)
	if identity, ok := cfg.Identity(); ok {
		if m := ix.m.Load(); m != nil {
			m.Rebind(identity)
		} else {
			ix.m.Store(sortedmap.Open(ix.opts.Records, identity, ix.opts.Map))
		}
	} else {
		ix.m.Store(nil)
	}
	clear(ix.pending)
	if oldName != "" && oldName != ix.name {
		ix.unregisterHooks(oldName)
	}
	ix.registerHooks()
	return nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

func (ix *indexImpl) Name() string {
	defer ix.shared()()
	return ix.name
}

// SetName renames the index and moves its hooks
func (ix *indexImpl) SetName(name string) {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)
	if name == ix.name {
		return
	}
	ix.unregisterHooks(ix.name)
	ix.name = name
	ix.registerHooks()
}

func (ix *indexImpl) Type() Type {
	return ix.typ
}

func (ix *indexImpl) IsAutomatic() bool {
	defer ix.shared()()
	return ix.automatic
}

func (ix *indexImpl) Identity() rid.RID {
	defer ix.shared()()
	if m := ix.m.Load(); m != nil {
		return m.Identity()
	}
	return rid.Invalid
}

// Partitions returns a copy of the tracked partitions
func (ix *indexImpl) Partitions() []string {
	defer ix.shared()()
	return slices.Clone(ix.partitions)
}

// AddPartition tracks another partition. Its records are only indexed by the
// next rebuild or by later record events.
func (ix *indexImpl) AddPartition(name string) {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)
	if !slices.Contains(ix.partitions, name) {
		ix.partitions = append(ix.partitions, name)
	}
}

func (ix *indexImpl) Stats() StatsSnapshot {
	defer ix.shared()()
	return ix.stats.snapshot()
}

func (ix *indexImpl) String() string {
	defer ix.shared()()
	m := ix.m.Load()
	if m == nil {
		return fmt.Sprintf("%s (%s) <no map>", ix.name, ix.typ)
	}
	return fmt.Sprintf("%s (%s) %s", ix.name, ix.typ, m)
}

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

func hookNames(name string) []string {
	prefix := "index." + name + "."
	return []string{
		prefix + "items",
		prefix + "entryPointSize",
		prefix + "maxUpdateBeforeSave",
		prefix + "optimizationThreshold",
	}
}

// registerHooks publishes the map counters. A hook reports "-" while the
// index has no backing map.
func (ix *indexImpl) registerHooks() {
	names := hookNames(ix.name)
	getters := []func(m *sortedmap.BTreeMap) int{
		(*sortedmap.BTreeMap).Size,
		(*sortedmap.BTreeMap).EntryPointSize,
		(*sortedmap.BTreeMap).MaxUpdatesBeforeSave,
		(*sortedmap.BTreeMap).OptimizeThreshold,
	}
	for i, name := range names {
		get := getters[i]
		ix.opts.Hooks.Register(name, func() any {
			if m := ix.m.Load(); m != nil {
				return get(m)
			}
			return "-"
		})
	}
}

func (ix *indexImpl) unregisterHooks(name string) {
	for _, n := range hookNames(name) {
		ix.opts.Hooks.Unregister(n)
	}
}

func dedupe(partitions []string) []string {
	out := make([]string, 0, len(partitions))
	for _, p := range partitions {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
