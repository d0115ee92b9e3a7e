package database

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/db/engines/maple"
	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/hooks"
	"github.com/ValentinKolb/dDB/lib/index"
	"github.com/ValentinKolb/dDB/lib/records"
	"github.com/ValentinKolb/dDB/lib/serializer"
	"github.com/ValentinKolb/dDB/lib/sortedmap"
	"github.com/ValentinKolb/dDB/lib/store"
	"github.com/ValentinKolb/dDB/lib/store/lstore"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("database")

const (
	// SnapshotFile is the name of the data file inside DataDir
	SnapshotFile = "ddb.maple"

	indexConfigPrefix = "config/index/"
)

var (
	// ErrIndexExists is returned when creating an index under a taken name
	ErrIndexExists = errors.New("index already exists")
	// ErrIndexNotFound is returned for unknown index names
	ErrIndexNotFound = errors.New("index not found")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("database closed")
)

// --------------------------------------------------------------------------
// Database
// --------------------------------------------------------------------------

// Database is an embedded document database with secondary indexes. It wires
// the maple engine, the record store and the document store and manages the
// indexes. Index configuration records live in the same key-value store as
// the data, under config/index/<name>.
//
// Thread-safety: all methods are safe for concurrent use.
type Database struct {
	ID string // instance id, changes on every open

	cfg        common.DatabaseConfig
	kv         store.IStore
	records    *records.Store
	docs       *docstore.Store
	hooks      *hooks.Profiler
	metrics    metrics.Registry
	serializer serializer.IConfigSerializer

	mu      sync.RWMutex
	indexes map[string]index.IIndex
	closed  bool
}

// Open opens the database in cfg.DataDir, or an in-memory database when
// DataDir is empty. Indexes found in the configuration records are restored
// and loaded.
func Open(cfg common.DatabaseConfig) (_ *Database, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	ser, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	d := &Database{
		ID:         uuid.NewString(),
		cfg:        cfg,
		hooks:      hooks.New(),
		metrics:    metrics.NewRegistry(),
		serializer: ser,
		indexes:    make(map[string]index.IIndex),
	}
	d.kv = lstore.NewLocalStore(func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: cfg.Shards})
	})

	defer func() {
		if err != nil {
			_ = d.kv.Close()
		}
	}()

	created, err := d.loadSnapshot()
	if err != nil {
		return nil, err
	}
	if d.records, err = records.Open(d.kv); err != nil {
		return nil, err
	}
	if d.docs, err = docstore.New(d.records, cfg.DocumentCacheSize); err != nil {
		return nil, err
	}
	if err := d.restoreIndexes(); err != nil {
		return nil, err
	}
	d.registerHooks()
	d.docs.NotifyOpen(created)

	log.Infof("opened database %s (dir=%q, created=%t, %d indexes)", d.ID, cfg.DataDir, created, len(d.indexes))
	return d, nil
}

func (d *Database) snapshotPath() string {
	return filepath.Join(d.cfg.DataDir, SnapshotFile)
}

// loadSnapshot reads the data file and reports whether the database is new
func (d *Database) loadSnapshot() (bool, error) {
	if d.cfg.DataDir == "" {
		return true, nil
	}
	if err := os.MkdirAll(d.cfg.DataDir, 0o755); err != nil {
		return false, errors.Wrap(err, "create data dir")
	}
	f, err := os.Open(d.snapshotPath())
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "open snapshot")
	}
	defer f.Close()
	if err := d.kv.Load(bufio.NewReader(f)); err != nil {
		return false, errors.Wrapf(err, "load snapshot %s", d.snapshotPath())
	}
	return false, nil
}

func (d *Database) registerHooks() {
	d.hooks.Register("db.partitions", func() any { return len(d.records.Partitions()) })
	d.hooks.Register("db.indexes", func() any {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return len(d.indexes)
	})
	d.hooks.Register("db.keys", func() any {
		info, err := d.kv.GetDBInfo()
		if err != nil {
			return "-"
		}
		return info.Keys
	})
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Documents returns the document store
func (d *Database) Documents() *docstore.Store {
	return d.docs
}

// Hooks returns the hook registry of this database
func (d *Database) Hooks() *hooks.Profiler {
	return d.hooks
}

// Metrics returns the registry holding the index operation counters
func (d *Database) Metrics() metrics.Registry {
	return d.metrics
}

// Config returns the configuration the database was opened with
func (d *Database) Config() common.DatabaseConfig {
	return d.cfg
}

// --------------------------------------------------------------------------
// Index management
// --------------------------------------------------------------------------

func (d *Database) indexOptions(field string) index.Options {
	return index.Options{
		Records:    d.records,
		Map:        sortedmap.OptionsFrom(d.cfg),
		Source:     d.docs,
		Extractor:  index.FieldExtractor(field),
		Field:      field,
		Events:     d.docs,
		Hooks:      d.hooks,
		Serializer: d.serializer,
		Metrics:    d.metrics,
	}
}

// IndexDefinition describes an index to create
type IndexDefinition struct {
	Name       string
	Type       index.Type
	Field      string
	Partitions []string
	Automatic  bool
}

// CreateIndex creates an index over def.Field, builds it from the existing
// documents and persists its configuration. Missing partitions are created.
// If the initial build fails the index is removed again.
func (d *Database) CreateIndex(ctx context.Context, def IndexDefinition, listener index.ProgressListener) (index.IIndex, index.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, index.Result{}, ErrClosed
	}
	if _, ok := d.indexes[def.Name]; ok {
		return nil, index.Result{}, errors.Wrapf(ErrIndexExists, "index %q", def.Name)
	}
	if def.Field == "" {
		return nil, index.Result{}, errors.Wrap(index.ErrInvalidArgument, "index field must not be empty")
	}
	for _, p := range def.Partitions {
		if err := d.docs.CreatePartition(p); err != nil {
			return nil, index.Result{}, err
		}
	}

	ix, err := index.New(def.Type, d.indexOptions(def.Field))
	if err != nil {
		return nil, index.Result{}, err
	}
	if err := ix.Create(def.Name, def.Partitions, def.Automatic); err != nil {
		return nil, index.Result{}, err
	}
	res, err := ix.Rebuild(ctx, listener)
	if err != nil {
		if derr := ix.Delete(); derr != nil {
			log.Errorf("failed to remove index %q after failed build: %v", def.Name, derr)
		}
		return nil, res, err
	}
	if err := d.saveIndexConfig(ix); err != nil {
		return nil, res, err
	}
	d.indexes[def.Name] = ix
	return ix, res, nil
}

// DropIndex deletes an index with its map and configuration record
func (d *Database) DropIndex(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ix, ok := d.indexes[name]
	if !ok {
		return errors.Wrapf(ErrIndexNotFound, "index %q", name)
	}
	if err := ix.Delete(); err != nil {
		return err
	}
	delete(d.indexes, name)
	return d.kv.Delete(indexConfigPrefix + name)
}

// Index returns the index registered under name
func (d *Database) Index(name string) (index.IIndex, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ix, ok := d.indexes[name]
	if !ok {
		return nil, errors.Wrapf(ErrIndexNotFound, "index %q", name)
	}
	return ix, nil
}

// Indexes returns the names of all indexes in ascending order
func (d *Database) Indexes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.indexes))
	for n := range d.indexes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (d *Database) saveIndexConfig(ix index.IIndex) error {
	b, err := ix.Serialize()
	if err != nil {
		return errors.Wrapf(err, "serialize index %q", ix.Name())
	}
	return errors.Wrapf(d.kv.Set(indexConfigPrefix+ix.Name(), b), "store configuration of index %q", ix.Name())
}

// restoreIndexes loads every index configuration record
func (d *Database) restoreIndexes() error {
	raw := make(map[string][]byte)
	err := d.kv.Scan(indexConfigPrefix, func(key string, value []byte) bool {
		raw[strings.TrimPrefix(key, indexConfigPrefix)] = value
		return true
	})
	if err != nil {
		return errors.Wrap(err, "scan index configurations")
	}

	for name, b := range raw {
		var cfg common.IndexConfiguration
		if err := d.serializer.Deserialize(b, &cfg); err != nil {
			return errors.Wrapf(err, "index %q", name)
		}
		typ, err := index.ParseType(cfg.Type)
		if err != nil {
			return errors.Wrapf(err, "index %q", name)
		}
		ix, err := index.New(typ, d.indexOptions(cfg.Field))
		if err != nil {
			return err
		}
		ok, err := ix.LoadFromConfiguration(&cfg)
		if err != nil {
			return errors.Wrapf(err, "restore index %q", name)
		}
		if !ok {
			log.Warningf("index %q has no backing map yet, skipping", name)
			continue
		}
		d.indexes[cfg.Name] = ix
	}
	return nil
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Sync saves every index map and configuration, the record catalogue and,
// for a database with DataDir, the snapshot file
func (d *Database) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return d.sync()
}

func (d *Database) sync() error {
	for _, ix := range d.indexes {
		if err := ix.Flush(); err != nil {
			return errors.Wrapf(err, "flush index %q", ix.Name())
		}
		if err := d.saveIndexConfig(ix); err != nil {
			return err
		}
	}
	if err := d.records.Flush(); err != nil {
		return err
	}
	if d.cfg.DataDir == "" {
		return nil
	}
	return d.writeSnapshot()
}

// writeSnapshot writes to a temporary file and renames it over the old one
func (d *Database) writeSnapshot() error {
	tmp, err := os.CreateTemp(d.cfg.DataDir, SnapshotFile+".*")
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := d.kv.Save(w); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write snapshot")
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), d.snapshotPath()), "replace snapshot")
}

// Close syncs and releases the database. Open transactions are rolled back.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if err := d.docs.Close(); err != nil {
		return err
	}
	if err := d.sync(); err != nil {
		return err
	}
	for _, ix := range d.indexes {
		if err := ix.Unload(); err != nil {
			log.Warningf("failed to unload index %q: %v", ix.Name(), err)
		}
	}
	d.closed = true
	log.Infof("closed database %s", d.ID)
	return d.kv.Close()
}

// Drop deletes all indexes and the data file and closes the database
func (d *Database) Drop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	for name, ix := range d.indexes {
		if err := ix.Delete(); err != nil {
			return errors.Wrapf(err, "drop index %q", name)
		}
	}
	clear(d.indexes)
	d.docs.NotifyDelete()
	if err := d.docs.Close(); err != nil {
		return err
	}
	d.closed = true
	if d.cfg.DataDir != "" {
		if err := os.Remove(d.snapshotPath()); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove snapshot")
		}
	}
	log.Infof("dropped database %s", d.ID)
	return d.kv.Close()
}
