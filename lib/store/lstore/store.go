package lstore

import (
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

type storeImpl struct {
	db     db.KVDB
	index  atomic.Uint64
	closed atomic.Bool
}

// NewLocalStore creates a new local store instance.
// This store implementation only works inside a single process.
// This works by using the maple engine from the db package directly.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db:    factory(),
		index: atomic.Uint64{},
	}
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// check verifies that the store is open and the engine supports the feature
func (s *storeImpl) check(feature db.Feature) error {
	if s.closed.Load() {
		return store.NewError(store.RetCInvalidOperation, "store is closed")
	}
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, feature.String()+" operation is not supported")
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	if err := s.check(db.FeatureSet); err != nil {
		return err
	}
	s.db.Set(key, value, s.incAndGetIndex())
	return nil
}

func (s *storeImpl) Delete(key string) error {
	if err := s.check(db.FeatureDelete); err != nil {
		return err
	}
	s.db.Delete(key, s.incAndGetIndex())
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if err := s.check(db.FeatureGet); err != nil {
		return nil, false, err
	}
	val, ok := s.db.Get(key)
	return val, ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	if err := s.check(db.FeatureHas); err != nil {
		return false, err
	}
	return s.db.Has(key), nil
}

func (s *storeImpl) Scan(prefix string, fn func(key string, value []byte) bool) error {
	if err := s.check(db.FeatureRange); err != nil {
		return err
	}
	s.db.Range(prefix, fn)
	return nil
}

func (s *storeImpl) Save(w io.Writer) error {
	if err := s.check(db.FeatureSave); err != nil {
		return err
	}
	if err := s.db.Save(w); err != nil {
		return store.NewError(store.RetCInternalError, "save failed: "+err.Error())
	}
	return nil
}

func (s *storeImpl) Load(r io.Reader) error {
	if err := s.check(db.FeatureLoad); err != nil {
		return err
	}
	if err := s.db.Load(r); err != nil {
		return store.NewError(store.RetCInternalError, "load failed: "+err.Error())
	}
	// continue after the highest index of the snapshot
	for {
		curr := s.index.Load()
		loaded := s.db.WriteIdx()
		if loaded <= curr || s.index.CompareAndSwap(curr, loaded) {
			break
		}
	}
	log.Debugf("loaded snapshot with %d keys (write index %d)", s.db.Len(), s.index.Load())
	return nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	if err := s.check(0); err != nil {
		return db.DatabaseInfo{}, err
	}
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
