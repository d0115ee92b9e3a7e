package docstore

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/ValentinKolb/dDB/lib/records"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("docstore")

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrTxActive is returned by Begin while another transaction is open
	ErrTxActive = errors.New("transaction already active")
	// ErrNoTx is returned by Commit and Rollback without an open transaction
	ErrNoTx = errors.New("no active transaction")
	// ErrNotDocument is returned when a blob is loaded as document
	ErrNotDocument = errors.New("record is not a document")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("document store closed")
)

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

type opKind uint8

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

type txOp struct {
	kind   opKind
	doc    *Document
	before map[string]any // fields before an update or delete

	provisional rid.RID // identity of a create before it was applied
	written     bool    // an update reached the record store
}

// Tx is an open transaction. Operations are buffered and written on commit.
type Tx struct {
	ID      string
	Started time.Time

	ops     []txOp
	nextTmp map[uint32]int64
}

// Len returns the number of buffered operations
func (tx *Tx) Len() int {
	return len(tx.ops)
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store keeps documents and blobs in named partitions of a record store.
// At most one transaction is open at a time.
//
// Thread-safety: all methods are safe for concurrent use. Write operations
// and listener callbacks are serialized. Listeners may register and
// unregister from any goroutine, including while a callback is blocked.
type Store struct {
	mu      sync.Mutex
	records *records.Store
	cache   *lru.Cache[rid.RID, rid.Ref]
	tx      *Tx
	closed  bool

	lmu             sync.RWMutex // guards the listener slices only
	listeners       []DatabaseListener
	recordListeners []RecordListener
}

// New creates a document store on top of rs. cacheSize bounds the number of
// decoded records kept in memory.
func New(rs *records.Store, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[rid.RID, rid.Ref](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create document cache")
	}
	return &Store{records: rs, cache: cache}, nil
}

// Records returns the underlying record store
func (s *Store) Records() *records.Store {
	return s.records
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// RegisterListener adds a database listener
func (s *Store) RegisterListener(l DatabaseListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

// UnregisterListener removes a database listener
func (s *Store) UnregisterListener(l DatabaseListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = slices.DeleteFunc(s.listeners, func(e DatabaseListener) bool { return e == l })
}

// RegisterRecordListener adds a record listener
func (s *Store) RegisterRecordListener(l RecordListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.recordListeners = append(s.recordListeners, l)
}

// UnregisterRecordListener removes a record listener
func (s *Store) UnregisterRecordListener(l RecordListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.recordListeners = slices.DeleteFunc(s.recordListeners, func(e RecordListener) bool { return e == l })
}

func (s *Store) dbListeners() []DatabaseListener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return slices.Clone(s.listeners)
}

func (s *Store) recListeners() []RecordListener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return slices.Clone(s.recordListeners)
}

// NotifyOpen tells the database listeners that the store is ready. created
// distinguishes a freshly created database from a reopened one.
func (s *Store) NotifyOpen(created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.dbListeners() {
		if created {
			l.OnCreate(s)
		} else {
			l.OnOpen(s)
		}
	}
}

// NotifyDelete tells the database listeners that the database is dropped
func (s *Store) NotifyDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.dbListeners() {
		l.OnDelete(s)
	}
}

// fireCreated notifies all record listeners, the first error aborts
func (s *Store) fireCreated(doc *Document) error {
	for _, l := range s.recListeners() {
		if err := l.OnRecordCreated(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) fireUpdated(before, after *Document) error {
	for _, l := range s.recListeners() {
		if err := l.OnRecordUpdated(before, after); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) fireDeleted(before *Document) error {
	for _, l := range s.recListeners() {
		if err := l.OnRecordDeleted(before); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Partitions
// --------------------------------------------------------------------------

// CreatePartition creates a partition if it does not exist yet
func (s *Store) CreatePartition(name string) error {
	_, err := s.records.CreatePartition(name)
	return err
}

// Partitions returns the names of all partitions
func (s *Store) Partitions() []string {
	return s.records.Partitions()
}

// Count returns the number of stored records of a partition. Records buffered
// in an open transaction are not counted.
func (s *Store) Count(partition string) (int64, error) {
	pid, ok := s.records.PartitionID(partition)
	if !ok {
		return 0, errors.Wrapf(records.ErrPartitionUnknown, "partition %q", partition)
	}
	return s.records.Count(pid)
}

// Browse yields every stored record of a partition in position order.
// Documents are yielded as *Document, other records as *Blob.
func (s *Store) Browse(partition string) iter.Seq2[rid.Ref, error] {
	return func(yield func(rid.Ref, error) bool) {
		pid, ok := s.records.PartitionID(partition)
		if !ok {
			yield(nil, errors.Wrapf(records.ErrPartitionUnknown, "partition %q", partition))
			return
		}
		for rec, err := range s.records.Browse(pid) {
			if err != nil {
				yield(nil, err)
				return
			}
			if rec.Data == nil {
				// allocated, not written yet
				continue
			}
			ref, err := s.decode(rec.ID, partition, rec.Data)
			if !yield(ref, err) || err != nil {
				return
			}
		}
	}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Load returns the document stored under id
func (s *Store) Load(id rid.RID) (*Document, error) {
	ref, err := s.load(id)
	if err != nil {
		return nil, err
	}
	doc, ok := ref.(*Document)
	if !ok {
		return nil, errors.Wrapf(ErrNotDocument, "load %s", id)
	}
	return doc, nil
}

// LoadBlob returns the blob stored under id
func (s *Store) LoadBlob(id rid.RID) (*Blob, error) {
	ref, err := s.load(id)
	if err != nil {
		return nil, err
	}
	b, ok := ref.(*Blob)
	if !ok {
		return nil, errors.Errorf("record %s is not a blob", id)
	}
	return b, nil
}

func (s *Store) load(id rid.RID) (rid.Ref, error) {
	if ref, ok := s.cache.Get(id); ok {
		return ref, nil
	}
	data, err := s.records.Read(id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.Wrapf(records.ErrRecordNotFound, "load %s", id)
	}
	name, _ := s.records.PartitionName(id.Partition)
	return s.decode(id, name, data)
}

// decode returns the cached instance for id if there is one, so that every
// caller shares the same *Document
func (s *Store) decode(id rid.RID, partition string, data []byte) (rid.Ref, error) {
	if ref, ok := s.cache.Get(id); ok {
		return ref, nil
	}
	ref, err := decodeRecord(id, partition, data)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, ref)
	return ref, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Save creates doc in partition or, if doc already has an identity, stores
// its current fields. Inside a transaction a new document receives a
// provisional identity that is replaced on commit.
func (s *Store) Save(partition string, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	id := doc.Identity()
	if id.IsValid() || id.IsProvisional() {
		return s.update(doc)
	}
	return s.create(partition, doc)
}

func (s *Store) create(partition string, doc *Document) error {
	pid, ok := s.records.PartitionID(partition)
	if !ok {
		return errors.Wrapf(records.ErrPartitionUnknown, "partition %q", partition)
	}
	doc.setPartition(partition)

	if s.tx != nil {
		n := s.tx.nextTmp[pid]
		s.tx.nextTmp[pid] = n + 1
		doc.setIdentity(rid.Provisional(pid, n))
		if err := s.fireCreated(doc); err != nil {
			doc.setIdentity(rid.Invalid)
			return err
		}
		doc.markSaved()
		s.tx.ops = append(s.tx.ops, txOp{kind: opCreate, doc: doc})
		return nil
	}

	data, err := encodeDocument(doc)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	id, err := s.records.Create(pid, data)
	if err != nil {
		return err
	}
	doc.setIdentity(id)
	if err := s.fireCreated(doc); err != nil {
		doc.setIdentity(rid.Invalid)
		if derr := s.records.Delete(id); derr != nil {
			log.Errorf("failed to undo creation of %s: %v", id, derr)
		}
		return err
	}
	doc.markSaved()
	s.cache.Add(id, doc)
	return nil
}

func (s *Store) update(doc *Document) error {
	before := doc.savedSnapshot()
	if err := s.fireUpdated(before, doc); err != nil {
		return err
	}

	if s.tx != nil {
		s.tx.ops = append(s.tx.ops, txOp{kind: opUpdate, doc: doc, before: before.fields})
		doc.markSaved()
		return nil
	}

	if err := s.write(doc); err != nil {
		return err
	}
	doc.markSaved()
	return nil
}

func (s *Store) write(doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	id := doc.Identity()
	if err := s.records.Write(id, data); err != nil {
		return err
	}
	s.cache.Add(id, doc)
	return nil
}

// SaveBlob stores raw bytes as a new record. Blobs bypass transactions and
// record listeners.
func (s *Store) SaveBlob(partition string, data []byte) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	pid, ok := s.records.PartitionID(partition)
	if !ok {
		return nil, errors.Wrapf(records.ErrPartitionUnknown, "partition %q", partition)
	}
	id, err := s.records.Create(pid, append([]byte{kindBlob}, data...))
	if err != nil {
		return nil, err
	}
	return &Blob{id: id, partition: partition, Data: data}, nil
}

// Delete removes a saved document
func (s *Store) Delete(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	id := doc.Identity()
	if !id.IsValid() && !id.IsProvisional() {
		return errors.Wrapf(records.ErrRecordNotFound, "delete %s", id)
	}
	before := doc.savedSnapshot()
	if err := s.fireDeleted(before); err != nil {
		return err
	}

	if s.tx != nil {
		s.tx.ops = append(s.tx.ops, txOp{kind: opDelete, doc: doc, before: before.fields})
		return nil
	}

	if err := s.records.Delete(id); err != nil {
		return err
	}
	s.cache.Remove(id)
	doc.setIdentity(rid.Invalid)
	return nil
}

// DeleteBlob removes a blob
func (s *Store) DeleteBlob(b *Blob) error {
	if err := s.records.Delete(b.id); err != nil {
		return err
	}
	s.cache.Remove(b.id)
	return nil
}

// --------------------------------------------------------------------------
// Transaction control
// --------------------------------------------------------------------------

// Begin opens a transaction
func (s *Store) Begin() (*Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return nil, errors.Wrapf(ErrTxActive, "transaction %s", s.tx.ID)
	}

	tx := &Tx{ID: uuid.NewString(), Started: time.Now(), nextTmp: make(map[uint32]int64)}
	for _, l := range s.dbListeners() {
		l.OnBeforeTxBegin(tx)
	}
	s.tx = tx
	log.Debugf("began transaction %s", tx.ID)
	return tx, nil
}

// InTx reports whether a transaction is open
func (s *Store) InTx() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Commit writes all buffered operations. New documents receive their final
// identity before the after-commit listeners run. If a write fails, the
// writes done so far are undone, record listeners receive the compensating
// events of a rollback and the database listeners see OnAfterTxRollback.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	if tx == nil {
		return ErrNoTx
	}
	for _, l := range s.dbListeners() {
		l.OnBeforeTxCommit(tx)
	}
	s.tx = nil

	if err := s.applyWrites(tx); err != nil {
		s.compensate(tx)
		for _, l := range s.dbListeners() {
			l.OnAfterTxRollback(tx)
		}
		log.Warningf("commit of transaction %s failed, rolled back: %v", tx.ID, err)
		return errors.Wrapf(err, "commit transaction %s", tx.ID)
	}
	derr := s.applyDeletes(tx)

	for _, l := range s.dbListeners() {
		l.OnAfterTxCommit(tx)
	}
	if derr != nil {
		log.Errorf("transaction %s committed, removing records failed: %v", tx.ID, derr)
		return errors.Wrapf(derr, "commit transaction %s", tx.ID)
	}
	log.Debugf("committed transaction %s with %d operations", tx.ID, len(tx.ops))
	return nil
}

// applyWrites writes creates and updates in order. Records deleted by the
// transaction must still exist. On failure every write done so far is undone.
func (s *Store) applyWrites(tx *Tx) error {
	for _, op := range tx.ops {
		if id := op.doc.Identity(); op.kind == opDelete && id.IsValid() && !s.records.Exists(id) {
			return errors.Wrapf(records.ErrRecordNotFound, "delete %s", id)
		}
	}
	for i := range tx.ops {
		op := &tx.ops[i]
		if op.kind == opDelete {
			continue
		}
		if err := s.apply(op); err != nil {
			s.undo(tx.ops[:i])
			return err
		}
	}
	return nil
}

// applyDeletes removes the deleted records once all writes succeeded.
// Removals cannot be undone, the first error is returned after all ran.
func (s *Store) applyDeletes(tx *Tx) error {
	var err error
	for i := range tx.ops {
		if op := &tx.ops[i]; op.kind == opDelete {
			if derr := s.apply(op); derr != nil && err == nil {
				err = derr
			}
		}
	}
	return err
}

func (s *Store) apply(op *txOp) error {
	switch op.kind {
	case opCreate:
		if !op.doc.Identity().IsProvisional() {
			return nil
		}
		op.provisional = op.doc.Identity()
		data, err := encodeDocument(op.doc)
		if err != nil {
			return err
		}
		id, err := s.records.Create(op.provisional.Partition, data)
		if err != nil {
			return err
		}
		op.doc.setIdentity(id)
		s.cache.Add(id, op.doc)
	case opUpdate:
		if !op.doc.Identity().IsValid() {
			return nil
		}
		if err := s.write(op.doc); err != nil {
			return err
		}
		op.written = true
	case opDelete:
		id := op.doc.Identity()
		op.doc.setIdentity(rid.Invalid)
		if id.IsValid() {
			s.cache.Remove(id)
			if err := s.records.Delete(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// undo reverts applied creates and updates, newest first. Created documents
// get their provisional identity back so the compensating events match what
// listeners saw during the transaction.
func (s *Store) undo(applied []txOp) {
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		id := op.doc.Identity()
		switch {
		case op.kind == opCreate && op.provisional.IsProvisional() && id.IsValid():
			s.cache.Remove(id)
			if err := s.records.Delete(id); err != nil {
				log.Errorf("undo create %s: %v", id, err)
			}
			op.doc.setIdentity(op.provisional)
		case op.kind == opUpdate && op.written:
			s.cache.Remove(id)
			data, err := encodeDocument(op.doc.snapshot(op.before))
			if err == nil {
				err = s.records.Write(id, data)
			}
			if err != nil {
				log.Errorf("undo update %s: %v", id, err)
			}
		}
	}
}

// Rollback discards all buffered operations. Record listeners receive the
// compensating events in reverse order so that derived state (indexes) is
// restored.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	if tx == nil {
		return ErrNoTx
	}
	for _, l := range s.dbListeners() {
		l.OnBeforeTxRollback(tx)
	}
	s.tx = nil
	s.compensate(tx)

	for _, l := range s.dbListeners() {
		l.OnAfterTxRollback(tx)
	}
	log.Debugf("rolled back transaction %s with %d operations", tx.ID, len(tx.ops))
	return nil
}

// compensate fires the inverse record event of every operation, newest first
func (s *Store) compensate(tx *Tx) {
	for i := len(tx.ops) - 1; i >= 0; i-- {
		op := tx.ops[i]
		var err error
		switch op.kind {
		case opCreate:
			err = s.fireDeleted(op.doc.savedSnapshot())
			op.doc.setIdentity(rid.Invalid)
		case opUpdate:
			after := op.doc.savedSnapshot()
			op.doc.restore(op.before)
			err = s.fireUpdated(after, op.doc)
		case opDelete:
			err = s.fireCreated(op.doc)
		}
		if err != nil {
			log.Warningf("rollback of transaction %s: listener failed for %s: %v", tx.ID, op.doc.Identity(), err)
		}
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close rolls back an open transaction and notifies the database listeners.
// The record store is left open.
func (s *Store) Close() error {
	if s.InTx() {
		if err := s.Rollback(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, l := range s.dbListeners() {
		l.OnClose(s)
	}
	s.cache.Purge()
	return nil
}
