package index

import (
	"slices"

	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/lock"
	"github.com/ValentinKolb/dDB/lib/sortedmap"
)

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

// subscribe registers with the event source. The caller must not hold the
// index lock.
func (ix *indexImpl) subscribe() {
	ix.subMu.Lock()
	defer ix.subMu.Unlock()
	if ix.opts.Events == nil || ix.subscribed {
		return
	}
	ix.opts.Events.RegisterListener(ix)
	ix.opts.Events.RegisterRecordListener(ix)
	ix.subscribed = true
}

func (ix *indexImpl) unsubscribe() {
	ix.subMu.Lock()
	defer ix.subMu.Unlock()
	if ix.opts.Events == nil || !ix.subscribed {
		return
	}
	ix.opts.Events.UnregisterListener(ix)
	ix.opts.Events.UnregisterRecordListener(ix)
	ix.subscribed = false
}

// --------------------------------------------------------------------------
// Transaction events
// --------------------------------------------------------------------------

// OnAfterTxCommit re-inserts the set of every key that received a
// provisional reference during the transaction. The committed records now
// report their final identity and the fresh sets are keyed by it.
func (ix *indexImpl) OnAfterTxCommit(tx *docstore.Tx) {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	pending := len(ix.pending)
	defer clear(ix.pending)

	m := ix.m.Load()
	if m == nil || !m.IsLoaded() || pending == 0 {
		return
	}
	for key := range ix.pending {
		set, ok, err := m.Get(key)
		if err != nil || !ok {
			continue
		}
		if err := m.Put(key, set.Rehash()); err != nil {
			log.Errorf("index %q: fixup of key %v after transaction %s failed: %v", ix.name, key, tx.ID, err)
			continue
		}
		ix.stats.fixups.Inc(1)
	}
	log.Debugf("index %q: fixed up %d keys after transaction %s", ix.name, pending, tx.ID)
}

// OnAfterTxRollback drops the pending keys. The store already removed the
// rolled back references through record events.
func (ix *indexImpl) OnAfterTxRollback(*docstore.Tx) {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)
	clear(ix.pending)
}

// --------------------------------------------------------------------------
// Record events
// --------------------------------------------------------------------------

// tracks reports whether record events of doc concern this index. Without a
// backing map (deleted, or never created) there is nothing to maintain.
func (ix *indexImpl) tracks(doc Document) bool {
	return ix.automatic && ix.m.Load() != nil && slices.Contains(ix.partitions, doc.Partition())
}

func (ix *indexImpl) OnRecordCreated(after *docstore.Document) error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	if !ix.tracks(after) {
		return nil
	}
	key, ok, err := ix.opts.Extractor(after)
	if err != nil || !ok {
		return err
	}
	if err := ix.CheckEntry(after, key); err != nil {
		return err
	}
	return ix.put(owner, key, after)
}

func (ix *indexImpl) OnRecordUpdated(before, after *docstore.Document) error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	if !ix.tracks(after) {
		return nil
	}
	oldKey, hadKey, err := ix.opts.Extractor(before)
	if err != nil {
		return err
	}
	newKey, hasKey, err := ix.opts.Extractor(after)
	if err != nil {
		return err
	}
	if hadKey && hasKey && sortedmap.Compare(oldKey, newKey) == 0 {
		return nil
	}

	if hasKey {
		if err := ix.CheckEntry(after, newKey); err != nil {
			return err
		}
		if err := ix.put(owner, newKey, after); err != nil {
			return err
		}
	}
	if hadKey {
		return ix.removeRef(owner, oldKey, before)
	}
	return nil
}

func (ix *indexImpl) OnRecordDeleted(before *docstore.Document) error {
	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	if !ix.tracks(before) {
		return nil
	}
	key, ok, err := ix.opts.Extractor(before)
	if err != nil || !ok {
		return err
	}
	return ix.removeRef(owner, key, before)
}
