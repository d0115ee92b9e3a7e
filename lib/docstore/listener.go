package docstore

// DatabaseListener receives lifecycle and transaction events of a Store.
// Embed NopDatabaseListener to implement only the events of interest.
type DatabaseListener interface {
	OnCreate(s *Store)
	OnOpen(s *Store)
	OnClose(s *Store)
	OnDelete(s *Store)

	OnBeforeTxBegin(tx *Tx)
	OnBeforeTxCommit(tx *Tx)
	OnAfterTxCommit(tx *Tx)
	OnBeforeTxRollback(tx *Tx)
	OnAfterTxRollback(tx *Tx)
}

// RecordListener is notified about every document change before the change
// becomes visible to readers of the store. Returning an error vetoes the
// change. Inside a transaction the events fire when the operation is issued,
// not on commit, and the document may still carry a provisional identity.
type RecordListener interface {
	OnRecordCreated(after *Document) error
	OnRecordUpdated(before, after *Document) error
	OnRecordDeleted(before *Document) error
}

// NopDatabaseListener implements DatabaseListener with empty methods
type NopDatabaseListener struct{}

func (NopDatabaseListener) OnCreate(*Store)        {}
func (NopDatabaseListener) OnOpen(*Store)          {}
func (NopDatabaseListener) OnClose(*Store)         {}
func (NopDatabaseListener) OnDelete(*Store)        {}
func (NopDatabaseListener) OnBeforeTxBegin(*Tx)    {}
func (NopDatabaseListener) OnBeforeTxCommit(*Tx)   {}
func (NopDatabaseListener) OnAfterTxCommit(*Tx)    {}
func (NopDatabaseListener) OnBeforeTxRollback(*Tx) {}
func (NopDatabaseListener) OnAfterTxRollback(*Tx)  {}
