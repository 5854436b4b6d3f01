// Package recovery implements ARIES-style write-ahead logging recovery: the
// in-memory dirty page table and transaction table forward processing
// maintains as transactions run, and the analysis/redo/undo passes that
// rebuild them and repair the database after a crash.
//
// A Manager is built in two phases because it and the buffer pool depend on
// each other: the buffer pool needs the manager's eviction hook to enforce
// the write-ahead rule, and the manager needs the buffer pool to redo/undo
// page writes. Call New to get a Manager usable for logging, then
// AttachBuffer once the buffer pool exists.
package recovery

import (
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/logging"
	"github.com/junjiexh/rookiedb/pkg/logrecord"
	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/storageio"
	"github.com/junjiexh/rookiedb/pkg/txn"
)

// TransactionFactory constructs a caller-defined transaction handle for a
// transaction number first observed during restart analysis, when no
// in-memory handle exists yet to attach to the transaction table.
type TransactionFactory func(primitives.TransactionNum) txn.Handle

// Config holds recovery manager tuning knobs, each with a documented
// zero-value default, as a plain struct rather than a flag-parsed options
// layer.
type Config struct {
	// CheckpointRecordLimit caps the combined count of dirty-page-table
	// and transaction-table rows a single END_CHECKPOINT record may
	// carry before the checkpoint builder splits into another record.
	// Zero uses logrecord.MaxRecordsPerCheckpoint.
	CheckpointRecordLimit int
}

func (c Config) checkpointLimit() int {
	if c.CheckpointRecordLimit <= 0 {
		return logrecord.MaxRecordsPerCheckpoint
	}
	return c.CheckpointRecordLimit
}

// Manager tracks the dirty page table and transaction table and is the sole
// writer of the log during forward processing and restart.
type Manager struct {
	// metaMu serializes startTransaction and checkpoint against each
	// other, so checkpoint briefly excludes concurrent metadata changes
	// without blocking ordinary page I/O.
	metaMu sync.Mutex

	dptMu sync.Mutex
	dpt   map[primitives.PageNum]primitives.LSN

	log storageio.LogManager
	dsm storageio.DiskSpaceManager
	bm  storageio.BufferManager

	txns   *txn.Table
	newTxn TransactionFactory

	cfg Config

	redoComplete bool
}

// New constructs a Manager ready for logging and restart, with default
// tuning. bm is attached later via AttachBuffer once the buffer pool
// exists.
func New(log storageio.LogManager, dsm storageio.DiskSpaceManager, newTxn TransactionFactory) *Manager {
	return NewWithConfig(log, dsm, newTxn, Config{})
}

// NewWithConfig constructs a Manager tuned by cfg.
func NewWithConfig(log storageio.LogManager, dsm storageio.DiskSpaceManager, newTxn TransactionFactory, cfg Config) *Manager {
	return &Manager{
		dpt:    make(map[primitives.PageNum]primitives.LSN),
		log:    log,
		dsm:    dsm,
		txns:   txn.NewTable(),
		newTxn: newTxn,
		cfg:    cfg,
	}
}

// AttachBuffer completes construction, wiring m's eviction hook into bm so
// the write-ahead rule is enforced on every page flush.
func (m *Manager) AttachBuffer(bm storageio.BufferManager) {
	m.bm = bm
	bm.SetEvictionHook(m.pageFlushHook)
}

// Initialize prepares a brand-new database: it appends the MASTER record
// and takes an initial checkpoint, so restart on an empty log has a valid
// starting point.
func (m *Manager) Initialize() error {
	master := logrecord.NewMaster(primitives.MasterLSN)
	if _, err := m.appendAt(master); err != nil {
		return err
	}
	return m.Checkpoint()
}

func (m *Manager) appendAt(r *logrecord.Record) (primitives.LSN, error) {
	payload, err := r.Serialize()
	if err != nil {
		return 0, err
	}
	lsn, err := m.log.Append(payload)
	if err != nil {
		return 0, dberr.Wrap(err, dberr.CodeIllegalState, "append", "recovery")
	}
	r.LSN = lsn
	return lsn, nil
}

func (m *Manager) fetch(lsn primitives.LSN) (*logrecord.Record, error) {
	payload, err := m.log.Fetch(lsn)
	if err != nil {
		return nil, err
	}
	r, err := logrecord.Deserialize(payload)
	if err != nil {
		return nil, err
	}
	r.LSN = lsn
	return r, nil
}

// StartTransaction begins tracking h, returning its fresh table entry (or
// the existing one, if h's number is already tracked).
func (m *Manager) StartTransaction(h txn.Handle) *txn.TableEntry {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return m.txns.Start(h)
}

func (m *Manager) entryOrErr(t primitives.TransactionNum) (*txn.TableEntry, error) {
	entry := m.txns.Get(t)
	if entry == nil {
		return nil, dberr.ErrAssertion.WithDetail("no transaction table entry for txn " + t.String())
	}
	return entry, nil
}

// Commit appends a COMMIT record for t, flushes the log through it, and
// returns its LSN.
func (m *Manager) Commit(t primitives.TransactionNum) (primitives.LSN, error) {
	entry, err := m.entryOrErr(t)
	if err != nil {
		return 0, err
	}
	if err := entry.SetStatus(txn.Committing); err != nil {
		return 0, err
	}

	r := logrecord.NewCommit(t, entry.LastLSN)
	lsn, err := m.appendAt(r)
	if err != nil {
		return 0, err
	}
	entry.LastLSN = lsn

	if err := m.log.FlushTo(lsn); err != nil {
		return 0, err
	}
	logging.WithTxn(int64(t)).Info("transaction committed", "lsn", uint64(lsn))
	return lsn, nil
}

// Abort appends an ABORT record for t. The rollback itself happens later,
// in End.
func (m *Manager) Abort(t primitives.TransactionNum) error {
	entry, err := m.entryOrErr(t)
	if err != nil {
		return err
	}
	if err := entry.SetStatus(txn.Aborting); err != nil {
		return err
	}

	r := logrecord.NewAbort(t, entry.LastLSN)
	lsn, err := m.appendAt(r)
	if err != nil {
		return err
	}
	entry.LastLSN = lsn
	return nil
}

// End finishes t: if it is aborting, rolls back to the beginning of its log
// chain first, then appends END, marks the transaction COMPLETE, and
// removes it from the transaction table. A transaction that is still
// RUNNING cannot move straight to COMPLETE, so End returns an illegal-state
// error for it without logging anything.
func (m *Manager) End(t primitives.TransactionNum) error {
	entry, err := m.entryOrErr(t)
	if err != nil {
		return err
	}
	if !txn.Transition(entry.Status, txn.Complete) {
		return dberr.ErrIllegalState.WithDetail(entry.Status.String() + " -> " + txn.Complete.String())
	}

	if entry.Status == txn.Aborting || entry.Status == txn.RecoveryAborting {
		if err := m.rollbackToLSN(entry, primitives.MasterLSN); err != nil {
			return err
		}
	}

	r := logrecord.NewEnd(t, entry.LastLSN)
	lsn, err := m.appendAt(r)
	if err != nil {
		return err
	}
	entry.LastLSN = lsn

	if err := entry.SetStatus(txn.Complete); err != nil {
		return err
	}
	m.txns.Remove(t)
	return nil
}

// LogPageWrite appends an UPDATE_PAGE record describing a physical change
// to pageNum, registers pageNum in the dirty page table if it isn't already
// there, and returns the record's LSN. Returns -1 without logging anything
// if pageNum lies in the reserved log partition.
func (m *Manager) LogPageWrite(t primitives.TransactionNum, pageNum primitives.PageNum, offset int, before, after []byte) (primitives.LSN, error) {
	if m.dsm.GetPartNum(pageNum) == primitives.LogPartition {
		return primitives.InvalidLSN, nil
	}

	entry, err := m.entryOrErr(t)
	if err != nil {
		return 0, err
	}

	r, err := logrecord.NewUpdatePage(t, entry.LastLSN, pageNum, offset, before, after)
	if err != nil {
		return 0, err
	}
	lsn, err := m.appendAt(r)
	if err != nil {
		return 0, err
	}
	entry.LastLSN = lsn
	m.dirtyPage(pageNum, lsn)
	return lsn, nil
}

func (m *Manager) logPartOp(t primitives.TransactionNum, part primitives.PartitionNum, build func(prevLSN primitives.LSN) *logrecord.Record) (primitives.LSN, error) {
	if part == primitives.LogPartition {
		return primitives.InvalidLSN, nil
	}

	entry, err := m.entryOrErr(t)
	if err != nil {
		return 0, err
	}
	r := build(entry.LastLSN)
	lsn, err := m.appendAt(r)
	if err != nil {
		return 0, err
	}
	entry.LastLSN = lsn
	if err := m.log.FlushTo(lsn); err != nil {
		return 0, err
	}
	return lsn, nil
}

// LogAllocPart appends an ALLOC_PART record and flushes it, since the
// partition becomes visible on disk immediately.
func (m *Manager) LogAllocPart(t primitives.TransactionNum, part primitives.PartitionNum) (primitives.LSN, error) {
	return m.logPartOp(t, part, func(prev primitives.LSN) *logrecord.Record {
		return logrecord.NewAllocPart(t, prev, part)
	})
}

// LogFreePart appends a FREE_PART record and flushes it.
func (m *Manager) LogFreePart(t primitives.TransactionNum, part primitives.PartitionNum) (primitives.LSN, error) {
	return m.logPartOp(t, part, func(prev primitives.LSN) *logrecord.Record {
		return logrecord.NewFreePart(t, prev, part)
	})
}

func (m *Manager) logPageOp(t primitives.TransactionNum, pageNum primitives.PageNum, build func(prevLSN primitives.LSN) *logrecord.Record) (primitives.LSN, error) {
	if m.dsm.GetPartNum(pageNum) == primitives.LogPartition {
		return primitives.InvalidLSN, nil
	}

	entry, err := m.entryOrErr(t)
	if err != nil {
		return 0, err
	}
	r := build(entry.LastLSN)
	lsn, err := m.appendAt(r)
	if err != nil {
		return 0, err
	}
	entry.LastLSN = lsn
	if err := m.log.FlushTo(lsn); err != nil {
		return 0, err
	}
	return lsn, nil
}

// LogAllocPage appends an ALLOC_PAGE record and flushes it.
func (m *Manager) LogAllocPage(t primitives.TransactionNum, pageNum primitives.PageNum) (primitives.LSN, error) {
	return m.logPageOp(t, pageNum, func(prev primitives.LSN) *logrecord.Record {
		return logrecord.NewAllocPage(t, prev, pageNum)
	})
}

// LogFreePage appends a FREE_PAGE record, flushes it, and removes pageNum
// from the dirty page table since it no longer exists on disk.
func (m *Manager) LogFreePage(t primitives.TransactionNum, pageNum primitives.PageNum) (primitives.LSN, error) {
	lsn, err := m.logPageOp(t, pageNum, func(prev primitives.LSN) *logrecord.Record {
		return logrecord.NewFreePage(t, prev, pageNum)
	})
	if err != nil {
		return 0, err
	}
	if lsn != primitives.InvalidLSN {
		m.dptMu.Lock()
		delete(m.dpt, pageNum)
		m.dptMu.Unlock()
	}
	return lsn, nil
}

// Savepoint records t's current lastLSN under name, for a later
// RollbackToSavepoint.
func (m *Manager) Savepoint(t primitives.TransactionNum, name string) error {
	entry, err := m.entryOrErr(t)
	if err != nil {
		return err
	}
	entry.Savepoints[name] = entry.LastLSN
	return nil
}

// RollbackToSavepoint undoes every record t wrote since name was declared.
func (m *Manager) RollbackToSavepoint(t primitives.TransactionNum, name string) error {
	entry, err := m.entryOrErr(t)
	if err != nil {
		return err
	}
	target, ok := entry.Savepoints[name]
	if !ok {
		return dberr.ErrAssertion.WithDetail("no savepoint named " + name)
	}
	return m.rollbackToLSN(entry, target)
}

// dirtyPage establishes pageNum's recLSN if absent, or lowers it to lsn if
// lsn predates the tracked value — correcting the race where redo or
// forward logging observes a page's writes out of log order.
func (m *Manager) dirtyPage(pageNum primitives.PageNum, lsn primitives.LSN) {
	m.dptMu.Lock()
	defer m.dptMu.Unlock()

	if existing, ok := m.dpt[pageNum]; !ok || lsn < existing {
		m.dpt[pageNum] = lsn
	}
}

// pageFlushHook is installed as the buffer pool's eviction hook: the
// write-ahead rule requires the log be durable through pageLSN before the
// page itself reaches disk.
func (m *Manager) pageFlushHook(pageLSN primitives.LSN) error {
	return m.log.FlushTo(pageLSN)
}


// rollbackToLSN walks entry's log chain backward from its current lastLSN
// (or, if that record is a CLR, from its undoNextLSN) down to and excluding
// target, appending a CLR and physically redoing it for every undoable
// record it passes.
func (m *Manager) rollbackToLSN(entry *txn.TableEntry, target primitives.LSN) error {
	cursor := entry.LastLSN
	if cursor == primitives.MasterLSN {
		return nil
	}

	first, err := m.fetch(cursor)
	if err != nil {
		return err
	}
	if first.IsCLR() {
		cursor = first.UndoNextLSN
	}

	for cursor > target {
		r, err := m.fetch(cursor)
		if err != nil {
			return err
		}

		if r.IsUndoable() {
			clr := r.Undo(entry.LastLSN)
			lsn, err := m.appendAt(clr)
			if err != nil {
				return err
			}
			if err := clr.Redo(m.dsm, m.bm); err != nil {
				return err
			}
			entry.LastLSN = lsn
			cursor = r.PrevLSN
			continue
		}

		cursor = r.PrevLSN
	}
	return nil
}
