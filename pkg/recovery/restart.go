package recovery

import (
	"container/heap"

	"github.com/junjiexh/rookiedb/pkg/logging"
	"github.com/junjiexh/rookiedb/pkg/logrecord"
	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/txn"
)

// Restart runs the full ARIES recovery sequence against whatever the log
// currently holds: Analysis rebuilds the transaction table and dirty page
// table, Redo replays every physical change not yet known to be durable,
// and Undo rolls back every transaction left in flight at the crash. A
// checkpoint is taken once recovery completes so a second Restart on the
// same log converges immediately. Callers must not start new transactions
// until Restart returns.
func (m *Manager) Restart() error {
	log := logging.WithComponent("recovery")
	log.Info("restart beginning")

	if err := m.analysis(); err != nil {
		return err
	}
	if err := m.redo(); err != nil {
		return err
	}
	m.redoComplete = true
	m.cleanDPT()
	if err := m.undo(); err != nil {
		return err
	}

	log.Info("restart complete, taking post-recovery checkpoint")
	return m.Checkpoint()
}

// analysis scans forward from the last installed checkpoint, rebuilding the
// transaction table and dirty page table to reflect everything the log
// records, then resolves every transaction still RUNNING or COMMITTING at
// end-of-log into a terminal or recovery-aborting state.
func (m *Manager) analysis() error {
	masterPayload, err := m.log.Fetch(primitives.MasterLSN)
	if err != nil {
		return err
	}
	master, err := logrecord.Deserialize(masterPayload)
	if err != nil {
		return err
	}

	it, err := m.log.ScanFrom(master.MasterLastCheckpointLSN)
	if err != nil {
		return err
	}
	defer it.Close()

	ended := make(map[primitives.TransactionNum]bool)

	for it.Next() {
		lsn, payload := it.Record()
		r, err := logrecord.Deserialize(payload)
		if err != nil {
			return err
		}
		r.LSN = lsn

		if r.HasTransNum() {
			entry := m.analysisEntry(r.TransNum)
			entry.LastLSN = r.LSN
		}

		if r.HasPageNum() {
			m.analysisDPT(r)
		}

		switch r.Type {
		case logrecord.CommitTransaction:
			if entry := m.txns.Get(r.TransNum); entry != nil {
				entry.Status = txn.Committing
			}
		case logrecord.AbortTransaction:
			if entry := m.txns.Get(r.TransNum); entry != nil {
				entry.Status = txn.RecoveryAborting
			}
		case logrecord.EndTransaction:
			m.txns.Remove(r.TransNum)
			ended[r.TransNum] = true
		case logrecord.EndCheckpoint:
			m.mergeCheckpoint(r, ended)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	for _, entry := range m.txns.Snapshot() {
		switch entry.Status {
		case txn.Committing:
			if err := m.End(entry.Handle.TransNum()); err != nil {
				return err
			}
		case txn.Running:
			live := m.txns.Get(entry.Handle.TransNum())
			live.Status = txn.RecoveryAborting
			r := logrecord.NewAbort(entry.Handle.TransNum(), live.LastLSN)
			lsn, err := m.appendAt(r)
			if err != nil {
				return err
			}
			live.LastLSN = lsn
		}
	}
	return nil
}

// analysisEntry returns the transaction table entry for t, synthesizing a
// fresh handle via the manager's TransactionFactory if analysis is the
// first time t has been observed this restart.
func (m *Manager) analysisEntry(t primitives.TransactionNum) *txn.TableEntry {
	if entry := m.txns.Get(t); entry != nil {
		return entry
	}
	return m.txns.Start(m.newTxn(t))
}

// analysisDPT applies the restart dirty-page-table update rule for r's
// type: allocation-only records need no DPT change, freeing records remove
// the page (it no longer exists on disk), and page-content records mark it
// dirty from r's own LSN.
func (m *Manager) analysisDPT(r *logrecord.Record) {
	switch r.Type {
	case logrecord.AllocPage, logrecord.UndoFreePage:
		// no DPT change: the page is freshly allocated, not dirtied
	case logrecord.UpdatePage, logrecord.UndoUpdatePage:
		m.dirtyPage(r.PageNum, r.LSN)
	case logrecord.FreePage, logrecord.UndoAllocPage:
		m.dptMu.Lock()
		delete(m.dpt, r.PageNum)
		m.dptMu.Unlock()
	}
}

// mergeCheckpoint folds an END_CHECKPOINT record's DPT and transaction
// snapshots into the in-progress analysis state. Checkpointed DPT entries
// supersede whatever analysis itself had derived for the same page, since
// the checkpoint's recLSN is authoritative. Transactions already known to
// have ended by the time this checkpoint record is reached are skipped.
func (m *Manager) mergeCheckpoint(r *logrecord.Record, ended map[primitives.TransactionNum]bool) {
	m.dptMu.Lock()
	for _, e := range r.DPT {
		m.dpt[e.PageNum] = e.RecLSN
	}
	m.dptMu.Unlock()

	for _, e := range r.Txns {
		if ended[e.TransNum] {
			continue
		}
		entry := m.analysisEntry(e.TransNum)
		if e.LastLSN > entry.LastLSN {
			entry.LastLSN = e.LastLSN
		}
		if txn.Transition(entry.Status, e.Status) {
			entry.Status = e.Status
		}
	}
}

// redo replays every redoable record from the oldest recLSN in the dirty
// page table forward, applying only the changes not already reflected on
// disk.
func (m *Manager) redo() error {
	startLSN := primitives.MasterLSN
	m.dptMu.Lock()
	for _, lsn := range m.dpt {
		if startLSN == primitives.MasterLSN || lsn < startLSN {
			startLSN = lsn
		}
	}
	m.dptMu.Unlock()

	it, err := m.log.ScanFrom(startLSN)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		lsn, payload := it.Record()
		r, err := logrecord.Deserialize(payload)
		if err != nil {
			return err
		}
		r.LSN = lsn

		if !r.IsRedoable() {
			continue
		}

		switch r.Type {
		case logrecord.AllocPart, logrecord.FreePart, logrecord.UndoAllocPart, logrecord.UndoFreePart,
			logrecord.AllocPage, logrecord.UndoFreePage:
			if err := r.Redo(m.dsm, m.bm); err != nil {
				return err
			}
		default:
			redo, err := m.shouldRedoPage(r)
			if err != nil {
				return err
			}
			if redo {
				if err := r.Redo(m.dsm, m.bm); err != nil {
					return err
				}
			}
		}
	}
	return it.Err()
}

// shouldRedoPage applies the page-affecting redo rule: the page must be
// tracked dirty with a recLSN at or before r's own LSN, and its current
// on-disk pageLSN must predate r's LSN.
func (m *Manager) shouldRedoPage(r *logrecord.Record) (bool, error) {
	m.dptMu.Lock()
	recLSN, dirty := m.dpt[r.PageNum]
	m.dptMu.Unlock()

	if !dirty || r.LSN < recLSN {
		return false, nil
	}

	page, err := m.bm.FetchPage(r.PageNum)
	if err != nil {
		return false, err
	}
	defer page.Unpin()

	return page.PageLSN() < r.LSN, nil
}

// cleanDPT discards every dirty page table entry for a page the buffer pool
// no longer considers dirty, now that redo has brought every tracked page
// up to date.
func (m *Manager) cleanDPT() {
	stillDirty := make(map[primitives.PageNum]bool)
	for _, pg := range m.bm.DirtyPageNums() {
		stillDirty[pg] = true
	}

	m.dptMu.Lock()
	defer m.dptMu.Unlock()
	for pg := range m.dpt {
		if !stillDirty[pg] {
			delete(m.dpt, pg)
		}
	}
}

// undoEntry is one item in undo's max-heap, ordered by lastLSN so the
// largest LSN across all RECOVERY_ABORTING transactions is always undone
// next.
type undoEntry struct {
	lastLSN primitives.LSN
	entry   *txn.TableEntry
}

type undoHeap []undoEntry

func (h undoHeap) Len() int            { return len(h) }
func (h undoHeap) Less(i, j int) bool  { return h[i].lastLSN > h[j].lastLSN }
func (h undoHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *undoHeap) Push(x interface{}) { *h = append(*h, x.(undoEntry)) }
func (h *undoHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// undo rolls back every transaction left RECOVERY_ABORTING after analysis,
// interleaving their CLR chains in strict LSN-descending order so that
// redo-then-undo always leaves the log in a valid prevLSN ordering.
func (m *Manager) undo() error {
	h := &undoHeap{}
	for _, e := range m.txns.Snapshot() {
		if e.Status != txn.RecoveryAborting {
			continue
		}
		live := m.txns.Get(e.Handle.TransNum())
		*h = append(*h, undoEntry{lastLSN: live.LastLSN, entry: live})
	}
	heap.Init(h)

	for h.Len() > 0 {
		top := heap.Pop(h).(undoEntry)
		entry := top.entry

		r, err := m.fetch(top.lastLSN)
		if err != nil {
			return err
		}

		var next primitives.LSN
		if r.IsUndoable() {
			clr := r.Undo(entry.LastLSN)
			lsn, err := m.appendAt(clr)
			if err != nil {
				return err
			}
			entry.LastLSN = lsn
			if err := clr.Redo(m.dsm, m.bm); err != nil {
				return err
			}
			next = clr.UndoNextLSN
		} else if r.IsCLR() {
			next = r.UndoNextLSN
		} else {
			next = r.PrevLSN
		}

		if next == primitives.MasterLSN {
			t := entry.Handle.TransNum()
			end := logrecord.NewEnd(t, entry.LastLSN)
			lsn, err := m.appendAt(end)
			if err != nil {
				return err
			}
			entry.LastLSN = lsn
			if err := entry.SetStatus(txn.Complete); err != nil {
				return err
			}
			m.txns.Remove(t)
			continue
		}

		heap.Push(h, undoEntry{lastLSN: next, entry: entry})
	}
	return nil
}
