package recovery

import (
	"github.com/junjiexh/rookiedb/pkg/logging"
	"github.com/junjiexh/rookiedb/pkg/logrecord"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// Checkpoint takes a fuzzy checkpoint: it snapshots the dirty page table and
// transaction table into one or more END_CHECKPOINT records, then rewrites
// the master record in place to point at the new checkpoint. The rewrite is
// the atomic "checkpoint installed" event — a crash before it leaves restart
// scanning from whatever checkpoint was previously installed.
func (m *Manager) Checkpoint() error {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	begin := logrecord.NewBeginCheckpoint()
	beginLSN, err := m.appendAt(begin)
	if err != nil {
		return err
	}

	lastLSN, err := m.emitCheckpointRecords()
	if err != nil {
		return err
	}

	if err := m.log.FlushTo(lastLSN); err != nil {
		return err
	}

	master := logrecord.NewMaster(beginLSN)
	payload, err := master.Serialize()
	if err != nil {
		return err
	}
	if err := m.log.RewriteMasterRecord(payload); err != nil {
		return err
	}

	logging.WithComponent("recovery").Info("checkpoint installed", "begin_lsn", uint64(beginLSN))
	return nil
}

// fitsInOneRecord reports whether dptCount dirty-page-table rows and
// txnCount transaction-table rows fit in a single END_CHECKPOINT record
// under m.cfg's checkpoint fan-out limit.
func (m *Manager) fitsInOneRecord(dptCount, txnCount int) bool {
	return dptCount+txnCount <= m.cfg.checkpointLimit()
}

// emitCheckpointRecords snapshots the dirty page table and transaction
// table into END_CHECKPOINT records, splitting across multiple records once
// a single one would exceed m.fitsInOneRecord. Dirty pages are snapshotted
// first, then transactions, in a fixed order restart's analysis pass relies
// on.
func (m *Manager) emitCheckpointRecords() (primitives.LSN, error) {
	m.dptMu.Lock()
	dptEntries := make([]logrecord.DPTEntry, 0, len(m.dpt))
	for pg, lsn := range m.dpt {
		dptEntries = append(dptEntries, logrecord.DPTEntry{PageNum: pg, RecLSN: lsn})
	}
	m.dptMu.Unlock()

	txnSnapshot := m.txns.Snapshot()
	txnEntries := make([]logrecord.TxnEntry, 0, len(txnSnapshot))
	for num, e := range txnSnapshot {
		txnEntries = append(txnEntries, logrecord.TxnEntry{TransNum: num, Status: e.Status, LastLSN: e.LastLSN})
	}

	var lastLSN primitives.LSN
	var dptBatch []logrecord.DPTEntry
	var txnBatch []logrecord.TxnEntry

	flush := func() error {
		if len(dptBatch) == 0 && len(txnBatch) == 0 {
			return nil
		}
		r := logrecord.NewEndCheckpoint(dptBatch, txnBatch)
		lsn, err := m.appendAt(r)
		if err != nil {
			return err
		}
		lastLSN = lsn
		dptBatch = nil
		txnBatch = nil
		return nil
	}

	for _, e := range dptEntries {
		if !m.fitsInOneRecord(len(dptBatch)+1, len(txnBatch)) {
			if err := flush(); err != nil {
				return 0, err
			}
		}
		dptBatch = append(dptBatch, e)
	}
	for _, e := range txnEntries {
		if !m.fitsInOneRecord(len(dptBatch), len(txnBatch)+1) {
			if err := flush(); err != nil {
				return 0, err
			}
		}
		txnBatch = append(txnBatch, e)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if lastLSN == 0 {
		// No DPT/txn rows at all: still need a final END_CHECKPOINT so
		// restart has something to scan past BEGIN_CHECKPOINT.
		r := logrecord.NewEndCheckpoint(nil, nil)
		lsn, err := m.appendAt(r)
		if err != nil {
			return 0, err
		}
		lastLSN = lsn
	}
	return lastLSN, nil
}
