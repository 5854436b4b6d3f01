package logrecord

import (
	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// EffectivePageSize is the maximum page payload this log store will ever be
// asked to log a before/after image against; an UPDATE_PAGE record's
// before/after images can be at most half of it.
const EffectivePageSize = 4096

func newBase(typ Type, t primitives.TransactionNum, prevLSN primitives.LSN) *Record {
	return &Record{
		Type:     typ,
		TransNum: t,
		PrevLSN:  prevLSN,
		PageNum:  primitives.InvalidPageNum,
	}
}

// NewUpdatePage constructs an UPDATE_PAGE record. before and after must be
// equal length and no more than half of EffectivePageSize, per the
// before/after-image invariant.
func NewUpdatePage(t primitives.TransactionNum, prevLSN primitives.LSN, pageNum primitives.PageNum, offset int, before, after []byte) (*Record, error) {
	if len(before) != len(after) {
		return nil, dberr.ErrAssertion.WithDetail("update page before/after length mismatch")
	}
	if len(before) > EffectivePageSize/2 {
		return nil, dberr.ErrAssertion.WithDetail("update page image exceeds half the effective page size")
	}
	r := newBase(UpdatePage, t, prevLSN)
	r.PageNum = pageNum
	r.PageOffset = offset
	r.Before = before
	r.After = after
	return r, nil
}

// NewAllocPart constructs an ALLOC_PART record for a partition already
// allocated by the disk space manager.
func NewAllocPart(t primitives.TransactionNum, prevLSN primitives.LSN, part primitives.PartitionNum) *Record {
	r := newBase(AllocPart, t, prevLSN)
	r.PartitionNum = part
	return r
}

// NewFreePart constructs a FREE_PART record.
func NewFreePart(t primitives.TransactionNum, prevLSN primitives.LSN, part primitives.PartitionNum) *Record {
	r := newBase(FreePart, t, prevLSN)
	r.PartitionNum = part
	return r
}

// NewAllocPage constructs an ALLOC_PAGE record.
func NewAllocPage(t primitives.TransactionNum, prevLSN primitives.LSN, pageNum primitives.PageNum) *Record {
	r := newBase(AllocPage, t, prevLSN)
	r.PageNum = pageNum
	return r
}

// NewFreePage constructs a FREE_PAGE record.
func NewFreePage(t primitives.TransactionNum, prevLSN primitives.LSN, pageNum primitives.PageNum) *Record {
	r := newBase(FreePage, t, prevLSN)
	r.PageNum = pageNum
	return r
}

// NewCommit constructs a COMMIT_TRANSACTION record.
func NewCommit(t primitives.TransactionNum, prevLSN primitives.LSN) *Record {
	return newBase(CommitTransaction, t, prevLSN)
}

// NewAbort constructs an ABORT_TRANSACTION record.
func NewAbort(t primitives.TransactionNum, prevLSN primitives.LSN) *Record {
	return newBase(AbortTransaction, t, prevLSN)
}

// NewEnd constructs an END_TRANSACTION record.
func NewEnd(t primitives.TransactionNum, prevLSN primitives.LSN) *Record {
	return newBase(EndTransaction, t, prevLSN)
}

// NewMaster constructs the fixed MASTER record, always rewritten in place
// at LSN 0.
func NewMaster(lastCheckpointLSN primitives.LSN) *Record {
	r := &Record{Type: Master, TransNum: primitives.InvalidTransactionNum, PageNum: primitives.InvalidPageNum}
	r.MasterLastCheckpointLSN = lastCheckpointLSN
	return r
}

// NewBeginCheckpoint constructs a BEGIN_CHECKPOINT record.
func NewBeginCheckpoint() *Record {
	return &Record{Type: BeginCheckpoint, TransNum: primitives.InvalidTransactionNum, PageNum: primitives.InvalidPageNum}
}

// NewEndCheckpoint constructs an END_CHECKPOINT record carrying one shard of
// the dirty page table and transaction table snapshots.
func NewEndCheckpoint(dpt []DPTEntry, txns []TxnEntry) *Record {
	return &Record{
		Type:     EndCheckpoint,
		TransNum: primitives.InvalidTransactionNum,
		PageNum:  primitives.InvalidPageNum,
		DPT:      dpt,
		Txns:     txns,
	}
}
