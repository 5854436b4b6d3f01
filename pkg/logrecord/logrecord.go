// Package logrecord defines the tagged sum type for every event the
// recovery manager writes to the log, plus the per-variant behavior table
// (undoable/redoable/undo/redo) that replaces dynamic dispatch across a
// class hierarchy: a single Record struct carries every field any variant
// might need, and each behavior is a switch on its Type tag. An unknown tag
// encountered while deserializing is a fatal parse error, since restart
// cannot reason about a record whose shape it doesn't recognize.
package logrecord

import (
	"fmt"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/storageio"
	"github.com/junjiexh/rookiedb/pkg/txn"
)

// Type tags every variant of the log record sum type.
type Type uint8

const (
	Master Type = iota
	UpdatePage
	UndoUpdatePage
	AllocPart
	FreePart
	UndoAllocPart
	UndoFreePart
	AllocPage
	FreePage
	UndoAllocPage
	UndoFreePage
	CommitTransaction
	AbortTransaction
	EndTransaction
	BeginCheckpoint
	EndCheckpoint
)

func (t Type) String() string {
	switch t {
	case Master:
		return "MASTER"
	case UpdatePage:
		return "UPDATE_PAGE"
	case UndoUpdatePage:
		return "UNDO_UPDATE_PAGE"
	case AllocPart:
		return "ALLOC_PART"
	case FreePart:
		return "FREE_PART"
	case UndoAllocPart:
		return "UNDO_ALLOC_PART"
	case UndoFreePart:
		return "UNDO_FREE_PART"
	case AllocPage:
		return "ALLOC_PAGE"
	case FreePage:
		return "FREE_PAGE"
	case UndoAllocPage:
		return "UNDO_ALLOC_PAGE"
	case UndoFreePage:
		return "UNDO_FREE_PAGE"
	case CommitTransaction:
		return "COMMIT_TRANSACTION"
	case AbortTransaction:
		return "ABORT_TRANSACTION"
	case EndTransaction:
		return "END_TRANSACTION"
	case BeginCheckpoint:
		return "BEGIN_CHECKPOINT"
	case EndCheckpoint:
		return "END_CHECKPOINT"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// DPTEntry is one row of a checkpoint's dirty page table snapshot.
type DPTEntry struct {
	PageNum primitives.PageNum
	RecLSN  primitives.LSN
}

// TxnEntry is one row of a checkpoint's transaction table snapshot.
type TxnEntry struct {
	TransNum primitives.TransactionNum
	Status   txn.Status
	LastLSN  primitives.LSN
}

// MaxRecordsPerCheckpoint bounds how many DPT + transaction-table rows fit
// in a single END_CHECKPOINT record, forcing checkpoint() to split its
// snapshot across multiple records once the combined count would exceed it.
const MaxRecordsPerCheckpoint = 2000

// FitsInOneRecord reports whether a checkpoint holding dptCount dirty-page
// rows and txnCount transaction-table rows still fits in a single
// END_CHECKPOINT record.
func FitsInOneRecord(dptCount, txnCount int) bool {
	return dptCount+txnCount <= MaxRecordsPerCheckpoint
}

// Record is every logged event, regardless of Type. Fields not relevant to
// a given Type are left at their zero value; see the accessors below for
// which fields each Type populates.
type Record struct {
	Type     Type
	LSN      primitives.LSN
	TransNum primitives.TransactionNum // primitives.InvalidTransactionNum if none
	PrevLSN  primitives.LSN            // 0 means "no previous record"

	PageNum      primitives.PageNum      // primitives.InvalidPageNum if none
	PartitionNum primitives.PartitionNum // only ALLOC_PART/FREE_PART and their CLRs
	PageOffset   int                     // only UPDATE_PAGE/UNDO_UPDATE_PAGE

	Before []byte // UPDATE_PAGE only
	After  []byte // UPDATE_PAGE, UNDO_UPDATE_PAGE, UNDO_FREE_PAGE (not used today, reserved)

	UndoNextLSN primitives.LSN // CLRs only

	MasterLastCheckpointLSN primitives.LSN // MASTER only

	DPT  []DPTEntry // END_CHECKPOINT only
	Txns []TxnEntry // END_CHECKPOINT only
}

// HasTransNum reports whether this record belongs to a transaction.
func (r *Record) HasTransNum() bool {
	return r.TransNum != primitives.InvalidTransactionNum
}

// HasPageNum reports whether this record names a page.
func (r *Record) HasPageNum() bool {
	return r.PageNum != primitives.InvalidPageNum
}

// IsCLR reports whether this record is a compensation log record.
func (r *Record) IsCLR() bool {
	switch r.Type {
	case UndoUpdatePage, UndoAllocPart, UndoFreePart, UndoAllocPage, UndoFreePage:
		return true
	default:
		return false
	}
}

// IsUndoable reports whether this record is a forward operation that must
// produce a CLR on rollback. False for CLRs (never undone again), status
// and checkpoint records (nothing to physically undo), and FREE_PART /
// FREE_PAGE (their undo would itself be an allocation of space that may
// already have been reused by another transaction, so it is never
// attempted).
func (r *Record) IsUndoable() bool {
	switch r.Type {
	case UpdatePage, AllocPart, AllocPage:
		return true
	default:
		return false
	}
}

// IsRedoable reports whether this record has a concrete, replayable effect
// on a page or partition.
func (r *Record) IsRedoable() bool {
	switch r.Type {
	case UpdatePage, UndoUpdatePage,
		AllocPart, FreePart, UndoAllocPart, UndoFreePart,
		AllocPage, FreePage, UndoAllocPage, UndoFreePage:
		return true
	default:
		return false
	}
}

// Undo returns the compensation record for r, referencing r's own prevLSN
// as the CLR's UndoNextLSN and currentLastLSN (the transaction's lastLSN at
// the moment of rollback) as the CLR's own PrevLSN — so the CLR splices
// into the transaction's log chain in place of the record it compensates.
// Undo does not perform the undo; it only describes it. Panics if called on
// a record IsUndoable reports false for, since that is a caller contract
// violation, not a recoverable condition.
func (r *Record) Undo(currentLastLSN primitives.LSN) *Record {
	if !r.IsUndoable() {
		panic("logrecord: Undo called on a non-undoable record of type " + r.Type.String())
	}

	clr := &Record{
		TransNum:    r.TransNum,
		PrevLSN:     currentLastLSN,
		UndoNextLSN: r.PrevLSN,
		PageNum:     r.PageNum,
	}

	switch r.Type {
	case UpdatePage:
		clr.Type = UndoUpdatePage
		clr.PageOffset = r.PageOffset
		clr.After = r.Before
	case AllocPart:
		clr.Type = UndoAllocPart
		clr.PartitionNum = r.PartitionNum
	case AllocPage:
		clr.Type = UndoAllocPage
	default:
		panic("logrecord: unreachable undo for type " + r.Type.String())
	}
	return clr
}

// Redo performs r's side effect against disk/buffer state, setting the
// affected page's PageLSN to r.LSN when the record carries one. Callers
// must have already assigned r.LSN (via LogManager.Append) before calling
// Redo. The recovery manager is responsible for any dirty-page-table
// bookkeeping around the call; Redo touches only the disk/buffer surface.
func (r *Record) Redo(dsm storageio.DiskSpaceManager, bm storageio.BufferManager) error {
	switch r.Type {
	case UpdatePage, UndoUpdatePage:
		return r.redoPageWrite(bm)
	case AllocPart:
		return dsm.AllocPartAt(r.PartitionNum)
	case FreePart, UndoAllocPart:
		return dsm.FreePart(r.PartitionNum)
	case UndoFreePart:
		return dsm.AllocPartAt(r.PartitionNum)
	case AllocPage, UndoFreePage:
		return dsm.AllocPageAt(r.PageNum)
	case FreePage, UndoAllocPage:
		return dsm.FreePage(r.PageNum)
	default:
		return dberr.ErrAssertion.WithDetail("Redo called on non-redoable type " + r.Type.String())
	}
}

func (r *Record) redoPageWrite(bm storageio.BufferManager) error {
	page, err := bm.FetchPage(r.PageNum)
	if err != nil {
		return err
	}
	defer page.Unpin()

	data := page.Data()
	if r.PageOffset < 0 || r.PageOffset+len(r.After) > len(data) {
		return dberr.ErrAssertion.WithDetail("redo write out of page bounds")
	}
	copy(data[r.PageOffset:], r.After)
	page.SetPageLSN(r.LSN)
	return nil
}
