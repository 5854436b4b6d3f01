// Package txn tracks the lifecycle state of a transaction as seen by the
// recovery manager: its current status, the LSN of the last record it
// wrote, and any savepoints it has declared.
package txn

import (
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// Status is one of a transaction's lifecycle states.
type Status int

const (
	Running Status = iota
	Committing
	Aborting
	RecoveryAborting
	Complete
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Committing:
		return "COMMITTING"
	case Aborting:
		return "ABORTING"
	case RecoveryAborting:
		return "RECOVERY_ABORTING"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// forward records the admissible targets from each status. Only forward
// motion and the three ways a running transaction can start winding down
// are legal; nothing transitions back to RUNNING or out of COMPLETE.
var forward = map[Status]map[Status]bool{
	Running:          {Committing: true, Aborting: true, RecoveryAborting: true},
	Committing:       {Complete: true},
	Aborting:         {Complete: true},
	RecoveryAborting: {Complete: true},
	Complete:         {},
}

// Transition reports whether moving from current to target is an admissible
// transaction status change.
func Transition(current, target Status) bool {
	return forward[current][target]
}

// Handle is the caller-supplied transaction object the recovery manager
// tracks; it knows only its own number.
type Handle interface {
	TransNum() primitives.TransactionNum
}

// TableEntry is the recovery manager's bookkeeping record for one active
// transaction.
type TableEntry struct {
	Handle     Handle
	Status     Status
	LastLSN    primitives.LSN
	Savepoints map[string]primitives.LSN
}

func newEntry(h Handle) *TableEntry {
	return &TableEntry{
		Handle:     h,
		Status:     Running,
		Savepoints: make(map[string]primitives.LSN),
	}
}

// SetStatus moves the entry to target, rejecting any transition Transition
// disallows.
func (e *TableEntry) SetStatus(target Status) error {
	if !Transition(e.Status, target) {
		return dberr.ErrIllegalState.WithDetail(e.Status.String() + " -> " + target.String())
	}
	e.Status = target
	return nil
}

// Table is the concurrency-safe map of transaction number to TableEntry
// that the recovery manager maintains across the life of the database.
type Table struct {
	mu      sync.RWMutex
	entries map[primitives.TransactionNum]*TableEntry
}

// NewTable constructs an empty transaction table.
func NewTable() *Table {
	return &Table{entries: make(map[primitives.TransactionNum]*TableEntry)}
}

// Start inserts a fresh entry for h, or returns the existing entry if one is
// already tracked (restart's analysis pass may see START_TRANSACTION-like
// activity for a transaction already inserted by an earlier record).
func (t *Table) Start(h Handle) *TableEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := h.TransNum()
	if e, ok := t.entries[n]; ok {
		return e
	}
	e := newEntry(h)
	t.entries[n] = e
	return e
}

// Get returns the entry for n, or nil if untracked.
func (t *Table) Get(n primitives.TransactionNum) *TableEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[n]
}

// Remove deletes n's entry, e.g. once its END record has been appended.
func (t *Table) Remove(n primitives.TransactionNum) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, n)
}

// Snapshot returns a shallow copy of every tracked entry's LSN and status,
// keyed by transaction number, for use in an END_CHECKPOINT record.
func (t *Table) Snapshot() map[primitives.TransactionNum]TableEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[primitives.TransactionNum]TableEntry, len(t.entries))
	for n, e := range t.entries {
		out[n] = TableEntry{Handle: e.Handle, Status: e.Status, LastLSN: e.LastLSN}
	}
	return out
}

// Len returns the number of currently tracked transactions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
