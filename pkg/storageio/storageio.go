// Package storageio defines the external collaborators the recovery manager
// depends on but does not implement: the disk space manager, the buffer
// pool, and the underlying append-only log store. All three are interfaces
// here; concrete implementations live in package logstore (for the log) and
// in internal/fakedisk and internal/fakebuffer (in-memory stand-ins used by
// tests and the demo CLI).
//
// Keeping these as interfaces lets the recovery manager be constructed
// before the buffer pool exists and wired to it afterward — the buffer pool
// needs a reference back to the recovery manager's eviction hook, and the
// recovery manager needs a reference to the buffer pool's page fetch, so
// neither can be fully built first. Two-phase construction breaks the cycle:
// build the recovery manager bare, build the buffer pool, then call the
// recovery manager's AttachBuffer(bufferManager), which installs its eviction
// hook on the pool.
package storageio

import "github.com/junjiexh/rookiedb/pkg/primitives"

// Page is a pinned, mutable view of one on-disk page held in the buffer
// pool. Every FetchPage must be paired with exactly one Unpin along all
// exit paths, including error paths in the caller.
type Page interface {
	PageNum() primitives.PageNum
	// PageLSN is the LSN of the last log record whose effect is reflected
	// in this page's current in-memory image.
	PageLSN() primitives.LSN
	SetPageLSN(lsn primitives.LSN)
	// Data returns the page's raw bytes. Mutating the returned slice
	// mutates the page in place; the caller is responsible for calling
	// SetPageLSN afterward.
	Data() []byte
	Unpin()
}

// EvictionHook is invoked by the buffer pool immediately before it writes a
// dirty page back to disk, so the recovery manager can enforce the
// write-ahead rule: the log must be durable through the page's pageLSN
// before the page itself becomes visible on disk.
type EvictionHook func(pageLSN primitives.LSN) error

// BufferManager is the out-of-scope page cache. The recovery manager only
// needs to fetch pages (to redo/undo onto them) and to ask which pages it
// currently considers dirty (to reconcile the dirty page table at restart).
type BufferManager interface {
	// FetchPage returns a pinned page, creating/loading it if necessary.
	// The caller must call Page.Unpin() exactly once.
	FetchPage(pageNum primitives.PageNum) (Page, error)

	// DirtyPageNums returns every page the buffer pool currently believes
	// is dirty (modified in memory, not yet flushed to disk).
	DirtyPageNums() []primitives.PageNum

	// SetEvictionHook installs the callback invoked before a dirty page is
	// written back. Implementations call it exactly once per eviction,
	// with the page's current pageLSN, before the write reaches disk.
	SetEvictionHook(hook EvictionHook)
}

// DiskSpaceManager is the out-of-scope allocator for partitions and pages.
// Partition 0 is permanently reserved for the log; GetPartNum never returns
// it for a page allocated through AllocPage.
//
// Forward processing calls AllocPart/AllocPage, which assign the next free
// number themselves. Restart redo replays those same allocations against
// whatever number the original record recorded, so the *At variants are
// idempotent: allocating a partition/page number that already exists is a
// no-op, and freeing one that is already free is a no-op. This is what lets
// the partition records, ALLOC_PAGE and UNDO_FREE_PAGE be redone
// unconditionally during restart recovery, and FREE_PAGE/UNDO_ALLOC_PAGE be
// redone more than once, without the disk space manager tracking log
// positions itself.
type DiskSpaceManager interface {
	// GetPartNum returns the partition a page number belongs to.
	GetPartNum(pageNum primitives.PageNum) primitives.PartitionNum

	AllocPart() (primitives.PartitionNum, error)
	AllocPartAt(part primitives.PartitionNum) error
	FreePart(part primitives.PartitionNum) error

	AllocPage(part primitives.PartitionNum) (primitives.PageNum, error)
	AllocPageAt(pageNum primitives.PageNum) error
	FreePage(pageNum primitives.PageNum) error
}

// RecordIterator sequentially yields (LSN, payload) pairs from a LogManager
// scan, oldest first.
type RecordIterator interface {
	// Next advances to the next record, returning false at end-of-log or
	// on error (check Err to distinguish the two).
	Next() bool
	// Record returns the LSN and raw payload of the current record. Only
	// valid after a Next call that returned true.
	Record() (primitives.LSN, []byte)
	Err() error
	Close() error
}

// LogManager is the out-of-scope thin append-only record store. It knows
// nothing about log record structure; it stores and retrieves opaque
// payloads keyed by the LSN it assigns on Append.
type LogManager interface {
	// Append assigns the next LSN and stores payload, returning the LSN.
	// LSNs are monotonically increasing across the life of the log.
	Append(payload []byte) (primitives.LSN, error)

	// FlushTo guarantees every record up to and including lsn is durable
	// before returning.
	FlushTo(lsn primitives.LSN) error

	// Fetch returns the payload stored at lsn.
	Fetch(lsn primitives.LSN) ([]byte, error)

	// ScanFrom returns an iterator over every record at or after from, in
	// LSN order.
	ScanFrom(from primitives.LSN) (RecordIterator, error)

	// RewriteMasterRecord overwrites the fixed record at LSN 0 in place.
	// This is the only in-place mutation the log store performs.
	RewriteMasterRecord(payload []byte) error
}
