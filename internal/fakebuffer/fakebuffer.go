// Package fakebuffer is an in-memory stand-in for the buffer pool the
// recovery manager treats as an out-of-scope external collaborator. It
// splits "durable" page bytes (DiskStore, which survives a simulated crash)
// from the in-memory dirty copies a Manager holds, so that dropping a
// Manager without flushing it faithfully reproduces the data loss restart
// recovery is meant to repair.
package fakebuffer

import (
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/storageio"
)

// PageSize is the fixed size every page in this fake allocates.
const PageSize = logrecordEffectivePageSize

// logrecordEffectivePageSize mirrors logrecord.EffectivePageSize without an
// import, since a page must be at least as large as the biggest image the
// log format allows and the two packages have no other reason to depend on
// each other.
const logrecordEffectivePageSize = 4096

// DiskStore holds the durable image of every page: the bytes and pageLSN as
// of the last time a Manager's eviction flushed them. A crash is simulated
// by constructing a fresh Manager over the same DiskStore and discarding
// the old Manager — any page dirtied but never flushed reverts to whatever
// DiskStore last recorded.
type DiskStore struct {
	mu      sync.Mutex
	pages   map[primitives.PageNum][]byte
	pageLSN map[primitives.PageNum]primitives.LSN
}

// NewDiskStore constructs an empty durable page store.
func NewDiskStore() *DiskStore {
	return &DiskStore{
		pages:   make(map[primitives.PageNum][]byte),
		pageLSN: make(map[primitives.PageNum]primitives.LSN),
	}
}

func (d *DiskStore) read(pageNum primitives.PageNum) ([]byte, primitives.LSN) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.pages[pageNum]; ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out, d.pageLSN[pageNum]
	}
	return make([]byte, PageSize), 0
}

func (d *DiskStore) write(pageNum primitives.PageNum, data []byte, lsn primitives.LSN) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	d.pages[pageNum] = cp
	d.pageLSN[pageNum] = lsn
}

// PageLSN returns the durable pageLSN for pageNum, as recorded on the last
// flush (0 if the page was never flushed).
func (d *DiskStore) PageLSN(pageNum primitives.PageNum) primitives.LSN {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageLSN[pageNum]
}

type page struct {
	mgr     *Manager
	pageNum primitives.PageNum
	data    []byte
	lsn     primitives.LSN
}

func (p *page) PageNum() primitives.PageNum { return p.pageNum }
func (p *page) PageLSN() primitives.LSN     { return p.lsn }

func (p *page) SetPageLSN(lsn primitives.LSN) {
	p.lsn = lsn
	p.mgr.markDirty(p.pageNum, p.data, lsn)
}

func (p *page) Data() []byte { return p.data }

func (p *page) Unpin() {
	p.mgr.unpin(p.pageNum)
}

// Manager is an in-memory buffer pool over a shared DiskStore.
type Manager struct {
	mu    sync.Mutex
	disk  *DiskStore
	cache map[primitives.PageNum]*cacheEntry
	hook  storageio.EvictionHook
}

type cacheEntry struct {
	data  []byte
	lsn   primitives.LSN
	dirty bool
	pins  int
}

// New constructs a buffer pool backed by disk. Passing the same DiskStore
// to a second New after discarding the first simulates a crash: any page
// dirty-but-unflushed in the first Manager is gone.
func New(disk *DiskStore) *Manager {
	return &Manager{disk: disk, cache: make(map[primitives.PageNum]*cacheEntry)}
}

// FetchPage returns a pinned page, loading its durable image on first
// access.
func (m *Manager) FetchPage(pageNum primitives.PageNum) (storageio.Page, error) {
	m.mu.Lock()
	entry, ok := m.cache[pageNum]
	if !ok {
		data, lsn := m.disk.read(pageNum)
		entry = &cacheEntry{data: data, lsn: lsn}
		m.cache[pageNum] = entry
	}
	entry.pins++
	data := entry.data
	lsn := entry.lsn
	m.mu.Unlock()

	return &page{mgr: m, pageNum: pageNum, data: data, lsn: lsn}, nil
}

func (m *Manager) markDirty(pageNum primitives.PageNum, data []byte, lsn primitives.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.cache[pageNum]
	if entry == nil {
		return
	}
	entry.data = data
	entry.lsn = lsn
	entry.dirty = true
}

func (m *Manager) unpin(pageNum primitives.PageNum) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry := m.cache[pageNum]; entry != nil && entry.pins > 0 {
		entry.pins--
	}
}

// DirtyPageNums returns every page currently dirty in memory.
func (m *Manager) DirtyPageNums() []primitives.PageNum {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []primitives.PageNum
	for pn, e := range m.cache {
		if e.dirty {
			out = append(out, pn)
		}
	}
	return out
}

// SetEvictionHook installs the callback invoked before a dirty page is
// written back to disk.
func (m *Manager) SetEvictionHook(hook storageio.EvictionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Flush writes pageNum's in-memory image through to the durable DiskStore,
// honoring the write-ahead rule by invoking the eviction hook (which must
// flush the log through the page's pageLSN) before the write lands. This is
// the fake's only path to durability; the recovery manager's own pageFlushHook
// wiring exercises it.
func (m *Manager) Flush(pageNum primitives.PageNum) error {
	m.mu.Lock()
	entry, ok := m.cache[pageNum]
	if !ok || !entry.dirty {
		m.mu.Unlock()
		return nil
	}
	data := entry.data
	lsn := entry.lsn
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(lsn); err != nil {
			return dberr.Wrap(err, dberr.CodeIllegalState, "Flush", "fakebuffer")
		}
	}
	m.disk.write(pageNum, data, lsn)

	m.mu.Lock()
	entry.dirty = false
	m.mu.Unlock()
	return nil
}

// FlushAll flushes every currently dirty page, in no particular order.
func (m *Manager) FlushAll() error {
	for _, pn := range m.DirtyPageNums() {
		if err := m.Flush(pn); err != nil {
			return err
		}
	}
	return nil
}
