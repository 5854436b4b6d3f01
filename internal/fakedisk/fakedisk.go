// Package fakedisk is an in-memory stand-in for the disk space manager the
// recovery manager treats as an out-of-scope external collaborator. It
// exists only to back the recovery manager's tests and the ariesctl demo
// CLI with something that implements storageio.DiskSpaceManager.
package fakedisk

import (
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// PagesPerPartition bounds how many page numbers a single partition spans;
// GetPartNum divides a page number by this to find its owning partition.
const PagesPerPartition = 1 << 16

// Manager is a map-backed DiskSpaceManager: partitions are sets of
// allocated page numbers, page numbers are assigned sequentially within
// their partition.
type Manager struct {
	mu         sync.Mutex
	partitions map[primitives.PartitionNum]map[primitives.PageNum]bool
	nextPart   primitives.PartitionNum
	nextInPart map[primitives.PartitionNum]int64
}

// New constructs an empty disk space manager. Partition 0 is reserved for
// the log and is never handed out by AllocPart.
func New() *Manager {
	return &Manager{
		partitions: make(map[primitives.PartitionNum]map[primitives.PageNum]bool),
		nextPart:   primitives.LogPartition + 1,
		nextInPart: make(map[primitives.PartitionNum]int64),
	}
}

// GetPartNum returns the partition a page number belongs to.
func (m *Manager) GetPartNum(pageNum primitives.PageNum) primitives.PartitionNum {
	return primitives.PartitionNum(int64(pageNum) / PagesPerPartition)
}

// AllocPart assigns and creates the next unused partition number.
func (m *Manager) AllocPart() (primitives.PartitionNum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.nextPart
	m.nextPart++
	m.partitions[part] = make(map[primitives.PageNum]bool)
	return part, nil
}

// AllocPartAt idempotently ensures part exists, used to redo an ALLOC_PART
// record during restart regardless of how many times it replays.
func (m *Manager) AllocPartAt(part primitives.PartitionNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.partitions[part]; !ok {
		m.partitions[part] = make(map[primitives.PageNum]bool)
	}
	if part >= m.nextPart {
		m.nextPart = part + 1
	}
	return nil
}

// FreePart idempotently removes part and every page allocated within it.
func (m *Manager) FreePart(part primitives.PartitionNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.partitions, part)
	delete(m.nextInPart, part)
	return nil
}

// AllocPage assigns the next unused page number within part.
func (m *Manager) AllocPage(part primitives.PartitionNum) (primitives.PageNum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, ok := m.partitions[part]
	if !ok {
		return 0, dberr.ErrIllegalState.WithDetail("AllocPage on unallocated partition")
	}

	idx := m.nextInPart[part]
	m.nextInPart[part] = idx + 1
	pageNum := primitives.PageNum(int64(part)*PagesPerPartition + idx)
	pages[pageNum] = true
	return pageNum, nil
}

// AllocPageAt idempotently ensures pageNum exists within its owning
// partition (creating the partition too, if absent), used to redo an
// ALLOC_PAGE record during restart.
func (m *Manager) AllocPageAt(pageNum primitives.PageNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.GetPartNum(pageNum)
	pages, ok := m.partitions[part]
	if !ok {
		pages = make(map[primitives.PageNum]bool)
		m.partitions[part] = pages
	}
	pages[pageNum] = true

	localIdx := int64(pageNum) - int64(part)*PagesPerPartition
	if localIdx+1 > m.nextInPart[part] {
		m.nextInPart[part] = localIdx + 1
	}
	return nil
}

// FreePage idempotently removes pageNum from its partition.
func (m *Manager) FreePage(pageNum primitives.PageNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.GetPartNum(pageNum)
	if pages, ok := m.partitions[part]; ok {
		delete(pages, pageNum)
	}
	return nil
}

// PageExists reports whether pageNum is currently allocated; used by tests
// to assert on ALLOC/FREE redo outcomes.
func (m *Manager) PageExists(pageNum primitives.PageNum) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.GetPartNum(pageNum)
	pages, ok := m.partitions[part]
	return ok && pages[pageNum]
}

// PartitionExists reports whether part is currently allocated.
func (m *Manager) PartitionExists(part primitives.PartitionNum) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.partitions[part]
	return ok
}
