// Package lock implements the flat lock table: a map from resource name to
// the set of currently granted locks and a FIFO queue of blocked requests,
// plus a reverse index from transaction to the locks it holds.
//
// Unlike a page-level two-phase lock manager, this one has no notion of
// deadlock detection: callers that acquire locks out of a consistent order
// are responsible for avoiding cycles themselves. Blocked requests simply
// wait on the resource's queue until the conflicting locks ahead of them
// are released.
package lock

import (
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/locktype"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// Lock is a single granted lock: a transaction holding a mode on a resource.
type Lock struct {
	TransNum     primitives.TransactionNum
	ResourceName primitives.ResourceName
	LockType     locktype.LockType
}

// request is a pending entry in a resource's wait queue. For a plain
// acquire, replaces is false and the request adds a new granted lock once
// dequeued. For a promote, replaces is true and the request overwrites the
// transaction's existing granted entry instead of adding a second one.
type request struct {
	transNum primitives.TransactionNum
	mode     locktype.LockType
	replaces bool
	granted  chan struct{}
}

type resourceEntry struct {
	name    primitives.ResourceName
	granted []Lock
	queue   []*request
}

func (e *resourceEntry) findGranted(t primitives.TransactionNum) (int, bool) {
	for i, l := range e.granted {
		if l.TransNum == t {
			return i, true
		}
	}
	return -1, false
}

// compatibleWithAll reports whether mode may be granted to t given every
// currently granted lock on this entry other than t's own.
func (e *resourceEntry) compatibleWithAll(t primitives.TransactionNum, mode locktype.LockType) bool {
	for _, l := range e.granted {
		if l.TransNum == t {
			continue
		}
		if !locktype.Compatible(l.LockType, mode) {
			return false
		}
	}
	return true
}

// Config holds lock manager tuning knobs, each with a documented zero-value
// default, as a plain struct rather than a flag-parsed options layer.
type Config struct {
	// InitialResourceCapacity presizes the resource table for a caller
	// who already knows roughly how many distinct resources (databases,
	// tables, pages) will see locking traffic, avoiding map growth churn
	// during startup. Zero means no presizing.
	InitialResourceCapacity int
}

// Manager is the lock table. A single mutex guards all resource entries and
// the transaction index; critical sections are short (map lookups and slice
// splices), so this does not become a bottleneck under the workloads this
// type of lock manager is meant for.
type Manager struct {
	mu         sync.Mutex
	resources  map[string]*resourceEntry
	byTransNum map[primitives.TransactionNum][]Lock
}

// NewManager constructs an empty lock table with default tuning.
func NewManager() *Manager {
	return NewManagerWithConfig(Config{})
}

// NewManagerWithConfig constructs an empty lock table tuned by cfg.
func NewManagerWithConfig(cfg Config) *Manager {
	return &Manager{
		resources:  make(map[string]*resourceEntry, cfg.InitialResourceCapacity),
		byTransNum: make(map[primitives.TransactionNum][]Lock),
	}
}

func (m *Manager) entry(r primitives.ResourceName) *resourceEntry {
	key := r.String()
	e, ok := m.resources[key]
	if !ok {
		e = &resourceEntry{name: r}
		m.resources[key] = e
	}
	return e
}

func (m *Manager) indexAdd(l Lock) {
	m.byTransNum[l.TransNum] = append(m.byTransNum[l.TransNum], l)
}

func (m *Manager) indexRemove(t primitives.TransactionNum, r primitives.ResourceName) {
	locks := m.byTransNum[t]
	for i, l := range locks {
		if l.ResourceName.Equals(r) {
			m.byTransNum[t] = append(locks[:i], locks[i+1:]...)
			return
		}
	}
}

func (m *Manager) indexReplace(t primitives.TransactionNum, r primitives.ResourceName, mode locktype.LockType) {
	locks := m.byTransNum[t]
	for i, l := range locks {
		if l.ResourceName.Equals(r) {
			locks[i].LockType = mode
			return
		}
	}
}

// Acquire grants t a lock of mode on r, blocking until it can be granted if
// necessary. Mode NL is never a valid request. Acquiring a resource t
// already holds a lock on fails with dberr.ErrDuplicateLock.
func (m *Manager) Acquire(t primitives.TransactionNum, r primitives.ResourceName, mode locktype.LockType) error {
	if mode == locktype.NL {
		return dberr.ErrInvalidLock.WithDetail("NL is not a valid lock request")
	}

	m.mu.Lock()
	e := m.entry(r)

	if _, held := e.findGranted(t); held {
		m.mu.Unlock()
		return dberr.ErrDuplicateLock.WithDetail(r.String())
	}

	if len(e.queue) == 0 && e.compatibleWithAll(t, mode) {
		l := Lock{TransNum: t, ResourceName: r, LockType: mode}
		e.granted = append(e.granted, l)
		m.indexAdd(l)
		m.mu.Unlock()
		return nil
	}

	req := &request{transNum: t, mode: mode, granted: make(chan struct{})}
	e.queue = append(e.queue, req)
	m.mu.Unlock()

	<-req.granted
	return nil
}

// Release removes t's lock on r, then grants the longest prefix of r's
// pending queue that remains mutually compatible with what's left granted,
// stopping at the first request that still conflicts so FIFO order across
// the blocked transactions is preserved.
func (m *Manager) Release(t primitives.TransactionNum, r primitives.ResourceName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(r)
	idx, held := e.findGranted(t)
	if !held {
		return dberr.ErrNoLockHeld.WithDetail(r.String())
	}

	e.granted = append(e.granted[:idx], e.granted[idx+1:]...)
	m.indexRemove(t, r)

	m.processQueue(e)
	return nil
}

// Promote atomically changes t's mode on r. newMode must be strictly
// stronger than t's current mode per locktype.Substitutable; requesting the
// mode already held fails as a duplicate. A promotion that cannot be
// granted immediately queues behind any pending requests already ahead of
// it rather than bypassing them.
func (m *Manager) Promote(t primitives.TransactionNum, r primitives.ResourceName, newMode locktype.LockType) error {
	m.mu.Lock()

	e := m.entry(r)
	idx, held := e.findGranted(t)
	if !held {
		m.mu.Unlock()
		return dberr.ErrNoLockHeld.WithDetail(r.String())
	}

	current := e.granted[idx].LockType
	if newMode == current {
		m.mu.Unlock()
		return dberr.ErrDuplicateLock.WithDetail(r.String())
	}
	if !locktype.Substitutable(current, newMode) {
		m.mu.Unlock()
		return dberr.ErrInvalidLock.WithDetail("promotion from " + current.String() + " to " + newMode.String() + " is not an upgrade")
	}

	if len(e.queue) == 0 && e.compatibleWithAll(t, newMode) {
		e.granted[idx].LockType = newMode
		m.indexReplace(t, r, newMode)
		m.mu.Unlock()
		return nil
	}

	req := &request{transNum: t, mode: newMode, replaces: true, granted: make(chan struct{})}
	e.queue = append(e.queue, req)
	m.mu.Unlock()

	<-req.granted
	return nil
}

// AcquireAndRelease grants mode on r and releases every resource in
// releaseSet (which may include r itself) as a single atomic event: no
// other transaction observes a state where the releases have happened but
// the new grant hasn't, or vice versa.
func (m *Manager) AcquireAndRelease(t primitives.TransactionNum, r primitives.ResourceName, mode locktype.LockType, releaseSet []primitives.ResourceName) error {
	m.mu.Lock()

	affected := make(map[string]*resourceEntry, len(releaseSet)+1)
	for _, rn := range releaseSet {
		if rn.Equals(r) {
			continue
		}
		e := m.entry(rn)
		if _, held := e.findGranted(t); !held {
			m.mu.Unlock()
			return dberr.ErrNoLockHeld.WithDetail(rn.String())
		}
		affected[rn.String()] = e
	}

	e := m.entry(r)
	if idx, held := e.findGranted(t); held && mode == e.granted[idx].LockType {
		m.mu.Unlock()
		return dberr.ErrDuplicateLock.WithDetail(r.String())
	}

	for _, e := range affected {
		idx, _ := e.findGranted(t)
		e.granted = append(e.granted[:idx], e.granted[idx+1:]...)
	}
	for _, rn := range releaseSet {
		if rn.Equals(r) {
			continue
		}
		m.indexRemove(t, rn)
	}

	if idx, held := e.findGranted(t); held {
		e.granted[idx].LockType = mode
		m.indexReplace(t, r, mode)
	} else if len(e.queue) == 0 && e.compatibleWithAll(t, mode) {
		l := Lock{TransNum: t, ResourceName: r, LockType: mode}
		e.granted = append(e.granted, l)
		m.indexAdd(l)
	} else {
		req := &request{transNum: t, mode: mode, granted: make(chan struct{})}
		e.queue = append(e.queue, req)
		for _, affectedEntry := range affected {
			m.processQueue(affectedEntry)
		}
		m.mu.Unlock()
		<-req.granted
		return nil
	}

	for _, affectedEntry := range affected {
		m.processQueue(affectedEntry)
	}
	m.mu.Unlock()
	return nil
}

// processQueue grants the longest prefix of e's pending queue compatible
// with the locks remaining granted, in order, stopping at the first request
// that still conflicts. Must be called with m.mu held.
func (m *Manager) processQueue(e *resourceEntry) {
	granted := 0
	for _, req := range e.queue {
		if req.replaces {
			idx, ok := e.findGranted(req.transNum)
			if !ok || !e.compatibleWithAll(req.transNum, req.mode) {
				break
			}
			e.granted[idx].LockType = req.mode
			m.indexReplace(req.transNum, e.name, req.mode)
		} else {
			if !e.compatibleWithAll(req.transNum, req.mode) {
				break
			}
			l := Lock{TransNum: req.transNum, ResourceName: e.name, LockType: req.mode}
			e.granted = append(e.granted, l)
			m.indexAdd(l)
		}
		close(req.granted)
		granted++
	}
	e.queue = e.queue[granted:]
}

// GetLocks returns every lock t currently holds.
func (m *Manager) GetLocks(t primitives.TransactionNum) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Lock, len(m.byTransNum[t]))
	copy(out, m.byTransNum[t])
	return out
}

// GetLocksOnResource returns every lock currently granted on r.
func (m *Manager) GetLocksOnResource(r primitives.ResourceName) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(r)
	out := make([]Lock, len(e.granted))
	copy(out, e.granted)
	return out
}

// GetDescendantLocks returns every lock t holds on a strict descendant of r.
func (m *Manager) GetDescendantLocks(t primitives.TransactionNum, r primitives.ResourceName) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Lock
	for _, l := range m.byTransNum[t] {
		if l.ResourceName.IsDescendantOf(r) {
			out = append(out, l)
		}
	}
	return out
}
