// Package lockcontext layers multigranularity enforcement and parent-child
// lock counting on top of package lock's flat lock table. A Context is one
// node of the resource tree (database -> table -> page); it validates that a
// request holds a compatible intention lock on its parent before forwarding
// to the Manager, and tracks how many locks a transaction holds anywhere in
// its subtree so release() can refuse to orphan a descendant's intent.
package lockcontext

import (
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/lock"
	"github.com/junjiexh/rookiedb/pkg/locktype"
	"github.com/junjiexh/rookiedb/pkg/logging"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// Context is one node of the lock hierarchy rooted at a database context.
// Contexts outlive individual transactions; the tree has no cycles, so
// children are owned by their parent's map and the parent pointer is a
// non-owning back-reference.
type Context struct {
	manager *lock.Manager
	name    primitives.ResourceName
	parent  *Context

	mu                 sync.Mutex
	children           map[string]*Context
	readonly           bool
	childLocksDisabled bool
	// childLockCount[t] is the number of locks t holds anywhere in this
	// context's strict subtree, maintained by every ancestor of a resource
	// whenever a lock on that resource is acquired or released directly
	// (not on a mode-only promotion, which touches no new resource).
	childLockCount map[primitives.TransactionNum]int
}

// NewDatabaseContext constructs the root of a lock hierarchy over manager.
func NewDatabaseContext(manager *lock.Manager, name string) *Context {
	return &Context{
		manager:        manager,
		name:           primitives.RootResourceName(name),
		children:       make(map[string]*Context),
		childLockCount: make(map[primitives.TransactionNum]int),
	}
}

// Name returns the resource name this context represents.
func (c *Context) Name() primitives.ResourceName { return c.name }

// Parent returns the enclosing context, or nil at the root.
func (c *Context) Parent() *Context { return c.parent }

// ChildContext returns the context for name nested directly under c,
// creating it on first access.
func (c *Context) ChildContext(name string) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.childLocksDisabled {
		return nil, dberr.ErrUnsupportedOp.WithDetail("child locking disabled on " + c.name.String())
	}
	if child, ok := c.children[name]; ok {
		return child, nil
	}
	child := &Context{
		manager:        c.manager,
		name:           c.name.Child(name),
		parent:         c,
		children:       make(map[string]*Context),
		childLockCount: make(map[primitives.TransactionNum]int),
	}
	c.children[name] = child
	return child, nil
}

// DisableChildLocks marks c as a leaf that may never grow child contexts,
// e.g. a page-level context under which there is no finer granularity. This
// is one-way, like SetReadonly.
func (c *Context) DisableChildLocks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.childLocksDisabled = true
}

// SetReadonly marks c (and implicitly its subtree, since every mutating call
// checks its own context only — callers disable from the root down) so that
// no further Acquire/Release/Promote/Escalate succeeds here. Never reversed.
func (c *Context) SetReadonly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readonly = true
}

func (c *Context) isReadonly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readonly
}

// GetExplicitLockType returns t's current mode at this node, or NL if none.
func (c *Context) GetExplicitLockType(t primitives.TransactionNum) locktype.LockType {
	for _, l := range c.manager.GetLocks(t) {
		if l.ResourceName.Equals(c.name) {
			return l.LockType
		}
	}
	return locktype.NL
}

// GetEffectiveLockType returns the strongest access t has at this node,
// taking inherited ancestor locks into account: an explicit lock wins
// outright; absent that, an ancestor holding S or X implies the same here,
// an ancestor holding SIX implies S, and any intent-only ancestor implies
// nothing (NL) at this level.
func (c *Context) GetEffectiveLockType(t primitives.TransactionNum) locktype.LockType {
	if explicit := c.GetExplicitLockType(t); explicit != locktype.NL {
		return explicit
	}
	if c.parent == nil {
		return locktype.NL
	}
	switch parentEffective := c.parent.GetEffectiveLockType(t); parentEffective {
	case locktype.S, locktype.X:
		return parentEffective
	case locktype.SIX:
		return locktype.S
	default:
		return locktype.NL
	}
}

// NumChildren returns the number of locks t holds on any strict descendant
// of this context.
func (c *Context) NumChildren(t primitives.TransactionNum) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.childLockCount[t]
}

func (c *Context) bumpChildCount(t primitives.TransactionNum, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.childLockCount[t] += delta
	if c.childLockCount[t] <= 0 {
		delete(c.childLockCount, t)
	}
}

// bumpAncestors walks every ancestor of c (c's parent up to the root),
// adjusting each one's count of t's descendant locks by delta.
func (c *Context) bumpAncestors(t primitives.TransactionNum, delta int) {
	for p := c.parent; p != nil; p = p.parent {
		p.bumpChildCount(t, delta)
	}
}

// Acquire grants t a lock of mode at this context, after verifying the
// parent holds a compatible intention lock.
func (c *Context) Acquire(t primitives.TransactionNum, mode locktype.LockType) error {
	log := logging.WithComponent("lockcontext")
	if c.isReadonly() {
		return dberr.ErrUnsupportedOp.WithDetail("acquire on readonly context " + c.name.String())
	}
	if c.parent != nil {
		parentType := c.parent.GetExplicitLockType(t)
		if !locktype.CanBeParentLock(parentType, mode) {
			return dberr.ErrInvalidLock.WithDetail(
				"parent " + c.parent.name.String() + " holds " + parentType.String() +
					", insufficient to acquire " + mode.String() + " on " + c.name.String())
		}
		if mode == locktype.IS || mode == locktype.S {
			for p := c.parent; p != nil; p = p.parent {
				if p.GetExplicitLockType(t) == locktype.SIX {
					return dberr.ErrInvalidLock.WithDetail(
						mode.String() + " on " + c.name.String() + " is redundant beneath SIX held on " + p.name.String())
				}
			}
		}
	}
	if err := c.manager.Acquire(t, c.name, mode); err != nil {
		return err
	}
	c.bumpAncestors(t, 1)
	log.Debug("lock acquired", "txn", t, "resource", c.name.String(), "mode", mode.String())
	return nil
}

// Release releases t's lock at this context. Refused if t still holds any
// descendant lock, which would otherwise become orphaned intent.
func (c *Context) Release(t primitives.TransactionNum) error {
	if c.isReadonly() {
		return dberr.ErrUnsupportedOp.WithDetail("release on readonly context " + c.name.String())
	}
	if c.NumChildren(t) > 0 {
		return dberr.ErrInvalidLock.WithDetail("cannot release " + c.name.String() + ": descendant locks still held")
	}
	if err := c.manager.Release(t, c.name); err != nil {
		return err
	}
	c.bumpAncestors(t, -1)
	return nil
}

// Promote changes t's mode at this context to newMode, which must be
// substitutable for (at least as strong as) the current mode and different
// from it. Promoting to SIX is handled specially: it is forbidden beneath
// an ancestor that already holds SIX (redundant), and it atomically folds
// every descendant lock held in {S, IS} into the new SIX grant.
func (c *Context) Promote(t primitives.TransactionNum, newMode locktype.LockType) error {
	if c.isReadonly() {
		return dberr.ErrUnsupportedOp.WithDetail("promote on readonly context " + c.name.String())
	}
	current := c.GetExplicitLockType(t)
	if newMode == current {
		return dberr.ErrDuplicateLock.WithDetail(c.name.String())
	}
	if !locktype.Substitutable(current, newMode) {
		return dberr.ErrInvalidLock.WithDetail("promotion from " + current.String() + " to " + newMode.String() + " is not an upgrade")
	}

	if newMode != locktype.SIX {
		if err := c.manager.Promote(t, c.name, newMode); err != nil {
			return err
		}
		return nil
	}

	for p := c.parent; p != nil; p = p.parent {
		if p.GetExplicitLockType(t) == locktype.SIX {
			return dberr.ErrInvalidLock.WithDetail("SIX already held on ancestor " + p.name.String())
		}
	}

	var releaseSet []primitives.ResourceName
	for _, l := range c.manager.GetDescendantLocks(t, c.name) {
		if l.LockType == locktype.S || l.LockType == locktype.IS {
			releaseSet = append(releaseSet, l.ResourceName)
		}
	}

	if err := c.manager.AcquireAndRelease(t, c.name, newMode, releaseSet); err != nil {
		return err
	}
	for _, rn := range releaseSet {
		c.decrementAncestorsOf(t, rn)
	}
	return nil
}

// Escalate collapses every descendant lock t holds under this context, plus
// its own lock here if any, into a single S or X grant at this context: X if
// this node or any descendant currently holds IX, SIX, or X; S otherwise.
// Idempotent — a second call when this context already holds the target
// mode performs no mutating LockManager call.
func (c *Context) Escalate(t primitives.TransactionNum) error {
	if c.isReadonly() {
		return dberr.ErrUnsupportedOp.WithDetail("escalate on readonly context " + c.name.String())
	}

	explicit := c.GetExplicitLockType(t)
	descendants := c.manager.GetDescendantLocks(t, c.name)
	if explicit == locktype.NL && len(descendants) == 0 {
		return dberr.ErrNoLockHeld.WithDetail(c.name.String())
	}

	target := locktype.S
	if explicit == locktype.IX || explicit == locktype.SIX || explicit == locktype.X {
		target = locktype.X
	}
	for _, l := range descendants {
		if l.LockType == locktype.IX || l.LockType == locktype.SIX || l.LockType == locktype.X {
			target = locktype.X
			break
		}
	}

	if explicit == target {
		return nil
	}

	releaseSet := make([]primitives.ResourceName, 0, len(descendants)+1)
	for _, l := range descendants {
		releaseSet = append(releaseSet, l.ResourceName)
	}
	if explicit != locktype.NL {
		releaseSet = append(releaseSet, c.name)
	}

	if err := c.manager.AcquireAndRelease(t, c.name, target, releaseSet); err != nil {
		return err
	}
	for _, l := range descendants {
		c.decrementAncestorsOf(t, l.ResourceName)
	}
	return nil
}

// decrementAncestorsOf walks from the context matching resourceName (found
// by descending this tree's root along resourceName's path) up through
// every ancestor, decrementing each one's count of t's descendant locks.
// resourceName must name a context reachable from this tree; it always is,
// since a descendant lock can only have been acquired through ChildContext.
func (c *Context) decrementAncestorsOf(t primitives.TransactionNum, resourceName primitives.ResourceName) {
	leaf := c.lookup(resourceName)
	if leaf == nil {
		return
	}
	leaf.bumpAncestors(t, -1)
}

// lookup descends from this context's root to find the Context matching
// name, or nil if no such context has ever been materialized.
func (c *Context) lookup(name primitives.ResourceName) *Context {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	segments := name.Segments()
	if len(segments) == 0 {
		return nil
	}
	cur := root
	for _, seg := range segments[1:] {
		cur.mu.Lock()
		next, ok := cur.children[seg]
		cur.mu.Unlock()
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}
