package lock

import (
	"testing"
	"time"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/locktype"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

func TestNewManagerWithConfigPresizesResourceTable(t *testing.T) {
	m := NewManagerWithConfig(Config{InitialResourceCapacity: 64})
	r := primitives.RootResourceName("t1")
	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if locks := m.GetLocks(1); len(locks) != 1 {
		t.Fatalf("GetLocks = %+v, want one lock", locks)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	locks := m.GetLocks(1)
	if len(locks) != 1 || locks[0].LockType != locktype.S {
		t.Fatalf("GetLocks = %+v, want one S lock", locks)
	}

	if err := m.Release(1, r); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if locks := m.GetLocks(1); len(locks) != 0 {
		t.Fatalf("GetLocks after release = %+v, want empty", locks)
	}
}

func TestAcquireDuplicateFails(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	err := m.Acquire(1, r, locktype.S)
	if !dberr.ErrDuplicateLock.Is(err) {
		t.Fatalf("second Acquire err = %v, want ErrDuplicateLock", err)
	}
}

func TestReleaseNotHeldFails(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	err := m.Release(1, r)
	if !dberr.ErrNoLockHeld.Is(err) {
		t.Fatalf("Release err = %v, want ErrNoLockHeld", err)
	}
}

func TestAcquireBlocksOnConflict(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	if err := m.Acquire(1, r, locktype.X); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	granted := make(chan error, 1)
	go func() {
		granted <- m.Acquire(2, r, locktype.S)
	}()

	select {
	case <-granted:
		t.Fatal("second Acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Release(1, r); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("blocked Acquire returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Acquire never unblocked after release")
	}
}

func TestPromote(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Promote(1, r, locktype.X); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	locks := m.GetLocks(1)
	if len(locks) != 1 || locks[0].LockType != locktype.X {
		t.Fatalf("GetLocks after promote = %+v, want one X lock", locks)
	}
}

func TestPromoteNotSubstitutableFails(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	if err := m.Acquire(1, r, locktype.IX); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	err := m.Promote(1, r, locktype.S)
	if !dberr.ErrInvalidLock.Is(err) {
		t.Fatalf("Promote IX->S err = %v, want ErrInvalidLock", err)
	}
}

func TestAcquireAndReleaseAtomic(t *testing.T) {
	m := NewManager()
	parent := primitives.RootResourceName("db")
	child1 := parent.Child("t1")
	child2 := parent.Child("t2")

	for _, r := range []primitives.ResourceName{child1, child2} {
		if err := m.Acquire(1, r, locktype.S); err != nil {
			t.Fatalf("Acquire %s: %v", r, err)
		}
	}

	if err := m.AcquireAndRelease(1, parent, locktype.S, []primitives.ResourceName{child1, child2}); err != nil {
		t.Fatalf("AcquireAndRelease: %v", err)
	}

	locks := m.GetLocks(1)
	if len(locks) != 1 || !locks[0].ResourceName.Equals(parent) {
		t.Fatalf("GetLocks after AcquireAndRelease = %+v, want only %s", locks, parent)
	}
}

func TestGetDescendantLocks(t *testing.T) {
	m := NewManager()
	db := primitives.RootResourceName("db")
	t1 := db.Child("t1")
	p3 := t1.Child("p3")

	if err := m.Acquire(1, db, locktype.IX); err != nil {
		t.Fatalf("Acquire db: %v", err)
	}
	if err := m.Acquire(1, t1, locktype.IX); err != nil {
		t.Fatalf("Acquire t1: %v", err)
	}
	if err := m.Acquire(1, p3, locktype.X); err != nil {
		t.Fatalf("Acquire p3: %v", err)
	}

	descendants := m.GetDescendantLocks(1, db)
	if len(descendants) != 2 {
		t.Fatalf("GetDescendantLocks(db) = %+v, want 2 entries", descendants)
	}
}

func TestFIFOOrderingPreserved(t *testing.T) {
	m := NewManager()
	r := primitives.RootResourceName("t1")

	if err := m.Acquire(1, r, locktype.X); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	order := make(chan int, 2)
	go func() {
		m.Acquire(2, r, locktype.X)
		order <- 2
		m.Release(2, r)
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		m.Acquire(3, r, locktype.X)
		order <- 3
		m.Release(3, r)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := m.Release(1, r); err != nil {
		t.Fatalf("Release: %v", err)
	}

	first := <-order
	second := <-order
	if first != 2 || second != 3 {
		t.Fatalf("grant order = [%d, %d], want [2, 3] (FIFO)", first, second)
	}
}
