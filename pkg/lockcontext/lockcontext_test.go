package lockcontext

import (
	"testing"

	"github.com/junjiexh/rookiedb/pkg/lock"
	"github.com/junjiexh/rookiedb/pkg/locktype"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

func newTree(t *testing.T) (*Context, *Context, *Context, *Context) {
	t.Helper()
	m := lock.NewManager()
	db := NewDatabaseContext(m, "db")
	tbl, err := db.ChildContext("t1")
	if err != nil {
		t.Fatalf("ChildContext t1: %v", err)
	}
	p3, err := tbl.ChildContext("p3")
	if err != nil {
		t.Fatalf("ChildContext p3: %v", err)
	}
	p5, err := tbl.ChildContext("p5")
	if err != nil {
		t.Fatalf("ChildContext p5: %v", err)
	}
	return db, tbl, p3, p5
}

func TestAcquireRequiresParentIntent(t *testing.T) {
	db, _, p3, _ := newTree(t)
	_ = db
	if err := p3.Acquire(1, locktype.S); err == nil {
		t.Fatal("Acquire on p3 without any intention lock on ancestors should fail")
	}
}

func TestAcquireSucceedsWithAncestorIntent(t *testing.T) {
	db, tbl, p3, _ := newTree(t)
	if err := db.Acquire(1, locktype.IS); err != nil {
		t.Fatalf("Acquire db IS: %v", err)
	}
	if err := tbl.Acquire(1, locktype.IS); err != nil {
		t.Fatalf("Acquire t1 IS: %v", err)
	}
	if err := p3.Acquire(1, locktype.S); err != nil {
		t.Fatalf("Acquire p3 S: %v", err)
	}
	if got := p3.GetExplicitLockType(1); got != locktype.S {
		t.Fatalf("GetExplicitLockType(p3) = %s, want S", got)
	}
}

func TestGetEffectiveLockType(t *testing.T) {
	db, tbl, p3, _ := newTree(t)
	if err := db.Acquire(1, locktype.S); err != nil {
		t.Fatalf("Acquire db S: %v", err)
	}
	if got := tbl.GetEffectiveLockType(1); got != locktype.S {
		t.Fatalf("effective at t1 = %s, want S (inherited)", got)
	}
	if got := p3.GetEffectiveLockType(1); got != locktype.S {
		t.Fatalf("effective at p3 = %s, want S (inherited)", got)
	}
}

func TestReleaseRefusesWithDescendantsHeld(t *testing.T) {
	db, tbl, p3, _ := newTree(t)
	if err := db.Acquire(1, locktype.IS); err != nil {
		t.Fatalf("Acquire db: %v", err)
	}
	if err := tbl.Acquire(1, locktype.IS); err != nil {
		t.Fatalf("Acquire t1: %v", err)
	}
	if err := p3.Acquire(1, locktype.S); err != nil {
		t.Fatalf("Acquire p3: %v", err)
	}

	if err := tbl.Release(1); err == nil {
		t.Fatal("Release on t1 with a descendant lock on p3 should fail")
	}
	if err := p3.Release(1); err != nil {
		t.Fatalf("Release p3: %v", err)
	}
	if err := tbl.Release(1); err != nil {
		t.Fatalf("Release t1 after descendant released: %v", err)
	}
}

// TestAcquireRejectsRedundantLockBeneathSIXAncestor verifies that once an
// ancestor holds SIX, acquiring IS or S anywhere beneath it is refused as
// redundant, even when the immediate parent's intention lock would
// otherwise be sufficient.
func TestAcquireRejectsRedundantLockBeneathSIXAncestor(t *testing.T) {
	db, tbl, p3, _ := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := db.Acquire(txn, locktype.SIX); err != nil {
		t.Fatalf("Acquire db SIX: %v", err)
	}
	if err := tbl.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire t1 IX: %v", err)
	}

	if err := p3.Acquire(txn, locktype.S); err == nil {
		t.Fatal("Acquire p3 S beneath a SIX ancestor should be rejected as redundant")
	}
	if err := p3.Acquire(txn, locktype.IS); err == nil {
		t.Fatal("Acquire p3 IS beneath a SIX ancestor should be rejected as redundant")
	}
	if err := p3.Acquire(txn, locktype.X); err != nil {
		t.Fatalf("Acquire p3 X beneath a SIX ancestor should still be allowed: %v", err)
	}
}

// TestSIXPromotion verifies that holding IX(db), IX(t1), S(p3), S(p5) and
// promoting t1 to SIX folds both S locks away, leaving exactly IX(db),
// SIX(t1).
func TestSIXPromotion(t *testing.T) {
	db, tbl, p3, p5 := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := db.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire db IX: %v", err)
	}
	if err := tbl.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire t1 IX: %v", err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire p3 S: %v", err)
	}
	if err := p5.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire p5 S: %v", err)
	}

	if err := tbl.Promote(txn, locktype.SIX); err != nil {
		t.Fatalf("Promote t1 SIX: %v", err)
	}

	if got := db.GetExplicitLockType(txn); got != locktype.IX {
		t.Errorf("db lock = %s, want IX", got)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.SIX {
		t.Errorf("t1 lock = %s, want SIX", got)
	}
	if got := p3.GetExplicitLockType(txn); got != locktype.NL {
		t.Errorf("p3 lock = %s, want NL (folded into SIX)", got)
	}
	if got := p5.GetExplicitLockType(txn); got != locktype.NL {
		t.Errorf("p5 lock = %s, want NL (folded into SIX)", got)
	}
	if got := tbl.NumChildren(txn); got != 0 {
		t.Errorf("t1.NumChildren = %d, want 0 after SIX fold", got)
	}
}

// TestEscalateChoosesX verifies that holding IX(t1), S(p3), X(p5) and
// escalating t1 produces X(t1) with no descendant locks left.
func TestEscalateChoosesX(t *testing.T) {
	db, tbl, p3, p5 := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := db.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire db IX: %v", err)
	}
	if err := tbl.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire t1 IX: %v", err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire p3 S: %v", err)
	}
	if err := p5.Acquire(txn, locktype.X); err != nil {
		t.Fatalf("Acquire p5 X: %v", err)
	}

	if err := tbl.Escalate(txn); err != nil {
		t.Fatalf("Escalate t1: %v", err)
	}

	if got := tbl.GetExplicitLockType(txn); got != locktype.X {
		t.Errorf("t1 lock = %s, want X", got)
	}
	if got := p3.GetExplicitLockType(txn); got != locktype.NL {
		t.Errorf("p3 lock = %s, want NL", got)
	}
	if got := p5.GetExplicitLockType(txn); got != locktype.NL {
		t.Errorf("p5 lock = %s, want NL", got)
	}
	if got := tbl.NumChildren(txn); got != 0 {
		t.Errorf("t1.NumChildren = %d, want 0", got)
	}
}

// TestEscalateIdempotent checks that calling escalate twice performs
// exactly one mutating LockManager call: the second call observes the
// target mode already held and returns immediately.
func TestEscalateIdempotent(t *testing.T) {
	db, tbl, p3, _ := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := db.Acquire(txn, locktype.IS); err != nil {
		t.Fatalf("Acquire db IS: %v", err)
	}
	if err := tbl.Acquire(txn, locktype.IS); err != nil {
		t.Fatalf("Acquire t1 IS: %v", err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire p3 S: %v", err)
	}

	if err := tbl.Escalate(txn); err != nil {
		t.Fatalf("first Escalate: %v", err)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.S {
		t.Fatalf("t1 lock after first escalate = %s, want S", got)
	}

	if err := tbl.Escalate(txn); err != nil {
		t.Fatalf("second Escalate: %v", err)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.S {
		t.Fatalf("t1 lock after second escalate = %s, want S (unchanged)", got)
	}
}

// TestEscalateWithNoLockHeldFails verifies that escalating a context where
// the transaction holds neither an explicit lock nor any descendant lock
// fails instead of silently acquiring a fresh S.
func TestEscalateWithNoLockHeldFails(t *testing.T) {
	db, tbl, _, _ := newTree(t)
	_ = db
	if err := tbl.Escalate(1); err == nil {
		t.Fatal("Escalate with no lock held anywhere in the subtree should fail")
	}
}

func TestDisableChildLocks(t *testing.T) {
	db, tbl, _, _ := newTree(t)
	_ = db
	tbl.DisableChildLocks()
	if _, err := tbl.ChildContext("p9"); err == nil {
		t.Fatal("ChildContext after DisableChildLocks should fail")
	}
}

func TestReadonlyRejectsMutation(t *testing.T) {
	db, tbl, _, _ := newTree(t)
	_ = db
	tbl.SetReadonly()
	if err := tbl.Acquire(1, locktype.S); err == nil {
		t.Fatal("Acquire on a readonly context should fail")
	}
}
