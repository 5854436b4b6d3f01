package lockutil

import (
	"testing"

	"github.com/junjiexh/rookiedb/pkg/lock"
	"github.com/junjiexh/rookiedb/pkg/lockcontext"
	"github.com/junjiexh/rookiedb/pkg/locktype"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

func newTree(t *testing.T) (db, tbl, page *lockcontext.Context) {
	t.Helper()
	m := lock.NewManager()
	db = lockcontext.NewDatabaseContext(m, "db")
	var err error
	tbl, err = db.ChildContext("t1")
	if err != nil {
		t.Fatalf("ChildContext t1: %v", err)
	}
	page, err = tbl.ChildContext("p3")
	if err != nil {
		t.Fatalf("ChildContext p3: %v", err)
	}
	return db, tbl, page
}

func TestEnsureSufficientLockHeldAcquiresAncestorIntent(t *testing.T) {
	db, tbl, page := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := EnsureSufficientLockHeld(page, txn, locktype.S); err != nil {
		t.Fatalf("EnsureSufficientLockHeld: %v", err)
	}
	if got := db.GetExplicitLockType(txn); got != locktype.IS {
		t.Errorf("db lock = %s, want IS", got)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.IS {
		t.Errorf("t1 lock = %s, want IS", got)
	}
	if got := page.GetExplicitLockType(txn); got != locktype.S {
		t.Errorf("p3 lock = %s, want S", got)
	}
}

func TestEnsureSufficientLockHeldUpgradesAncestorIntent(t *testing.T) {
	_, tbl, page := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := EnsureSufficientLockHeld(page, txn, locktype.S); err != nil {
		t.Fatalf("first EnsureSufficientLockHeld: %v", err)
	}
	if err := EnsureSufficientLockHeld(page, txn, locktype.X); err != nil {
		t.Fatalf("second EnsureSufficientLockHeld: %v", err)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.IX {
		t.Errorf("t1 lock = %s, want IX after upgrading to X request", got)
	}
	if got := page.GetExplicitLockType(txn); got != locktype.X {
		t.Errorf("p3 lock = %s, want X", got)
	}
}

func TestEnsureSufficientLockHeldAlreadySufficientIsNoop(t *testing.T) {
	_, _, page := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := EnsureSufficientLockHeld(page, txn, locktype.X); err != nil {
		t.Fatalf("first EnsureSufficientLockHeld: %v", err)
	}
	if err := EnsureSufficientLockHeld(page, txn, locktype.S); err != nil {
		t.Fatalf("second EnsureSufficientLockHeld (already sufficient): %v", err)
	}
	if got := page.GetExplicitLockType(txn); got != locktype.X {
		t.Errorf("p3 lock = %s, want unchanged X", got)
	}
}

func TestEnsureSufficientLockHeldPromotesIXtoSIX(t *testing.T) {
	_, tbl, page := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := EnsureSufficientLockHeld(page, txn, locktype.X); err != nil {
		t.Fatalf("acquire X on page: %v", err)
	}
	// t1 now holds IX. Asking t1 itself for S should fold to SIX rather
	// than stacking a separate S alongside the existing IX.
	if err := EnsureSufficientLockHeld(tbl, txn, locktype.S); err != nil {
		t.Fatalf("EnsureSufficientLockHeld(tbl, S): %v", err)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.SIX {
		t.Errorf("t1 lock = %s, want SIX", got)
	}
}

func TestEnsureSufficientLockHeldEscalatesIntentOnly(t *testing.T) {
	_, tbl, page := newTree(t)
	const txn = primitives.TransactionNum(1)

	if err := EnsureSufficientLockHeld(page, txn, locktype.S); err != nil {
		t.Fatalf("acquire S on page: %v", err)
	}
	// t1 holds only IS; asking t1 itself for S should escalate rather
	// than acquire a redundant lock alongside descendants.
	if err := EnsureSufficientLockHeld(tbl, txn, locktype.S); err != nil {
		t.Fatalf("EnsureSufficientLockHeld(tbl, S): %v", err)
	}
	if got := tbl.GetExplicitLockType(txn); got != locktype.S {
		t.Errorf("t1 lock = %s, want S after escalate", got)
	}
	if got := page.GetExplicitLockType(txn); got != locktype.NL {
		t.Errorf("p3 lock = %s, want NL after escalate folded it", got)
	}
}

func TestEnsureSufficientLockHeldPanicsOnIntentionRequest(t *testing.T) {
	_, _, page := newTree(t)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic requesting an intention lock type")
		}
	}()
	_ = EnsureSufficientLockHeld(page, 1, locktype.IX)
}
