// Package lockutil provides the declarative entry point transactions use
// instead of calling LockContext directly: ensureSufficientLockHeld walks
// the resource tree top-down, bringing every ancestor to the matching
// intention lock and then acquiring, promoting, or escalating at the target
// context — whichever is the least permissive sequence that satisfies the
// request.
package lockutil

import (
	"github.com/junjiexh/rookiedb/pkg/lockcontext"
	"github.com/junjiexh/rookiedb/pkg/locktype"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

// EnsureSufficientLockHeld guarantees that request (one of NL, S, X) is
// substitutable by t's effective lock at ctx, performing the fewest
// mutating lock operations necessary:
//
//  1. Already sufficient (substitutable(effective, request)) -> nothing to do.
//  2. Holding IX here and asking for S -> promote straight to SIX, which
//     keeps the write intent while adding whole-resource read access.
//  3. Holding any other intention lock here -> escalate, collapsing
//     descendants into one S or X grant.
//  4. Otherwise: recursively ensure every ancestor holds at least the
//     matching intention lock (IX for an eventual X, IS otherwise), then
//     either acquire (if this context holds nothing yet) or promote.
func EnsureSufficientLockHeld(ctx *lockcontext.Context, t primitives.TransactionNum, request locktype.LockType) error {
	if request != locktype.NL && request != locktype.S && request != locktype.X {
		panic("lockutil: request must be NL, S, or X")
	}

	effective := ctx.GetEffectiveLockType(t)
	if locktype.Substitutable(request, effective) {
		return nil
	}

	explicit := ctx.GetExplicitLockType(t)

	if explicit == locktype.IX && request == locktype.S {
		return ctx.Promote(t, locktype.SIX)
	}

	if isIntentOnly(explicit) {
		return ctx.Escalate(t)
	}

	if ctx.Parent() != nil {
		ancestorIntent := locktype.IS
		if request == locktype.X {
			ancestorIntent = locktype.IX
		}
		if err := ensureAncestorIntent(ctx.Parent(), t, ancestorIntent); err != nil {
			return err
		}
	}

	if explicit == locktype.NL {
		return ctx.Acquire(t, request)
	}
	return ctx.Promote(t, request)
}

// ensureAncestorIntent walks to the root first, then brings each context
// from the root back down to ctx to at least intent, so a parent is never
// short of intention by the time a descendant acquires beneath it.
func ensureAncestorIntent(ctx *lockcontext.Context, t primitives.TransactionNum, intent locktype.LockType) error {
	if ctx.Parent() != nil {
		if err := ensureAncestorIntent(ctx.Parent(), t, intent); err != nil {
			return err
		}
	}

	current := ctx.GetExplicitLockType(t)
	if locktype.Substitutable(intent, current) {
		return nil
	}
	if current == locktype.NL {
		return ctx.Acquire(t, intent)
	}
	return ctx.Promote(t, intent)
}

func isIntentOnly(t locktype.LockType) bool {
	return t == locktype.IS || t == locktype.IX
}
