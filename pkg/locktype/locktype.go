// Package locktype defines the six lock modes used throughout the lock
// manager and the fixed compatibility relationships between them: which
// pairs may be held concurrently, which mode a child resource's lock
// requires of its parent, and which mode can stand in for which when
// checking whether a transaction already holds sufficient access.
package locktype

import "fmt"

// LockType is one of the six multigranularity lock modes.
type LockType int

const (
	// NL is the absence of a lock.
	NL LockType = iota
	// IS grants intent to read descendants.
	IS
	// IX grants intent to read or write descendants.
	IX
	// S grants read access to the whole resource.
	S
	// SIX grants read access to the whole resource plus intent to write
	// individual descendants.
	SIX
	// X grants read and write access to the whole resource.
	X
)

var names = [...]string{"NL", "IS", "IX", "S", "SIX", "X"}

// String returns the conventional two/three-letter abbreviation.
func (t LockType) String() string {
	if t < NL || t > X {
		return fmt.Sprintf("LockType(%d)", int(t))
	}
	return names[t]
}

// compatible[a][b] reports whether a transaction holding a on a resource
// and a different transaction holding b on the same resource can coexist.
// NL is compatible with everything; X is compatible with nothing but NL.
var compatible = [6][6]bool{
	/*        NL    IS     IX     S      SIX    X  */
	/* NL  */ {true, true, true, true, true, true},
	/* IS  */ {true, true, true, true, true, false},
	/* IX  */ {true, true, true, false, false, false},
	/* S   */ {true, true, false, true, false, false},
	/* SIX */ {true, true, false, false, false, false},
	/* X   */ {true, false, false, false, false, false},
}

// Compatible reports whether a and b can be held simultaneously by two
// different transactions on the same resource.
func Compatible(a, b LockType) bool {
	return compatible[a][b]
}

// canBeParentLock[parent][child] reports whether holding parent on a
// resource is a legal parent lock for a descendant resource locked with
// child. A resource's ancestor chain must hold a legal parent lock for
// each level down to the resource itself.
var canBeParentLock = [6][6]bool{
	/*        NL     IS     IX     S      SIX    X   */
	/* NL  */ {true, false, false, false, false, false},
	/* IS  */ {true, true, false, true, false, false},
	/* IX  */ {true, true, true, true, true, true},
	/* S   */ {true, false, false, false, false, false},
	/* SIX */ {true, false, true, false, false, true},
	/* X   */ {true, false, false, false, false, false},
}

// CanBeParentLock reports whether parent is a legal parent lock mode for a
// descendant resource locked in mode child.
func CanBeParentLock(parent, child LockType) bool {
	return canBeParentLock[parent][child]
}

// substitutable[required][held] reports whether held grants at least the
// access that required would grant, i.e. a transaction that asked to
// ensure required is already satisfied by already holding held.
var substitutable = [6][6]bool{
	/*        NL    IS     IX     S      SIX    X  */
	/* NL  */ {true, true, true, true, true, true},
	/* IS  */ {false, true, true, true, true, true},
	/* IX  */ {false, false, true, false, true, true},
	/* S   */ {false, false, false, true, true, true},
	/* SIX */ {false, false, false, false, true, true},
	/* X   */ {false, false, false, false, false, true},
}

// Substitutable reports whether held is as strong as or stronger than
// required, meaning a request for required is already satisfied by held.
func Substitutable(required, held LockType) bool {
	return substitutable[required][held]
}

// parentLock maps a lock mode to the weakest mode that must be held on its
// resource's parent before the mode can be acquired on the resource itself.
var parentLock = [6]LockType{
	NL:  NL,
	IS:  IS,
	IX:  IX,
	S:   IS,
	SIX: IX,
	X:   IX,
}

// ParentLock returns the minimum lock mode required on a resource's parent
// in order to hold childType on the resource itself.
func ParentLock(childType LockType) LockType {
	return parentLock[childType]
}
