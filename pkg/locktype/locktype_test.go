package locktype

import "testing"

func allModes() []LockType {
	return []LockType{NL, IS, IX, S, SIX, X}
}

func TestCompatibleSymmetric(t *testing.T) {
	for _, a := range allModes() {
		for _, b := range allModes() {
			if Compatible(a, b) != Compatible(b, a) {
				t.Errorf("Compatible(%s, %s) = %v but Compatible(%s, %s) = %v",
					a, b, Compatible(a, b), b, a, Compatible(b, a))
			}
		}
	}
}

func TestCompatibleNLUniversal(t *testing.T) {
	for _, m := range allModes() {
		if !Compatible(NL, m) {
			t.Errorf("NL should be compatible with %s", m)
		}
	}
}

func TestCompatibleXExclusive(t *testing.T) {
	for _, m := range allModes() {
		want := m == NL
		if got := Compatible(X, m); got != want {
			t.Errorf("Compatible(X, %s) = %v, want %v", m, got, want)
		}
	}
}

func TestSubstitutableReflexive(t *testing.T) {
	for _, m := range allModes() {
		if !Substitutable(m, m) {
			t.Errorf("Substitutable(%s, %s) should be true (reflexive)", m, m)
		}
	}
}

func TestSubstitutableTransitive(t *testing.T) {
	for _, a := range allModes() {
		for _, b := range allModes() {
			for _, c := range allModes() {
				if Substitutable(a, b) && Substitutable(b, c) && !Substitutable(a, c) {
					t.Errorf("Substitutable(%s,%s) and Substitutable(%s,%s) but not Substitutable(%s,%s)",
						a, b, b, c, a, c)
				}
			}
		}
	}
}

func TestSubstitutableXSatisfiesEverything(t *testing.T) {
	for _, required := range allModes() {
		if !Substitutable(required, X) {
			t.Errorf("X should satisfy request for %s", required)
		}
	}
}

func TestCanBeParentLockNLOnlyParentsNL(t *testing.T) {
	for _, child := range allModes() {
		want := child == NL
		if got := CanBeParentLock(NL, child); got != want {
			t.Errorf("CanBeParentLock(NL, %s) = %v, want %v", child, got, want)
		}
	}
}

func TestCanBeParentLockIXParentsEverything(t *testing.T) {
	for _, child := range allModes() {
		if !CanBeParentLock(IX, child) {
			t.Errorf("CanBeParentLock(IX, %s) should be true", child)
		}
	}
}

func TestParentLock(t *testing.T) {
	tests := []struct {
		child LockType
		want  LockType
	}{
		{NL, NL},
		{IS, IS},
		{IX, IX},
		{S, IS},
		{SIX, IX},
		{X, IX},
	}
	for _, tt := range tests {
		if got := ParentLock(tt.child); got != tt.want {
			t.Errorf("ParentLock(%s) = %s, want %s", tt.child, got, tt.want)
		}
	}
}

func TestStringUnknown(t *testing.T) {
	if got := LockType(99).String(); got == "" {
		t.Error("String() on an out-of-range LockType should not be empty")
	}
}
