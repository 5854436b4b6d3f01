package primitives

import "strings"

// ResourceName is an ordered path from the root of the lock hierarchy down
// to a specific resource, e.g. database -> table -> page. Two names are
// equal iff their full paths are equal element-for-element.
type ResourceName struct {
	path []string
}

// RootResourceName constructs a top-level resource name with a single path
// element.
func RootResourceName(name string) ResourceName {
	return ResourceName{path: []string{name}}
}

// Child returns the resource name for name nested directly under r.
func (r ResourceName) Child(name string) ResourceName {
	path := make([]string, len(r.path)+1)
	copy(path, r.path)
	path[len(r.path)] = name
	return ResourceName{path: path}
}

// Parent returns r's immediate parent and true, or the zero value and false
// if r is already a root.
func (r ResourceName) Parent() (ResourceName, bool) {
	if len(r.path) <= 1 {
		return ResourceName{}, false
	}
	return ResourceName{path: r.path[:len(r.path)-1]}, true
}

// Depth returns the number of path elements; a root resource has depth 1.
func (r ResourceName) Depth() int {
	return len(r.path)
}

// IsDescendantOf reports whether r is strictly nested under ancestor.
func (r ResourceName) IsDescendantOf(ancestor ResourceName) bool {
	if len(r.path) <= len(ancestor.path) {
		return false
	}
	for i, seg := range ancestor.path {
		if r.path[i] != seg {
			return false
		}
	}
	return true
}

// Equals reports whether r and other name the same resource.
func (r ResourceName) Equals(other ResourceName) bool {
	if len(r.path) != len(other.path) {
		return false
	}
	for i, seg := range r.path {
		if other.path[i] != seg {
			return false
		}
	}
	return true
}

// String renders the path joined by "/", e.g. "db/t1/p3".
func (r ResourceName) String() string {
	return strings.Join(r.path, "/")
}

// Segments returns a copy of r's path elements, root first.
func (r ResourceName) Segments() []string {
	out := make([]string, len(r.path))
	copy(out, r.path)
	return out
}
