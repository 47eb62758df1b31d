// Package pathtable interns the absolute paths referenced by a trace.
//
// Every distinct path string gets a stable index; a parallel flag records
// whether the path lies on one of the tracked mounts. Both sequences are
// append-only. Indexes 0, 1 and 2 are reserved for the standard streams.
package pathtable

import (
	"strings"
)

// Index identifies an interned path.
type Index int

// Reserved indexes of the standard streams.
const (
	Stdin Index = iota
	Stdout
	Stderr
)

var reserved = []string{"(stdin)", "(stdout)", "(stderr)"}

// Table is the append-only path interner.
type Table struct {
	paths   []string
	tracked []bool
	index   map[string]Index
	mounts  []string
}

// New creates a table flagging paths under any of the given mounts.
func New(mounts []string) *Table {
	t := &Table{
		index: make(map[string]Index),
	}
	for _, m := range mounts {
		if m != "" {
			t.mounts = append(t.mounts, m)
		}
	}
	for _, name := range reserved {
		t.InternAs(name, false)
	}
	return t
}

// ParseMounts splits a colon-separated mount list, dropping empty entries.
func ParseMounts(list string) []string {
	var mounts []string
	for _, m := range strings.Split(list, ":") {
		if m = strings.TrimSpace(m); m != "" {
			mounts = append(mounts, m)
		}
	}
	return mounts
}

// IsTrackedPath reports whether p starts with one of the tracked mounts.
func (t *Table) IsTrackedPath(p string) bool {
	for _, m := range t.mounts {
		if strings.HasPrefix(p, m) {
			return true
		}
	}
	return false
}

// Intern returns the index of p, appending it when new.
func (t *Table) Intern(p string) Index {
	if idx, ok := t.index[p]; ok {
		return idx
	}
	return t.InternAs(p, t.IsTrackedPath(p))
}

// InternAs is Intern with an explicit tracked flag for new entries.
// An existing entry keeps the index and flag it was created with.
func (t *Table) InternAs(p string, tracked bool) Index {
	if idx, ok := t.index[p]; ok {
		return idx
	}
	idx := Index(len(t.paths))
	t.paths = append(t.paths, p)
	t.tracked = append(t.tracked, tracked)
	t.index[p] = idx
	return idx
}

// Lookup returns the index of p without interning it.
func (t *Table) Lookup(p string) (Index, bool) {
	idx, ok := t.index[p]
	return idx, ok
}

// Path returns the string at idx. It panics on an index the table never issued.
func (t *Table) Path(idx Index) string {
	return t.paths[idx]
}

// IsTracked reports whether the path at idx lies on a tracked mount.
func (t *Table) IsTracked(idx Index) bool {
	if idx < 0 || int(idx) >= len(t.tracked) {
		return false
	}
	return t.tracked[idx]
}

// Len returns the number of interned paths, reserved slots included.
func (t *Table) Len() int {
	return len(t.paths)
}

// Mounts returns the tracked mounts.
func (t *Table) Mounts() []string {
	return t.mounts
}
