package procstate

import (
	"maps"
	"slices"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
)

// FDTable maps open file descriptors to interned paths.
// Closing a descriptor vacates its slot; other descriptors are not renumbered.
type FDTable struct {
	fds map[int32]pathtable.Index
}

// NewFDTable returns a table with the standard streams bound.
func NewFDTable() *FDTable {
	return &FDTable{
		fds: map[int32]pathtable.Index{
			0: pathtable.Stdin,
			1: pathtable.Stdout,
			2: pathtable.Stderr,
		},
	}
}

// Bind associates fd with a path, replacing any previous binding.
func (t *FDTable) Bind(fd int32, idx pathtable.Index) {
	t.fds[fd] = idx
}

// Lookup returns the path bound to fd.
func (t *FDTable) Lookup(fd int32) (pathtable.Index, bool) {
	idx, ok := t.fds[fd]
	return idx, ok
}

// Close vacates fd and returns the path it was bound to.
func (t *FDTable) Close(fd int32) (pathtable.Index, bool) {
	idx, ok := t.fds[fd]
	if ok {
		delete(t.fds, fd)
	}
	return idx, ok
}

// Clone returns an independent copy of the table.
func (t *FDTable) Clone() *FDTable {
	return &FDTable{fds: maps.Clone(t.fds)}
}

// Len returns the number of open descriptors.
func (t *FDTable) Len() int {
	return len(t.fds)
}

// Open returns the open descriptors in ascending order.
func (t *FDTable) Open() []int32 {
	return slices.Sorted(maps.Keys(t.fds))
}
