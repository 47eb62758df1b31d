package syscalls

import (
	"fmt"
)

// Table maps syscall ids to descriptors. It is read-only once built.
type Table struct {
	byID   map[uint64]*Descriptor
	byName map[string]*Descriptor
	order  []uint64
}

// NewTable creates a table holding the given descriptors.
// A later descriptor with the same id replaces an earlier one.
func NewTable(descs ...*Descriptor) *Table {
	t := &Table{
		byID:   make(map[uint64]*Descriptor, len(descs)),
		byName: make(map[string]*Descriptor, len(descs)),
	}
	for _, d := range descs {
		t.add(d)
	}
	return t
}

func (t *Table) add(d *Descriptor) {
	if _, exists := t.byID[d.ID]; !exists {
		t.order = append(t.order, d.ID)
	}
	t.byID[d.ID] = d
	t.byName[d.Name] = d
}

// Get returns the descriptor for id.
func (t *Table) Get(id uint64) (*Descriptor, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// ByName returns the descriptor named name.
func (t *Table) ByName(name string) (*Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Lookup returns the descriptor for id, or a placeholder without argument
// roles when the id is not in the table.
func (t *Table) Lookup(id uint64) *Descriptor {
	if d, ok := t.byID[id]; ok {
		return d
	}
	return NewDescriptor(id, fmt.Sprintf("sys_%d", id), MaxArgs, 0)
}

// Len returns the number of descriptors.
func (t *Table) Len() int {
	return len(t.order)
}

// All returns the descriptors in insertion order.
func (t *Table) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}
