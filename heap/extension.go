package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/internal/buf"
)

// DefaultTableCapacity is one record per memory region an extension can have.
const DefaultTableCapacity = 11

// BlockAddrSize is the size of one entry of Record.Blocks.
const BlockAddrSize = 8

// Record describes one block-backend allocation.
type Record struct {
	// Owner names the extension the allocation belongs to.
	Owner string
	// Blocks is the block-pointer array, allocated from metadata memory. It
	// holds Count little-endian 64-bit block addresses.
	Blocks []byte
	// Count is the number of contiguous blocks in the run.
	Count uint32
	// Ptr is the address handed to the caller: the first block.
	Ptr uintptr
}

// Live reports whether the record describes an allocation.
func (r Record) Live() bool { return r.Ptr != 0 }

// Block returns the address of the i-th block of the run.
func (r Record) Block(i int) uintptr {
	off := i * BlockAddrSize
	if i < 0 || off+BlockAddrSize > len(r.Blocks) {
		return 0
	}
	return uintptr(buf.U64LE(r.Blocks[off:]))
}

// AllocTable is a fixed-capacity set of allocation records, searched
// linearly by pointer.
//
// A slot becomes reusable only once its record has been removed. An
// AllocTable is not safe for concurrent use.
type AllocTable struct {
	slots []Record
	live  int
}

// NewAllocTable returns an empty table. A non-positive capacity selects
// DefaultTableCapacity.
func NewAllocTable(capacity int) *AllocTable {
	if capacity <= 0 {
		capacity = DefaultTableCapacity
	}
	return &AllocTable{slots: make([]Record, capacity)}
}

// Insert stores r in the first empty slot.
func (t *AllocTable) Insert(r Record) error {
	if !r.Live() {
		return errors.New("heap: record without pointer")
	}
	if _, ok := t.Lookup(r.Ptr); ok {
		return errors.Newf("heap: pointer 0x%x already recorded", r.Ptr)
	}
	for i := range t.slots {
		if !t.slots[i].Live() {
			t.slots[i] = r
			t.live++
			return nil
		}
	}
	return errors.Wrapf(ErrTableExhausted, "%d records", len(t.slots))
}

// Lookup returns the record for ptr.
func (t *AllocTable) Lookup(ptr uintptr) (Record, bool) {
	if ptr == 0 {
		return Record{}, false
	}
	for _, r := range t.slots {
		if r.Ptr == ptr {
			return r, true
		}
	}
	return Record{}, false
}

// Remove clears the record for ptr and returns it.
func (t *AllocTable) Remove(ptr uintptr) (Record, bool) {
	if ptr == 0 {
		return Record{}, false
	}
	for i, r := range t.slots {
		if r.Ptr == ptr {
			t.slots[i] = Record{}
			t.live--
			return r, true
		}
	}
	return Record{}, false
}

// Full reports whether no slot is free.
func (t *AllocTable) Full() bool { return t.live == len(t.slots) }

// Len returns the number of live records.
func (t *AllocTable) Len() int { return t.live }

// Cap returns the table capacity.
func (t *AllocTable) Cap() int { return len(t.slots) }

// Records returns copies of the live records in slot order.
func (t *AllocTable) Records() []Record {
	out := make([]Record, 0, t.live)
	for _, r := range t.slots {
		if r.Live() {
			out = append(out, r)
		}
	}
	return out
}

// Reset empties the table. The records' memory is not released.
func (t *AllocTable) Reset() {
	clear(t.slots)
	t.live = 0
}

// Extension is the heap's view of a loaded extension.
type Extension struct {
	Name   string
	Allocs *AllocTable
}

// NewExtension returns an extension with an empty allocation table.
func NewExtension(name string, tableCapacity int) *Extension {
	return &Extension{Name: name, Allocs: NewAllocTable(tableCapacity)}
}

func (e *Extension) String() string {
	if e == nil {
		return "<nil>"
	}
	if e.Allocs == nil {
		return e.Name + " (no table)"
	}
	return fmt.Sprintf("%s (%d/%d allocs)", e.Name, e.Allocs.Len(), e.Allocs.Cap())
}
