package sysheap

import "slices"

// Classes describes how free chunks are bucketed into segregated lists:
// fixed steps up to Linear, then geometric growth up to Max. Anything
// larger lands on a single overflow list.
type Classes struct {
	Name   string
	Min    int     // smallest chunk
	Linear int     // end of the fixed-step range
	Step   int     // step inside the fixed range
	Max    int     // end of the geometric range
	Growth float64 // ratio between consecutive geometric classes
}

var (
	// ConfigMetadata suits many small bookkeeping allocations such as block
	// arrays: 8..256 by 8, then x1.5 up to 16K.
	ConfigMetadata = Classes{Name: "Metadata", Min: 8, Linear: 256, Step: 8, Max: 16 << 10, Growth: 1.5}

	// ConfigRegions suits section-sized allocations: 8..512 by 32, then x2 up to 64K.
	ConfigRegions = Classes{Name: "Regions", Min: 8, Linear: 512, Step: 32, Max: 64 << 10, Growth: 2}
)

// classTable maps a chunk size to its free list.
type classTable struct {
	name  string
	upper []int // inclusive upper bound of each class, ascending
}

func newClassTable(c Classes) *classTable {
	t := &classTable{name: c.Name}
	for lo := c.Min; lo < c.Linear; lo += c.Step {
		t.upper = append(t.upper, lo+c.Step-1)
	}
	for lo := c.Linear; lo < c.Max; {
		next := max(int(float64(lo)*c.Growth+0.999), lo+1)
		t.upper = append(t.upper, next-1)
		lo = next
	}
	return t
}

// classes returns the number of bounded classes; the overflow list has this index.
func (t *classTable) classes() int { return len(t.upper) }

// classOf returns the first class whose upper bound admits size.
func (t *classTable) classOf(size int) int {
	i, _ := slices.BinarySearch(t.upper, size)
	return i
}

func (t *classTable) String() string { return t.name }
