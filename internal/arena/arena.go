// Package arena maps the anonymous, page-aligned memory that backs static
// heap pools, and changes page protection on ranges carved out of it.
package arena

import (
	"fmt"

	"github.com/cockroachdb/errors"
	mmap "github.com/edsrzf/mmap-go"

	"github.com/joshuapare/llext/internal/buf"
)

// ErrUnaligned indicates a protection change on a range that does not start
// on a page boundary.
var ErrUnaligned = errors.New("arena: range not page aligned")

// Prot selects the access rights applied by Protect.
type Prot int

const (
	ReadWrite Prot = iota
	ReadOnly
	ReadExec
)

func (p Prot) String() string {
	switch p {
	case ReadWrite:
		return "rw"
	case ReadOnly:
		return "r"
	case ReadExec:
		return "rx"
	default:
		return fmt.Sprintf("prot(%d)", int(p))
	}
}

// Region is one anonymous mapping. The usable bytes start at an address
// aligned to the alignment requested from Map.
type Region struct {
	mem  mmap.MMap
	data []byte
}

// Map creates a read-write anonymous mapping of at least size bytes whose
// usable part starts on an align boundary. align must be a power of two;
// values up to the page size cost nothing extra since mappings are page aligned.
func Map(size, align int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf("arena: invalid size %d", size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, errors.Newf("arena: alignment %d is not a power of two", align)
	}

	page := PageSize()
	length := roundUp(size, page)
	if align > page {
		length += align
	}

	m, err := mmap.MapRegion(nil, length, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: map %d bytes", length)
	}

	base := addrOf(m)
	skip := int(buf.AlignUp(base, uintptr(align)) - base)
	return &Region{mem: m, data: m[skip : skip+size : skip+size]}, nil
}

// Bytes returns the usable part of the mapping.
func (r *Region) Bytes() []byte {
	return r.data
}

// Len returns the usable size in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Unmap releases the mapping. Calling it twice is a no-op.
func (r *Region) Unmap() error {
	if r.mem == nil {
		return nil
	}
	err := r.mem.Unmap()
	r.mem, r.data = nil, nil
	return err
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}
