//go:build unix

package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// PageSize returns the smallest range the OS can protect independently.
func PageSize() int {
	return unix.Getpagesize()
}

// Protect changes the access rights of the pages covering b.
// b must start on a page boundary; its length is rounded up to whole pages.
func Protect(b []byte, p Prot) error {
	if len(b) == 0 {
		return nil
	}
	page := PageSize()
	if addrOf(b)%uintptr(page) != 0 {
		return errors.Wrapf(ErrUnaligned, "protect 0x%x", addrOf(b))
	}

	var flags int
	switch p {
	case ReadWrite:
		flags = unix.PROT_READ | unix.PROT_WRITE
	case ReadOnly:
		flags = unix.PROT_READ
	case ReadExec:
		flags = unix.PROT_READ | unix.PROT_EXEC
	default:
		return errors.Newf("arena: unknown protection %v", p)
	}

	// b may be capacity-limited below the page end; the mapping itself covers it.
	n := roundUp(len(b), page)
	if err := unix.Mprotect(unsafe.Slice(unsafe.SliceData(b), n), flags); err != nil {
		return errors.Wrapf(err, "arena: mprotect %s 0x%x+%d", p, addrOf(b), n)
	}
	return nil
}
