//go:build !unix

package arena

import (
	"os"

	"github.com/cockroachdb/errors"
)

// ErrProtectUnsupported is returned by Protect on platforms without mprotect.
var ErrProtectUnsupported = errors.New("arena: page protection not supported on this platform")

// PageSize returns the OS page size.
func PageSize() int {
	return os.Getpagesize()
}

// Protect is not available on this platform.
func Protect(b []byte, p Prot) error {
	if len(b) == 0 {
		return nil
	}
	return ErrProtectUnsupported
}
