package heap

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
)

// Registry enumerates loaded extensions. Iterate calls fn for each one and
// stops at the first non-nil error, which it returns.
type Registry interface {
	Iterate(fn func(*Extension) error) error
}

var errFound = errors.New("heap: extension found")

// CheckIdle returns ErrBusy if r reports any loaded extension.
// A nil Registry is always idle.
func CheckIdle(r Registry) error {
	if r == nil {
		return nil
	}
	var first *Extension
	err := r.Iterate(func(ext *Extension) error {
		first = ext
		return errFound
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errFound):
		return errors.Wrapf(ErrBusy, "%s is loaded", first.Name)
	default:
		return err
	}
}

// ExtensionList is a Registry backed by a slice.
type ExtensionList struct {
	mu   sync.RWMutex
	exts []*Extension
}

// Add registers ext as loaded.
func (l *ExtensionList) Add(ext *Extension) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exts = append(l.exts, ext)
}

// Remove unregisters ext. It reports whether ext was registered.
func (l *ExtensionList) Remove(ext *Extension) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.exts, ext)
	if i < 0 {
		return false
	}
	l.exts = slices.Delete(l.exts, i, i+1)
	return true
}

// Len returns the number of registered extensions.
func (l *ExtensionList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.exts)
}

// Iterate implements Registry. fn runs on a snapshot, so it may call Add
// or Remove.
func (l *ExtensionList) Iterate(fn func(*Extension) error) error {
	l.mu.RLock()
	snap := slices.Clone(l.exts)
	l.mu.RUnlock()
	for _, ext := range snap {
		if err := fn(ext); err != nil {
			return err
		}
	}
	return nil
}
