package reloc

import (
	"debug/elf"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[elf.Machine]Engine)
)

// Register makes an engine available through ForMachine. Engine packages call
// it from init. Registering a machine twice replaces the earlier engine.
func Register(m elf.Machine, e Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m] = e
}

// ForMachine returns the registered engine for m.
func ForMachine(m elf.Machine) (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[m]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMachine, "%v", m)
	}
	return e, nil
}

// Machines lists the machines with a registered engine, in ascending order.
func Machines() []elf.Machine {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]elf.Machine, 0, len(registry))
	for m := range registry {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}
