package arm

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/internal/buf"
)

// ThunkSize is the size of one veneer: LDR.W PC, [PC, #0] and a literal.
const ThunkSize = 8

// LDR.W PC, [PC, #0]
const (
	ldrPCHw1 uint16 = 0xF8DF
	ldrPCHw2 uint16 = 0xF000
)

// ErrThunkPoolFull indicates no room is left for another veneer.
var ErrThunkPoolFull = errors.New("arm: thunk pool full")

// ThunkPool hands out branch veneers from an instruction buffer. One veneer
// is emitted per distinct target and reused for later requests.
//
// The buffer is written while the pool is in use, so it must stay writable
// until relocation has finished; seal it afterwards.
type ThunkPool struct {
	mu sync.Mutex

	mem  []byte
	base uint64
	next int

	byTarget map[uint64]uint64
}

// NewThunkPool creates a pool over mem, whose first byte executes at base.
// base must be 4-byte aligned since the veneer's literal is loaded PC-relative.
func NewThunkPool(mem []byte, base uint64) (*ThunkPool, error) {
	if base%4 != 0 {
		return nil, errors.Newf("arm: thunk pool base 0x%x not word aligned", base)
	}
	if len(mem) < ThunkSize {
		return nil, errors.Newf("arm: thunk pool of %d bytes holds no veneer", len(mem))
	}
	return &ThunkPool{
		mem:      mem[:len(mem)-len(mem)%ThunkSize],
		base:     base,
		byTarget: make(map[uint64]uint64),
	}, nil
}

// Thunk implements Trampolines. site is unused: the pool is a single region
// and the engine checks that the returned veneer is reachable.
func (p *ThunkPool) Thunk(site, target uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr, ok := p.byTarget[target]; ok {
		return addr, nil
	}
	if p.next+ThunkSize > len(p.mem) {
		return 0, errors.Wrapf(ErrThunkPoolFull, "%d veneers", len(p.byTarget))
	}

	v := p.mem[p.next : p.next+ThunkSize]
	buf.PutHalfwords(v, ldrPCHw1, ldrPCHw2)
	buf.PutU32LE(v[4:], uint32(target))

	addr := p.base + uint64(p.next)
	p.next += ThunkSize
	p.byTarget[target] = addr
	return addr, nil
}

// Used returns the number of bytes of veneers emitted so far.
func (p *ThunkPool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Len returns the number of distinct veneers.
func (p *ThunkPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byTarget)
}
