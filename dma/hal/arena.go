package hal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/softdma/pkg"
)

// Arena is a first-fit allocator over a contiguous window of bus addresses.
// Backends pair it with their own CPU mapping of the window.
type Arena struct {
	mu    sync.Mutex
	base  uint32
	size  int
	spans []span // sorted by address
}

type span struct {
	addr uint32
	size int
}

// NewArena returns an allocator over [base, base+size).
func NewArena(base uint32, size int) *Arena {
	return &Arena{base: base, size: size}
}

// Base returns the first bus address of the window.
func (a *Arena) Base() uint32 { return a.base }

// Size returns the window size in bytes.
func (a *Arena) Size() int { return a.size }

// Reserve allocates size bytes aligned to align, a power of two, and
// returns the bus address.
func (a *Arena) Reserve(size, align int) (uint32, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: allocation of %d bytes", pkg.ErrInvalidParameter, size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("%w: alignment %d", pkg.ErrInvalidParameter, align)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	end := uint64(a.base) + uint64(a.size)
	cursor := uint64(a.base)
	for i := 0; i <= len(a.spans); i++ {
		limit := end
		if i < len(a.spans) {
			limit = uint64(a.spans[i].addr)
		}
		start := (cursor + uint64(align) - 1) &^ (uint64(align) - 1)
		if start+uint64(size) <= limit {
			a.spans = append(a.spans, span{})
			copy(a.spans[i+1:], a.spans[i:])
			a.spans[i] = span{addr: uint32(start), size: size}
			return uint32(start), nil
		}
		if i < len(a.spans) {
			cursor = uint64(a.spans[i].addr) + uint64(a.spans[i].size)
		}
	}
	return 0, fmt.Errorf("%w: %d bytes aligned to %d", pkg.ErrNoMemory, size, align)
}

// Release frees the allocation starting at addr.
func (a *Arena) Release(addr uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.find(addr)
	if i < 0 || a.spans[i].addr != addr {
		return pkg.ErrBufferFreed
	}
	a.spans = append(a.spans[:i], a.spans[i+1:]...)
	return nil
}

// Contains reports whether [addr, addr+n) lies inside one live allocation.
func (a *Arena) Contains(addr uint32, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.find(addr)
	if i < 0 {
		return false
	}
	s := a.spans[i]
	return uint64(addr)+uint64(n) <= uint64(s.addr)+uint64(s.size)
}

// InUse returns the number of bytes held by live allocations.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.spans {
		n += s.size
	}
	return n
}

// find returns the index of the span containing addr, or -1.
func (a *Arena) find(addr uint32) int {
	i := sort.Search(len(a.spans), func(i int) bool {
		s := a.spans[i]
		return uint64(s.addr)+uint64(s.size) > uint64(addr)
	})
	if i == len(a.spans) || addr < a.spans[i].addr {
		return -1
	}
	return i
}
