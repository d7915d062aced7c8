package sim

import (
	"sync/atomic"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
)

// Memory is simulated RAM. Accesses by the DMA engine outside a live
// region are bus errors.
type Memory struct {
	arena   *hal.Arena
	backing []byte
}

func newMemory(base uint32, size int) *Memory {
	return &Memory{arena: hal.NewArena(base, size), backing: make([]byte, size)}
}

// Alloc implements hal.Memory. New regions are zeroed.
func (m *Memory) Alloc(size, align int) (hal.Region, error) {
	addr, err := m.arena.Reserve(size, align)
	if err != nil {
		return nil, err
	}
	r := &region{mem: m, addr: addr, size: size}
	clear(r.Bytes())
	return r, nil
}

// InUse returns the number of bytes held by live regions.
func (m *Memory) InUse() int {
	return m.arena.InUse()
}

// span returns the backing bytes for [addr, addr+n) if they lie inside one
// live region.
func (m *Memory) span(addr uint32, n int) []byte {
	if !m.arena.Contains(addr, n) {
		return nil
	}
	off := addr - m.arena.Base()
	return m.backing[off : off+uint32(n)]
}

// region is one allocation.
type region struct {
	mem    *Memory
	addr   uint32
	size   int
	closed atomic.Bool
}

func (r *region) Addr() uint32 { return r.addr }

// Bytes returns the CPU view of the region. The slice aliases simulated
// RAM, so writes by the DMA engine become visible once Tick returns.
func (r *region) Bytes() []byte {
	off := r.addr - r.mem.arena.Base()
	return r.mem.backing[off : off+uint32(r.size) : off+uint32(r.size)]
}

func (r *region) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return pkg.ErrBufferFreed
	}
	return r.mem.arena.Release(r.addr)
}
