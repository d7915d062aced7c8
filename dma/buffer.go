package dma

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
)

// bufferFreed is the lease count of a freed buffer.
const bufferFreed = -1

// Buffer is DMA-capable memory shared between the CPU and the controller.
//
// A submitted transfer holds a lease on each of its buffers until its handle
// reaches a terminal state. While leased the CPU view is unavailable: Bytes
// panics and Free fails.
type Buffer struct {
	region hal.Region
	leases atomic.Int32
}

// NewBuffer allocates size bytes of DMA memory aligned to align.
func NewBuffer(mem hal.Memory, size, align int) (*Buffer, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: nil memory", pkg.ErrInvalidParameter)
	}
	r, err := mem.Alloc(size, align)
	if err != nil {
		return nil, err
	}
	return &Buffer{region: r}, nil
}

func (b *Buffer) busAddr() uint32 { return b.region.Addr() }

// Addr returns the bus address of the buffer.
func (b *Buffer) Addr() uint32 { return b.region.Addr() }

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int { return len(b.region.Bytes()) }

// Leased reports whether a transfer currently owns the buffer.
func (b *Buffer) Leased() bool { return b.leases.Load() > 0 }

// Bytes returns the CPU view of the buffer. It panics if the buffer is
// leased to an active transfer or has been freed.
func (b *Buffer) Bytes() []byte {
	switch n := b.leases.Load(); {
	case n == bufferFreed:
		violate("buffer", "access after free at %#x", b.Addr())
	case n > 0:
		violate("buffer", "access while leased to %d transfer(s) at %#x", n, b.Addr())
	}
	return b.region.Bytes()
}

// Free returns the buffer to its allocator.
func (b *Buffer) Free() error {
	if b.leases.CompareAndSwap(0, bufferFreed) {
		return b.region.Close()
	}
	if b.leases.Load() == bufferFreed {
		return pkg.ErrBufferFreed
	}
	return pkg.ErrBufferLeased
}

func (b *Buffer) lease() error {
	for {
		n := b.leases.Load()
		if n == bufferFreed {
			return pkg.ErrBufferFreed
		}
		if b.leases.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

func (b *Buffer) unlease() {
	for {
		n := b.leases.Load()
		if n <= 0 {
			violate("buffer", "lease underflow at %#x", b.Addr())
		}
		if b.leases.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// leaseAll leases every buffer or none.
func leaseAll(bufs []*Buffer) error {
	for i, b := range bufs {
		if err := b.lease(); err != nil {
			for _, prev := range bufs[:i] {
				prev.unlease()
			}
			return fmt.Errorf("lease buffer %#x: %w", b.Addr(), err)
		}
	}
	return nil
}

func unleaseAll(bufs []*Buffer) {
	for _, b := range bufs {
		b.unlease()
	}
}
