//go:build linux

package linux

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
)

// dmaMemory hands out regions of one u-dma-buf buffer.
type dmaMemory struct {
	info    udmabufInfo
	fd      int
	mapping []byte
	arena   *hal.Arena
}

// openUDMABuf maps the u-dma-buf device described by info. The device is
// opened with O_SYNC so the CPU mapping is uncached unless the driver was
// loaded with a different sync_mode.
func openUDMABuf(info udmabufInfo) (*dmaMemory, error) {
	fd, err := unix.Open(info.devPath, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.devPath, err)
	}
	mapping, err := unix.Mmap(fd, 0, info.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", info.devPath, err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "mapped DMA buffer",
		"device", info.name,
		"phys", fmt.Sprintf("%#x", info.physAddr),
		"size", info.size,
		"syncMode", info.syncMode)
	return &dmaMemory{
		info:    info,
		fd:      fd,
		mapping: mapping,
		arena:   hal.NewArena(uint32(info.physAddr), info.size),
	}, nil
}

// Alloc implements hal.Memory.
func (m *dmaMemory) Alloc(size, align int) (hal.Region, error) {
	addr, err := m.arena.Reserve(size, align)
	if err != nil {
		return nil, err
	}
	off := int(addr - m.arena.Base())
	r := &dmaRegion{mem: m, addr: addr, buf: m.mapping[off : off+size : off+size]}
	clear(r.buf)
	return r, nil
}

func (m *dmaMemory) close() error {
	if m.mapping == nil {
		return nil
	}
	err := unix.Munmap(m.mapping)
	m.mapping = nil
	if cerr := unix.Close(m.fd); err == nil {
		err = cerr
	}
	return err
}

// dmaRegion is one allocation within the buffer.
type dmaRegion struct {
	mem    *dmaMemory
	addr   uint32
	buf    []byte
	closed atomic.Bool
}

func (r *dmaRegion) Addr() uint32  { return r.addr }
func (r *dmaRegion) Bytes() []byte { return r.buf }

func (r *dmaRegion) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return pkg.ErrBufferFreed
	}
	return r.mem.arena.Release(r.addr)
}
