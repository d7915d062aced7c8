//go:build linux

package linux

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmio is a mapped register block. Every access is a single load or store
// of the requested width.
type mmio struct {
	mapping []byte // Page-aligned mapping
	regs    []byte // Register block within the mapping
}

// mapPhys maps size bytes of physical memory at phys through fd.
func mapPhys(fd int, phys uint64, size int) (*mmio, error) {
	page := uint64(unix.Getpagesize())
	start := phys &^ (page - 1)
	skew := int(phys - start)
	length := (skew + size + int(page) - 1) &^ (int(page) - 1)

	mapping, err := unix.Mmap(fd, int64(start), length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %#x+%#x: %w", phys, size, err)
	}
	return &mmio{mapping: mapping, regs: mapping[skew : skew+size]}, nil
}

// unmap releases the mapping.
func (m *mmio) unmap() error {
	if m.mapping == nil {
		return nil
	}
	err := unix.Munmap(m.mapping)
	m.mapping, m.regs = nil, nil
	return err
}

func (m *mmio) ptr(offset uint32, width uint32) unsafe.Pointer {
	if uint64(offset)+uint64(width) > uint64(len(m.regs)) {
		panic(fmt.Sprintf("register offset %#x out of range", offset))
	}
	return unsafe.Pointer(&m.regs[offset])
}

func (m *mmio) Read8(offset uint32) uint8 {
	return *(*uint8)(m.ptr(offset, 1))
}

func (m *mmio) Write8(offset uint32, v uint8) {
	*(*uint8)(m.ptr(offset, 1)) = v
}

func (m *mmio) Read16(offset uint32) uint16 {
	return *(*uint16)(m.ptr(offset, 2))
}

func (m *mmio) Write16(offset uint32, v uint16) {
	*(*uint16)(m.ptr(offset, 2)) = v
}

func (m *mmio) Read32(offset uint32) uint32 {
	return atomic.LoadUint32((*uint32)(m.ptr(offset, 4)))
}

func (m *mmio) Write32(offset uint32, v uint32) {
	atomic.StoreUint32((*uint32)(m.ptr(offset, 4)), v)
}
