package hal

import (
	"context"

	"github.com/ardnew/softdma/regs"
)

// Region is a span of DMA-capable memory.
//
// Addr is the bus address the DMA engine uses; Bytes is the CPU view of the
// same memory. After Close the region must not be accessed by either side.
type Region interface {
	Addr() uint32
	Bytes() []byte
	Close() error
}

// Memory allocates DMA-capable memory.
type Memory interface {
	// Alloc returns a region of at least size bytes whose bus address is a
	// multiple of align. align must be a power of two.
	Alloc(size, align int) (Region, error)
}

// Window is a register block together with its physical base address.
// The base is needed when a register (such as a FIFO data register) is the
// source or destination of a DMA transfer.
type Window struct {
	Bus  regs.Bus
	Base uint32
}

// Interrupts delivers DMA channel interrupts.
//
// The handler receives the channel number whose INT or ERR bit raised the
// interrupt. It may run on a goroutine other than the one that submitted the
// transfer and must not block.
type Interrupts interface {
	Attach(handler func(ch int)) error
	Detach() error
}

// Platform defines the Hardware Abstraction Layer interface for the transfer
// engine.
//
// A platform owns the singleton register blocks of one SoC and hands out
// views of them once, at startup. The engine never touches hardware except
// through the buses returned here.
//
// All methods should be safe for concurrent use where applicable.
type Platform interface {
	// Init prepares the platform for use.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Close releases all resources associated with the platform.
	Close() error

	// Channels returns the number of DMA channels implemented.
	Channels() int

	// DMA returns the DMA controller register block.
	DMA() regs.Bus

	// Mux returns the DMA request multiplexer register block.
	Mux() regs.Bus

	// SPI returns the register window of serial engine instance n (0-based).
	SPI(n int) (Window, error)

	// Memory returns the DMA-capable memory allocator.
	Memory() Memory

	// Interrupts returns the interrupt source, or nil if the platform only
	// supports polled completion.
	Interrupts() Interrupts
}
