// Package hal defines the hardware abstraction consumed by the DMA transfer
// engine.
//
// A [Platform] exposes the register blocks of the DMA controller, the
// request multiplexer and the serial engines as [regs.Bus] values, a
// [Memory] allocator for DMA-capable buffers, and optionally an
// [Interrupts] source.
//
// Two implementations are provided:
//
//   - [github.com/ardnew/softdma/dma/hal/sim] executes descriptors in a
//     deterministic software model, with fault injection for tests
//   - [github.com/ardnew/softdma/dma/hal/linux] maps the real register blocks
//     through /dev/mem and receives interrupts through UIO
package hal
