package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// Default platform parameters.
const (
	DefaultChannels   = 32
	DefaultMemoryBase = 0x2020_0000
	DefaultMemorySize = 1 << 20
	DefaultFIFOLog2   = regs.DefaultFIFOLog2
)

// Serial engine address map.
const (
	SPIBase   = 0x4039_4000
	SPIStride = 0x4000
)

// Request slots routed by the multiplexer.
const (
	SlotDisabled = regs.SlotDisabled
	SlotLPSPI1RX = regs.SlotLPSPI1RX
	SlotLPSPI1TX = regs.SlotLPSPI1TX
	SlotLPSPI2RX = regs.SlotLPSPI2RX
	SlotLPSPI2TX = regs.SlotLPSPI2TX
	SlotAlwaysOn = regs.SlotAlwaysOn
)

// maxSPIInstances is the number of serial engines with request slots.
const maxSPIInstances = 4

// Options configures a simulated platform.
type Options struct {
	Channels     int    // DMA channels, 1-32
	SPIInstances int    // Serial engines, 0-4
	MemoryBase   uint32 // Bus address of simulated RAM
	MemorySize   int    // Size of simulated RAM in bytes
	FIFOLog2     uint8  // log2 of each serial engine FIFO depth in words
	Loopback     bool   // Shift transmitted words back into the receive FIFO
}

func (o *Options) applyDefaults() {
	if o.Channels == 0 {
		o.Channels = DefaultChannels
	}
	if o.SPIInstances == 0 {
		o.SPIInstances = 1
	}
	if o.MemoryBase == 0 {
		o.MemoryBase = DefaultMemoryBase
	}
	if o.MemorySize == 0 {
		o.MemorySize = DefaultMemorySize
	}
	if o.FIFOLog2 == 0 {
		o.FIFOLog2 = DefaultFIFOLog2
	}
}

// Platform is a simulated SoC implementing hal.Platform.
//
// Hardware only advances when Tick is called, either directly by a test or
// by the loop started with Run. Every register access and every simulated
// bus cycle is serialized by one mutex, modelling the single system bus.
type Platform struct {
	mu   sync.Mutex
	opts Options

	dma dmaState
	mux []uint32
	spi []*spiState
	mem *Memory

	handler func(ch int)
	pending []int

	// Test controls, one bit per channel.
	held             uint32
	completeOnCancel uint32
	stallCancel      uint32
	faults           map[int]*busFault

	allClears int
	ticks     uint64
}

// New creates a simulated platform.
func New(opts Options) (*Platform, error) {
	opts.applyDefaults()
	if opts.Channels < 1 || opts.Channels > regs.MaxChannels {
		return nil, fmt.Errorf("%w: %d channels", pkg.ErrInvalidParameter, opts.Channels)
	}
	if opts.SPIInstances < 0 || opts.SPIInstances > maxSPIInstances {
		return nil, fmt.Errorf("%w: %d serial engines", pkg.ErrInvalidParameter, opts.SPIInstances)
	}
	if opts.FIFOLog2 > regs.MaxFIFOLog2 {
		return nil, fmt.Errorf("%w: FIFO depth 2^%d exceeds FSR count field", pkg.ErrInvalidParameter, opts.FIFOLog2)
	}

	p := &Platform{
		opts:   opts,
		mux:    make([]uint32, opts.Channels),
		faults: make(map[int]*busFault),
	}
	p.dma.init(opts.Channels)
	p.mem = newMemory(opts.MemoryBase, opts.MemorySize)
	for i := 0; i < opts.SPIInstances; i++ {
		p.spi = append(p.spi, newSPIState(opts.FIFOLog2, opts.Loopback))
	}
	return p, nil
}

// Init implements hal.Platform.
func (p *Platform) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentHAL, "simulated platform initialized",
		"channels", p.opts.Channels,
		"spi", p.opts.SPIInstances,
		"memory", p.opts.MemorySize)
	return nil
}

// Close implements hal.Platform.
func (p *Platform) Close() error {
	return p.Detach()
}

// Channels implements hal.Platform.
func (p *Platform) Channels() int {
	return p.opts.Channels
}

// DMA implements hal.Platform.
func (p *Platform) DMA() regs.Bus {
	return dmaBus{p: p}
}

// Mux implements hal.Platform.
func (p *Platform) Mux() regs.Bus {
	return muxBus{p: p}
}

// SPI implements hal.Platform.
func (p *Platform) SPI(n int) (hal.Window, error) {
	if n < 0 || n >= len(p.spi) {
		return hal.Window{}, fmt.Errorf("%w: serial engine %d", pkg.ErrInvalidParameter, n)
	}
	return hal.Window{Bus: spiBus{p: p, n: n}, Base: spiBase(n)}, nil
}

// Memory implements hal.Platform.
func (p *Platform) Memory() hal.Memory {
	return p.mem
}

// Interrupts implements hal.Platform.
func (p *Platform) Interrupts() hal.Interrupts {
	return p
}

// Attach implements hal.Interrupts. The handler runs on the goroutine that
// called Tick, after the simulated bus is released.
func (p *Platform) Attach(handler func(ch int)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handler != nil {
		return pkg.ErrAlreadyRunning
	}
	p.handler = handler
	return nil
}

// Detach implements hal.Interrupts.
func (p *Platform) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
	p.pending = p.pending[:0]
	return nil
}

// Tick advances the hardware by one arbitration round: at most one minor
// loop of the highest-priority requesting channel, then one word shifted by
// each serial engine. Interrupts raised during the round are delivered
// before Tick returns. Reports whether anything moved.
func (p *Platform) Tick() bool {
	p.mu.Lock()
	moved := p.step()
	handler := p.handler
	irqs := append([]int(nil), p.pending...)
	p.pending = p.pending[:0]
	p.mu.Unlock()

	if handler != nil {
		for _, ch := range irqs {
			handler(ch)
		}
	}
	return moved
}

// RunUntilIdle calls Tick until nothing moves or limit rounds have run.
// Returns the number of rounds that made progress.
func (p *Platform) RunUntilIdle(limit int) int {
	n := 0
	for n < limit && p.Tick() {
		n++
	}
	return n
}

// Run ticks the hardware every interval until ctx is done. Each wakeup runs
// until idle, so interval bounds latency rather than throughput.
func (p *Platform) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.RunUntilIdle(1 << 20)
		}
	}
}

// Ticks returns the number of rounds executed.
func (p *Platform) Ticks() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

// AllChannelClears returns how many times software used the "all channels"
// form of CERR, CINT or CDNE.
func (p *Platform) AllChannelClears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allClears
}

func (p *Platform) step() bool {
	p.ticks++
	moved := false
	if !p.dma.halted() {
		if ch := p.arbitrate(); ch >= 0 {
			moved = p.service(ch)
		}
	}
	for _, s := range p.spi {
		if s.shift() {
			moved = true
		}
	}
	return moved
}

func (p *Platform) raise(ch int) {
	if p.handler != nil {
		p.pending = append(p.pending, ch)
	}
}

func spiBase(n int) uint32 {
	return SPIBase + uint32(n)*SPIStride
}

// spiAt maps a bus address onto a serial engine register.
func (p *Platform) spiAt(addr uint32) (*spiState, uint32, bool) {
	if addr < SPIBase {
		return nil, 0, false
	}
	n := int((addr - SPIBase) / SPIStride)
	if n >= len(p.spi) {
		return nil, 0, false
	}
	return p.spi[n], (addr - SPIBase) % SPIStride, true
}

func bit(mask uint32, ch int) bool {
	return mask&(1<<uint(ch)) != 0
}
