//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// Config describes where the controller lives in the physical address map.
type Config struct {
	Channels int      // DMA channels exposed by the controller
	DMABase  uint32   // Controller register block
	MuxBase  uint32   // Request multiplexer register block
	SPIBases []uint32 // Serial engine register blocks, by instance
	Buffer   string   // u-dma-buf device name; empty selects the first found
	UIO      int      // UIO device number for DMA interrupts; negative disables
}

// DefaultConfig returns the memory map of the i.MX RT1060 family.
func DefaultConfig() Config {
	c := Config{
		Channels: regs.MaxChannels,
		DMABase:  DefaultDMABase,
		MuxBase:  DefaultMuxBase,
		UIO:      -1,
	}
	for i := 0; i < DefaultSPICount; i++ {
		c.SPIBases = append(c.SPIBases, DefaultSPIBase+uint32(i)*SPIStride)
	}
	return c
}

// Platform implements hal.Platform over /dev/mem, u-dma-buf and UIO.
type Platform struct {
	cfg Config

	memfd int
	dma   *mmio
	mux   *mmio
	spi   []*mmio
	mem   *dmaMemory
	irq   *uioInterrupts
}

// New returns an uninitialized platform. Init maps the hardware.
func New(cfg Config) *Platform {
	return &Platform{cfg: cfg, memfd: -1}
}

// Init implements hal.Platform.
func (p *Platform) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.cfg.Channels < 1 || p.cfg.Channels > regs.MaxChannels {
		return fmt.Errorf("%w: %d channels", pkg.ErrInvalidConfig, p.cfg.Channels)
	}

	fd, err := unix.Open(DevMemPath, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", DevMemPath, err)
	}
	p.memfd = fd

	if err := p.mapAll(); err != nil {
		p.Close()
		return err
	}

	info, err := p.findBuffer()
	if err != nil {
		p.Close()
		return err
	}
	if p.mem, err = openUDMABuf(info); err != nil {
		p.Close()
		return err
	}

	if p.cfg.UIO >= 0 {
		path := filepath.Join(DevfsPath, "uio"+strconv.Itoa(p.cfg.UIO))
		p.irq = newUIOInterrupts(path, regs.NewEDMA(p.dma))
	}

	pkg.LogInfo(pkg.ComponentHAL, "linux platform initialized",
		"channels", p.cfg.Channels,
		"dma", fmt.Sprintf("%#x", p.cfg.DMABase),
		"buffer", info.name,
		"uio", p.cfg.UIO)
	return nil
}

func (p *Platform) mapAll() error {
	var err error
	if p.dma, err = mapPhys(p.memfd, uint64(p.cfg.DMABase), DMAWindowSize); err != nil {
		return err
	}
	if p.mux, err = mapPhys(p.memfd, uint64(p.cfg.MuxBase), MuxWindowSize); err != nil {
		return err
	}
	for _, base := range p.cfg.SPIBases {
		m, err := mapPhys(p.memfd, uint64(base), SPIWindowSize)
		if err != nil {
			return err
		}
		p.spi = append(p.spi, m)
	}
	return nil
}

func (p *Platform) findBuffer() (udmabufInfo, error) {
	if p.cfg.Buffer != "" {
		return parseUDMABuf(SysfsUDMABufPath, p.cfg.Buffer)
	}
	bufs, err := scanUDMABufs(SysfsUDMABufPath)
	if err != nil {
		return udmabufInfo{}, err
	}
	if len(bufs) == 0 {
		return udmabufInfo{}, fmt.Errorf("%w: no u-dma-buf device under %s", pkg.ErrNoMemory, SysfsUDMABufPath)
	}
	return bufs[0], nil
}

// Close implements hal.Platform.
func (p *Platform) Close() error {
	var errs []error
	if p.irq != nil {
		errs = append(errs, p.irq.Detach())
		p.irq = nil
	}
	if p.mem != nil {
		errs = append(errs, p.mem.close())
		p.mem = nil
	}
	for _, m := range append([]*mmio{p.dma, p.mux}, p.spi...) {
		if m != nil {
			errs = append(errs, m.unmap())
		}
	}
	p.dma, p.mux, p.spi = nil, nil, nil
	if p.memfd >= 0 {
		errs = append(errs, unix.Close(p.memfd))
		p.memfd = -1
	}
	return errors.Join(errs...)
}

// Channels implements hal.Platform.
func (p *Platform) Channels() int { return p.cfg.Channels }

// DMA implements hal.Platform.
func (p *Platform) DMA() regs.Bus { return p.dma }

// Mux implements hal.Platform.
func (p *Platform) Mux() regs.Bus { return p.mux }

// SPI implements hal.Platform.
func (p *Platform) SPI(n int) (hal.Window, error) {
	if n < 0 || n >= len(p.spi) {
		return hal.Window{}, fmt.Errorf("%w: serial engine %d", pkg.ErrInvalidParameter, n)
	}
	return hal.Window{Bus: p.spi[n], Base: p.cfg.SPIBases[n]}, nil
}

// Memory implements hal.Platform.
func (p *Platform) Memory() hal.Memory { return p.mem }

// Interrupts implements hal.Platform. Returns nil when no UIO device is
// configured, in which case completion must be polled.
func (p *Platform) Interrupts() hal.Interrupts {
	if p.irq == nil {
		return nil
	}
	return p.irq
}
