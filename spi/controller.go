package spi

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/drivers"

	"github.com/ardnew/softdma/dma"
	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

const frameBits = 8

var _ drivers.SPI = (*Controller)(nil)

// Controller is an LPSPI master whose bulk transfers run on DMA. Calls are
// serialized; a Controller is safe for concurrent use.
type Controller struct {
	eng   *dma.Engine
	spi   *regs.LPSPI
	cfg   Config
	depth int

	mu     sync.Mutex // serializes transactions and guards the buffers
	tx, rx *dma.Buffer
}

// New configures the serial engine in win as a master and returns its
// controller.
func New(eng *dma.Engine, win hal.Window, cfg Config) (*Controller, error) {
	if eng == nil || win.Bus == nil {
		return nil, fmt.Errorf("%w: nil engine or register window", pkg.ErrInvalidParameter)
	}
	s := regs.NewLPSPI(win.Bus, win.Base)
	depth, _ := s.FIFODepth()
	if err := cfg.validate(depth); err != nil {
		return nil, err
	}

	s.Reset()
	s.SetMaster(true)
	s.SetClock(cfg.SCKDiv, cfg.SCKDiv)
	s.SetWatermarks(cfg.TxWatermark, cfg.RxWatermark)
	s.EnableDMA(false, false)
	s.Enable(true)

	pkg.LogInfo(pkg.ComponentSPI, "serial engine configured",
		"base", fmt.Sprintf("%#x", win.Base),
		"fifo", depth,
		"mode", cfg.Mode,
		"prescale", cfg.Prescale)
	return &Controller{eng: eng, spi: s, cfg: cfg, depth: depth}, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Tx transmits w while receiving into r, bounded by the configured timeout.
// w and r must have equal lengths unless one is nil: a nil w transmits
// zeros and a nil r discards what is received.
func (c *Controller) Tx(w, r []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return c.TxContext(ctx, w, r)
}

// TxContext is Tx bounded by ctx instead of the configured timeout.
func (c *Controller) TxContext(ctx context.Context, w, r []byte) error {
	n, err := txLength(w, r)
	if err != nil || n == 0 {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.reserve(n); err != nil {
		return err
	}
	out := c.tx.Bytes()[:n]
	if w != nil {
		copy(out, w)
	} else {
		clear(out)
	}
	receive := r != nil

	rxBurst := 1
	if receive {
		rxBurst = burstFor(n, int(c.cfg.RxWatermark)+1)
	}
	c.spi.EnableDMA(false, false)
	c.spi.FlushFIFOs()
	c.spi.ClearStatus(regs.SPISRClearable)
	c.spi.SetWatermarks(c.cfg.TxWatermark, uint8(rxBurst-1))
	c.spi.SetCommand(c.command(!receive))

	var legs []leg
	if receive {
		legs = append(legs, leg{
			req: &dma.Request{
				Direction: dma.PeripheralToMemory,
				Src:       dma.Port{Addr: c.spi.RDRAddr()},
				Dst:       c.rx,
				Length:    n,
				Width:     1,
				Burst:     rxBurst,
			},
			source: c.cfg.RxSource,
			prio:   c.cfg.RxPriority,
		})
	}
	legs = append(legs, leg{
		req: &dma.Request{
			Direction: dma.MemoryToPeripheral,
			Src:       c.tx,
			Dst:       dma.Port{Addr: c.spi.TDRAddr()},
			Length:    n,
			Width:     1,
			Burst:     c.cfg.Burst,
		},
		source: c.cfg.TxSource,
		prio:   c.cfg.TxPriority,
	})

	if err := c.prepare(ctx, legs); err != nil {
		return err
	}
	// The receive leg is armed before the transmit leg so no word shifts
	// in ahead of its channel.
	for i := range legs {
		h, err := c.eng.Submit(legs[i].binding, legs[i].chain)
		if err != nil {
			c.abort(legs)
			return err
		}
		legs[i].handle = h
	}
	c.spi.EnableDMA(true, receive)

	err = c.wait(ctx, legs)
	c.spi.EnableDMA(false, false)
	if err != nil {
		return err
	}
	if !receive {
		if err := c.drain(ctx); err != nil {
			return err
		}
	}
	if receive {
		copy(r, c.rx.Bytes()[:n])
	}
	pkg.LogDebug(pkg.ComponentSPI, "transfer complete", "bytes", n, "receive", receive)
	return nil
}

// Transfer exchanges one byte by programmed I/O.
func (c *Controller) Transfer(b byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spi.EnableDMA(false, false)
	c.spi.FlushFIFOs()
	c.spi.SetWatermarks(c.cfg.TxWatermark, 0)
	c.spi.SetCommand(c.command(false))
	c.spi.WriteData(uint32(b))

	deadline := time.Now().Add(c.cfg.Timeout)
	for {
		if _, rx := c.spi.FIFOCount(); rx > 0 {
			return byte(c.spi.ReadData()), nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: no word received within %v", pkg.ErrTimeout, c.cfg.Timeout)
		}
		runtime.Gosched()
	}
}

// Close disables the serial engine and frees the DMA buffers.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spi.EnableDMA(false, false)
	c.spi.Enable(false)
	return c.dropScratch()
}

// leg is one direction of a transaction.
type leg struct {
	req     *dma.Request
	source  *dma.Source
	prio    dma.Priority
	chain   *dma.Chain
	binding *dma.Binding
	handle  *dma.Handle
}

// prepare builds every leg and binds a channel for each. Nothing is armed.
func (c *Controller) prepare(ctx context.Context, legs []leg) error {
	for i := range legs {
		l := &legs[i]
		chain, err := c.eng.Builder().Build(l.req)
		if err != nil {
			c.abort(legs)
			return err
		}
		l.chain = chain
		if l.binding, err = c.acquire(ctx, l.req.Direction, l.source, l.prio); err != nil {
			c.abort(legs)
			return err
		}
	}
	return nil
}

// acquire binds a channel, backing off while none is free.
func (c *Controller) acquire(ctx context.Context, dir dma.Direction, source *dma.Source, prio dma.Priority) (*dma.Binding, error) {
	b := &backoff.Backoff{
		Min:    c.cfg.RetryMin,
		Max:    c.cfg.RetryMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		bind, err := c.eng.Router().Acquire(dir, source, prio)
		if err == nil {
			return bind, nil
		}
		var re *dma.RouterError
		if !errors.As(err, &re) || re.Kind != dma.NoFreeChannel {
			return nil, err
		}
		d := b.Duration()
		pkg.LogDebug(pkg.ComponentSPI, "no free channel, retrying",
			"source", source.Name,
			"attempt", b.Attempt(),
			"delay", d)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// wait blocks until every armed leg resolves. When one fails or ctx ends,
// the others are cancelled.
func (c *Controller) wait(ctx context.Context, legs []leg) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range legs {
		h := legs[i].handle
		g.Go(func() error {
			_, err := h.Wait(gctx)
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		return nil
	}
	for i := range legs {
		if h := legs[i].handle; h != nil {
			if cerr := c.eng.Cancel(h); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	}
	if ctx.Err() != nil {
		err = errors.Join(err, fmt.Errorf("%w: spi transfer", pkg.ErrTimeout))
	}
	return err
}

// abort releases whatever a failed setup left behind.
func (c *Controller) abort(legs []leg) {
	for i := range legs {
		l := &legs[i]
		if l.handle != nil {
			_ = c.eng.Cancel(l.handle)
			continue
		}
		if l.chain != nil {
			_ = l.chain.Release()
		}
		if l.binding != nil {
			c.eng.Router().Release(l.binding)
		}
	}
}

// drain waits for the transmit FIFO to empty after a transmit-only call.
func (c *Controller) drain(ctx context.Context) error {
	for {
		tx, _ := c.spi.FIFOCount()
		if tx == 0 && c.spi.Status()&(1<<regs.SPISRMBF) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: transmit FIFO holds %d words: %w", pkg.ErrTimeout, tx, err)
		}
		runtime.Gosched()
	}
}

// command returns the transmit command for one call.
func (c *Controller) command(rxMask bool) regs.TransmitCommand {
	return regs.TransmitCommand{
		FrameSize: frameBits,
		Prescale:  c.cfg.Prescale,
		CPOL:      c.cfg.Mode&2 != 0,
		CPHA:      c.cfg.Mode&1 != 0,
		LSBFirst:  c.cfg.LSBFirst,
		RxMask:    rxMask,
	}
}

// reserve grows the scratch buffers to hold n bytes. Buffers still leased
// to a transfer whose cancel timed out are replaced.
func (c *Controller) reserve(n int) error {
	if c.tx != nil && c.tx.Len() >= n && !c.tx.Leased() && !c.rx.Leased() {
		return nil
	}
	size := (n + 31) &^ 31
	if err := c.dropScratch(); err != nil {
		return err
	}
	tx, err := c.eng.Alloc(size, 32)
	if err != nil {
		return err
	}
	rx, err := c.eng.Alloc(size, 32)
	if err != nil {
		_ = tx.Free()
		return err
	}
	c.tx, c.rx = tx, rx
	return nil
}

// dropScratch frees the scratch buffers. A leased buffer is abandoned to
// the transfer holding it.
func (c *Controller) dropScratch() error {
	var errs []error
	for _, b := range []*dma.Buffer{c.tx, c.rx} {
		switch {
		case b == nil:
		case b.Leased():
			pkg.LogWarn(pkg.ComponentSPI, "abandoning scratch buffer held by a stalled transfer",
				"addr", fmt.Sprintf("%#x", b.Addr()))
		default:
			errs = append(errs, b.Free())
		}
	}
	c.tx, c.rx = nil, nil
	return errors.Join(errs...)
}

func txLength(w, r []byte) (int, error) {
	switch {
	case w == nil:
		return len(r), nil
	case r == nil:
		return len(w), nil
	case len(w) != len(r):
		return 0, fmt.Errorf("%w: write %d bytes, read %d bytes", pkg.ErrInvalidParameter, len(w), len(r))
	}
	return len(w), nil
}

// burstFor returns the largest burst up to limit that divides n.
func burstFor(n, limit int) int {
	b := min(limit, n)
	for n%b != 0 {
		b--
	}
	return b
}
