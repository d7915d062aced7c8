package dma

import (
	"context"
	"math/bits"
	"sync"
	"time"

	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// EventKind distinguishes terminal events from progress reports.
type EventKind int

// Event kinds.
const (
	EventResolved EventKind = iota
	EventProgress
)

// Event is a queued notification for the submitting context.
type Event struct {
	Kind   EventKind
	Handle *Handle
	Result Result
}

// Dispatcher turns channel signals into resolved handles. OnSignal may run
// in interrupt context: it touches only the signalled channel's registers,
// never blocks, and hands caller notifications to a bounded queue that
// Drain or Run deliver.
type Dispatcher struct {
	e      *Engine
	events chan Event

	mu       sync.Mutex // guards attached
	attached bool
}

func newDispatcher(e *Engine, depth int) *Dispatcher {
	return &Dispatcher{e: e, events: make(chan Event, depth)}
}

// Events returns the event queue for callers that consume it directly
// instead of through Drain.
func (d *Dispatcher) Events() <-chan Event { return d.events }

// OnSignal handles an interrupt or poll hit on channel ch. An error latch
// resolves the transfer as Failed with the decoded kind, DONE resolves it
// as Complete, and an interrupt without either is a half-complete progress
// report. Signals for channels with no transfer are counted as spurious and
// have that channel's latches cleared.
func (d *Dispatcher) OnSignal(ch int) {
	e := d.e
	if ch < 0 || ch >= e.router.channels {
		e.metrics.spurious.Inc(1)
		pkg.LogWarn(pkg.ComponentDispatcher, "signal for unknown channel", "channel", ch)
		return
	}
	bit := uint32(1) << uint(ch)
	h := e.router.chans[ch].handle.Load()
	if h == nil {
		e.metrics.spurious.Inc(1)
		if e.dma.INT()&bit != 0 || e.dma.ERR()&bit != 0 {
			e.dma.ClearInterrupt(ch)
			e.dma.ClearError(ch)
		}
		pkg.LogDebug(pkg.ComponentDispatcher, "spurious signal", "channel", ch)
		return
	}

	if e.dma.ERR()&bit != 0 {
		kind := faultKind(e.dma.ES(), ch)
		pkg.LogWarn(pkg.ComponentDispatcher, "channel faulted", "channel", ch, "kind", kind)
		d.finish(h, Status{State: Failed, Kind: kind})
		return
	}
	if regs.CSRFlag(e.dma.TCD(ch).CSR(), regs.CSRDONE) {
		d.finish(h, Status{State: Complete})
		return
	}
	if e.dma.INT()&bit != 0 {
		e.dma.ClearInterrupt(ch)
		var t regs.TCD
		e.dma.TCD(ch).Load(&t)
		if regs.CSRFlag(t.CSR, regs.CSRDONE) {
			// Completed after the first read; its interrupt was just cleared.
			d.finish(h, Status{State: Complete})
			return
		}
		r := Result{
			Status:   Status{State: Pending},
			Channel:  ch,
			Bytes:    h.chain.transferred(&t),
			Duration: time.Since(h.start),
		}
		if h.chain.progress != nil {
			d.enqueue(Event{Kind: EventProgress, Handle: h, Result: r})
		}
		return
	}
	e.metrics.spurious.Inc(1)
}

// finish resolves h with st, acknowledges the channel's latches, releases
// the transfer's resources and returns the channel to the router. Only the
// first caller for a handle has any effect.
func (d *Dispatcher) finish(h *Handle, st Status) bool {
	if !h.claim() {
		return false
	}
	e := d.e
	b := h.binding
	ch := b.ch
	c := &e.router.chans[ch]

	terminal := Done
	if st.State == Failed && st.Kind != Cancelled {
		terminal = Faulted
	}
	c.state.Store(int32(terminal))

	bytes := h.chain.total
	if st.State != Complete {
		var t regs.TCD
		e.dma.TCD(ch).Load(&t)
		bytes = h.chain.transferred(&t)
	}

	// Acknowledge this channel only.
	e.dma.ClearRequest(ch)
	e.dma.DisableErrorInterrupt(ch)
	e.dma.ClearError(ch)
	e.dma.ClearInterrupt(ch)
	e.dma.ClearDone(ch)

	unleaseAll(h.chain.bufs)
	h.chain.retire()
	c.handle.CompareAndSwap(h, nil)

	r := Result{Status: st, Channel: ch, Bytes: bytes, Duration: time.Since(h.start)}
	h.resolve(r)
	e.metrics.resolved(r)
	if h.chain.notify != nil {
		d.enqueue(Event{Kind: EventResolved, Handle: h, Result: r})
	}

	c.state.Store(int32(Free))
	e.router.recycle(b)

	pkg.LogDebug(pkg.ComponentDispatcher, "transfer resolved",
		"channel", ch,
		"status", st,
		"bytes", bytes)
	return true
}

func (d *Dispatcher) enqueue(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.e.metrics.eventsDropped.Inc(1)
		pkg.LogWarn(pkg.ComponentDispatcher, "event queue full, notification dropped",
			"channel", ev.Result.Channel,
			"status", ev.Result.Status)
	}
}

// Service scans the interrupt and error latches and calls OnSignal for each
// channel with one set. Returns the number of channels signalled.
func (d *Dispatcher) Service() int {
	pending := d.e.dma.INT() | d.e.dma.ERR()
	pending &= d.e.router.all
	n := 0
	for pending != 0 {
		ch := bits.TrailingZeros32(pending)
		pending &^= 1 << uint(ch)
		d.OnSignal(ch)
		n++
	}
	return n
}

// Drain delivers every queued event to its notification target and
// returns how many were delivered.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
			n++
		default:
			return n
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	c := ev.Handle.chain
	switch ev.Kind {
	case EventResolved:
		if c.notify != nil {
			c.notify(ev.Result)
		}
	case EventProgress:
		if c.progress != nil {
			c.progress(ev.Result)
		}
	}
}

// Attach routes platform interrupts to OnSignal. Returns
// pkg.ErrNotSupported when the platform only supports polling.
func (d *Dispatcher) Attach() error {
	irq := d.e.plat.Interrupts()
	if irq == nil {
		return pkg.ErrNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached {
		return pkg.ErrAlreadyRunning
	}
	if err := irq.Attach(d.OnSignal); err != nil {
		return err
	}
	d.attached = true
	return nil
}

// Detach stops interrupt delivery.
func (d *Dispatcher) Detach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached {
		return nil
	}
	d.attached = false
	return d.e.plat.Interrupts().Detach()
}

// Run services the channels and drains events every interval until ctx is
// done. With interrupts attached the scan only catches signals that raced
// the handler.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.Drain()
			return ctx.Err()
		case ev := <-d.events:
			d.deliver(ev)
		case <-ticker.C:
			d.Service()
			d.Drain()
		}
	}
}
