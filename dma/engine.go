package dma

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// Default engine parameters.
const (
	DefaultDescriptorPool  = 256
	DefaultCancelTimeout   = 10 * time.Millisecond
	DefaultEventQueueDepth = 64
)

// Options configures an Engine.
type Options struct {
	Limits          Limits
	DescriptorPool  int              // descriptor slots
	CancelTimeout   time.Duration    // bound on Cancel's wait for idle
	EventQueueDepth int              // resolved events buffered for Drain
	Registry        metrics.Registry // nil creates a private registry
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		Limits:          DefaultLimits(),
		DescriptorPool:  DefaultDescriptorPool,
		CancelTimeout:   DefaultCancelTimeout,
		EventQueueDepth: DefaultEventQueueDepth,
	}
}

// Engine arms channels, tracks their transfers and resolves them through
// its dispatcher.
type Engine struct {
	plat       hal.Platform
	dma        *regs.EDMA
	mux        *regs.Mux
	pool       *DescriptorPool
	builder    *Builder
	router     *Router
	dispatcher *Dispatcher
	metrics    *engineMetrics
	opts       Options
}

// New returns an engine driving plat, which must be initialized. The
// controller is put in minor loop mapping mode and every channel's latches
// are cleared individually.
func New(plat hal.Platform, opts Options) (*Engine, error) {
	if plat == nil {
		return nil, fmt.Errorf("%w: nil platform", pkg.ErrInvalidParameter)
	}
	if opts.CancelTimeout <= 0 {
		return nil, fmt.Errorf("%w: cancel timeout %v", pkg.ErrInvalidConfig, opts.CancelTimeout)
	}
	if opts.EventQueueDepth < 1 {
		return nil, fmt.Errorf("%w: event queue depth %d", pkg.ErrInvalidConfig, opts.EventQueueDepth)
	}
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}

	e := &Engine{
		plat:    plat,
		dma:     regs.NewEDMA(plat.DMA()),
		mux:     regs.NewMux(plat.Mux()),
		metrics: newEngineMetrics(opts.Registry),
		opts:    opts,
	}
	var err error
	if e.router, err = NewRouter(e.dma, e.mux, plat.Channels()); err != nil {
		return nil, err
	}
	if e.pool, err = NewDescriptorPool(plat.Memory(), opts.DescriptorPool); err != nil {
		return nil, err
	}
	if e.builder, err = NewBuilder(e.pool, opts.Limits); err != nil {
		e.pool.Close()
		return nil, err
	}
	e.dispatcher = newDispatcher(e, opts.EventQueueDepth)
	e.router.onFree = func(int) { e.metrics.channelsFree.Update(int64(e.router.FreeChannels())) }
	e.reset()

	pkg.LogInfo(pkg.ComponentEngine, "engine initialized",
		"channels", plat.Channels(),
		"descriptors", opts.DescriptorPool,
		"cancelTimeout", opts.CancelTimeout)
	return e, nil
}

// reset puts the controller in a known state.
func (e *Engine) reset() {
	cr := e.dma.CR()
	cr |= 1 << regs.CREMLM
	cr &^= 1<<regs.CRHALT | 1<<regs.CRHOE | 1<<regs.CRERCA | 1<<regs.CRERGA | 1<<regs.CRCX | 1<<regs.CRECX
	if e.router.channels > regs.ChannelsPerGroup {
		cr = regs.CRGRP0PRI.Set(cr, 0)
		cr = regs.CRGRP1PRI.Set(cr, 1)
	}
	e.dma.SetCR(cr)
	for ch := 0; ch < e.router.channels; ch++ {
		e.dma.ClearRequest(ch)
		e.dma.DisableErrorInterrupt(ch)
		e.dma.ClearError(ch)
		e.dma.ClearInterrupt(ch)
		e.dma.ClearDone(ch)
		e.mux.Disable(ch)
	}
	e.metrics.channelsFree.Update(int64(e.router.channels))
}

// Builder returns the engine's descriptor builder.
func (e *Engine) Builder() *Builder { return e.builder }

// Router returns the engine's channel router.
func (e *Engine) Router() *Router { return e.router }

// Dispatcher returns the engine's completion dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Pool returns the engine's descriptor pool.
func (e *Engine) Pool() *DescriptorPool { return e.pool }

// Memory returns the platform's DMA memory allocator.
func (e *Engine) Memory() hal.Memory { return e.plat.Memory() }

// Alloc allocates a DMA buffer of size bytes aligned to align.
func (e *Engine) Alloc(size, align int) (*Buffer, error) {
	return NewBuffer(e.plat.Memory(), size, align)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats { return e.metrics.snapshot() }

// Submit arms binding's channel with chain and starts it. It never waits
// for hardware.
//
// Requests that cannot be armed are rejected before any channel register
// is written: a nil, empty or already used chain, a chain built for another
// direction, an invalid descriptor, or a priority that collides with
// another armed channel. Submitting twice on one binding panics.
func (e *Engine) Submit(b *Binding, c *Chain) (*Handle, error) {
	if b == nil || b.router != e.router || !b.current() {
		return nil, pkg.ErrStaleBinding
	}
	if c == nil || c.Len() == 0 || c.pool != e.pool {
		return nil, fmt.Errorf("%w: nil, empty or foreign chain", pkg.ErrInvalidChain)
	}
	if c.state.Load() != chainBuilt {
		return nil, fmt.Errorf("%w: chain already submitted or released", pkg.ErrInvalidChain)
	}
	if c.dir != b.dir {
		return nil, &RouterError{Kind: InvalidSource,
			Detail: fmt.Sprintf("%s chain on %s binding", c.dir, b.dir)}
	}
	if err := c.validate(e.builder.limits); err != nil {
		return nil, err
	}
	if other, dup := e.router.duplicatePriority(b.ch); dup {
		return nil, fmt.Errorf("%w: channels %d and %d at level %d",
			pkg.ErrDuplicatePriority, b.ch, other, e.dma.Priority(b.ch).Level)
	}
	if err := e.checkGroupPriority(); err != nil {
		return nil, err
	}

	ch := &e.router.chans[b.ch]
	if !ch.state.CompareAndSwap(int32(Bound), int32(Enabled)) {
		violate("submit", "channel %d already has an active transfer", b.ch)
	}
	if !c.state.CompareAndSwap(chainBuilt, chainArmed) {
		ch.state.Store(int32(Bound))
		return nil, fmt.Errorf("%w: chain submitted concurrently", pkg.ErrInvalidChain)
	}
	if err := leaseAll(c.bufs); err != nil {
		c.state.Store(chainBuilt)
		ch.state.Store(int32(Bound))
		return nil, err
	}

	h := newHandle(b, c)
	ch.handle.Store(h)

	start := b.source == nil
	head := c.commit(start)
	e.dma.TCD(b.ch).Store(&head)
	e.dma.ClearDone(b.ch)
	e.dma.EnableErrorInterrupt(b.ch)
	if start {
		e.dma.Start(b.ch)
	} else {
		e.dma.SetRequest(b.ch)
	}
	e.metrics.submit()

	pkg.LogDebug(pkg.ComponentEngine, "transfer submitted",
		"channel", b.ch,
		"links", c.Len(),
		"bytes", c.total,
		"softwareStart", start)
	return h, nil
}

// checkGroupPriority rejects a controller whose groups share a priority.
func (e *Engine) checkGroupPriority() error {
	if e.router.channels <= regs.ChannelsPerGroup {
		return nil
	}
	cr := e.dma.CR()
	if regs.CRGRP0PRI.Get(cr) == regs.CRGRP1PRI.Get(cr) {
		return fmt.Errorf("%w: both groups at %d", pkg.ErrGroupPriority, regs.CRGRP0PRI.Get(cr))
	}
	return nil
}

// Poll returns the transfer's status without blocking or changing any
// state. A finished transfer may report Complete or Failed before the
// dispatcher has acknowledged it.
func (e *Engine) Poll(h *Handle) Status {
	if h == nil {
		violate("poll", "nil handle")
	}
	if r, ok := h.Result(); ok {
		return r.Status
	}
	ch := h.Channel()
	bit := uint32(1) << uint(ch)
	var st Status
	switch {
	case e.dma.ERR()&bit != 0:
		st = Status{State: Failed, Kind: faultKind(e.dma.ES(), ch)}
	case regs.CSRFlag(e.dma.TCD(ch).CSR(), regs.CSRDONE):
		st = Status{State: Complete}
	default:
		st = Status{State: Pending}
	}
	// The dispatcher may have resolved and recycled the channel between the
	// reads above; its result is authoritative.
	if r, ok := h.Result(); ok {
		return r.Status
	}
	return st
}

// Cancel stops the transfer at the next minor loop boundary and resolves it
// as Failed(Cancelled). If hardware finished first the transfer resolves
// normally instead, so cancelling a completed transfer yields Complete.
//
// Cancel waits at most the configured timeout for the channel to go idle.
// On timeout it returns a *CancelError and leaves the transfer pending.
func (e *Engine) Cancel(h *Handle) error {
	if h == nil {
		violate("cancel", "nil handle")
	}
	if _, ok := h.Result(); ok {
		return nil
	}
	ch := h.Channel()
	if e.router.chans[ch].handle.Load() != h {
		return nil
	}
	tcd := e.dma.TCD(ch)

	e.dma.ClearRequest(ch)
	if regs.CSRFlag(tcd.CSR(), regs.CSRACTIVE) {
		e.dma.SetCR(e.dma.CR() | 1<<regs.CRCX)
	}

	deadline := time.Now().Add(e.opts.CancelTimeout)
	for {
		if _, ok := h.Result(); ok {
			return nil
		}
		cx := e.dma.CR()&(1<<regs.CRCX) != 0
		if !cx && !regs.CSRFlag(tcd.CSR(), regs.CSRACTIVE) {
			break
		}
		if time.Now().After(deadline) {
			e.metrics.cancelTimeouts.Inc(1)
			pkg.LogWarn(pkg.ComponentEngine, "cancel timed out", "channel", ch, "timeout", e.opts.CancelTimeout)
			return &CancelError{Channel: ch, Timeout: true}
		}
		runtime.Gosched()
	}

	bit := uint32(1) << uint(ch)
	if e.dma.ERR()&bit != 0 || regs.CSRFlag(tcd.CSR(), regs.CSRDONE) {
		e.dispatcher.OnSignal(ch)
		return nil
	}
	e.dispatcher.finish(h, Status{State: Failed, Kind: Cancelled})
	return nil
}

// Transfer builds req, acquires a channel for source, submits, and waits
// for the result. If ctx ends first the transfer is cancelled.
func (e *Engine) Transfer(ctx context.Context, req *Request, source *Source, prio Priority) (Result, error) {
	c, err := e.builder.Build(req)
	if err != nil {
		return Result{}, err
	}
	b, err := e.router.Acquire(req.Direction, source, prio)
	if err != nil {
		c.Release()
		return Result{}, err
	}
	h, err := e.Submit(b, c)
	if err != nil {
		c.Release()
		e.router.Release(b)
		return Result{}, err
	}
	r, err := h.Wait(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if cerr := e.Cancel(h); cerr != nil {
			return r, errors.Join(err, cerr)
		}
		r, _ = h.Result()
		if r.Status.State == Complete {
			return r, nil
		}
	}
	return r, err
}

// Close detaches interrupts and releases the descriptor pool. Transfers
// still in flight are abandoned.
func (e *Engine) Close() error {
	if n := e.metrics.active.Load(); n > 0 {
		pkg.LogWarn(pkg.ComponentEngine, "closing engine with transfers in flight", "count", n)
	}
	return errors.Join(e.dispatcher.Detach(), e.pool.Close())
}

// faultKind decodes the error status latched for ch.
func faultKind(es regs.ErrorStatus, ch int) ErrorKind {
	if !es.Valid() || es.Channel() != ch {
		return UnknownError
	}
	switch {
	case es.Has(regs.ESECX):
		return Cancelled
	case es.Has(regs.ESDBE):
		return DestinationBusError
	case es.Has(regs.ESSBE):
		return SourceBusError
	case es.Has(regs.ESSGE):
		return ScatterGatherError
	case es.Has(regs.ESNCE):
		return LoopConfigError
	case es.Has(regs.ESDOE):
		return DestinationOffsetError
	case es.Has(regs.ESDAE):
		return DestinationAddressError
	case es.Has(regs.ESSOE):
		return SourceOffsetError
	case es.Has(regs.ESSAE):
		return SourceAddressError
	case es.Has(regs.ESCPE):
		return ChannelPriorityError
	case es.Has(regs.ESGPE):
		return GroupPriorityError
	default:
		return UnknownError
	}
}
