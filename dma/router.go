package dma

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// =============================================================================
// Priority and Sources
// =============================================================================

// MaxPriority is the highest channel priority level.
const MaxPriority = 15

// Priority is a channel's fixed arbitration priority. Levels are unique
// within each group of 16 channels; a higher level wins arbitration.
type Priority struct {
	Level       uint8
	Preemptible bool // a higher-priority request may suspend this channel
	CanPreempt  bool // this channel may suspend a lower-priority one
}

// SourceKind is the direction a request source can serve.
type SourceKind int

// Request source kinds.
const (
	SourceTx     SourceKind = iota // transmit FIFO has room
	SourceRx                       // receive FIFO has data
	SourceAlways                   // permanently asserted
)

// String returns the kind name as used in profiles.
func (k SourceKind) String() string {
	switch k {
	case SourceTx:
		return "tx"
	case SourceRx:
		return "rx"
	case SourceAlways:
		return "always"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Source is a hardware request line routed by the multiplexer.
type Source struct {
	Name       string
	Slot       uint8
	Peripheral string
	Kind       SourceKind
}

// serves reports whether s can trigger a transfer in direction dir. A nil
// source is a software start and serves memory to memory only.
func (s *Source) serves(dir Direction) bool {
	if s == nil {
		return dir == MemoryToMemory
	}
	switch dir {
	case PeripheralToMemory:
		return s.Kind == SourceRx
	case MemoryToPeripheral:
		return s.Kind == SourceTx
	case MemoryToMemory:
		return s.Kind == SourceAlways
	default:
		return false
	}
}

// =============================================================================
// Channel State
// =============================================================================

// ChannelState is the life cycle position of a channel binding.
type ChannelState int32

// Channel states. Triggered and Running are observed from hardware.
const (
	Free ChannelState = iota
	Bound
	Enabled
	Triggered
	Running
	Done
	Faulted
)

// String returns the state name.
func (s ChannelState) String() string {
	switch s {
	case Free:
		return "free"
	case Bound:
		return "bound"
	case Enabled:
		return "enabled"
	case Triggered:
		return "triggered"
	case Running:
		return "running"
	case Done:
		return "done"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// channel is the per-channel record shared by the router, engine and
// dispatcher. Each field is accessed atomically.
type channel struct {
	state   atomic.Int32
	gen     atomic.Uint32
	binding atomic.Pointer[Binding]
	handle  atomic.Pointer[Handle]
}

// =============================================================================
// Binding
// =============================================================================

// Binding is exclusive ownership of one channel routed to one request
// source. Only the holder may mutate the channel's registers.
type Binding struct {
	router *Router
	ch     int
	gen    uint32
	source *Source
	dir    Direction
	prio   Priority
}

// Channel returns the bound channel number.
func (b *Binding) Channel() int { return b.ch }

// Source returns the routed request source, or nil for a software start.
func (b *Binding) Source() *Source { return b.source }

// Direction returns the transfer direction the binding was acquired for.
func (b *Binding) Direction() Direction { return b.dir }

// Priority returns the channel priority.
func (b *Binding) Priority() Priority { return b.prio }

// State returns the binding's state. A stale binding reports Free. Once
// armed, Triggered, Running, Done and Faulted are read from hardware; Done
// and Faulted last until the dispatcher acknowledges the channel.
func (b *Binding) State() ChannelState {
	if !b.current() {
		return Free
	}
	st := ChannelState(b.router.chans[b.ch].state.Load())
	if st != Enabled {
		return st
	}
	d := b.router.dma
	t := d.TCD(b.ch)
	csr := t.CSR()
	switch {
	case d.ERR()&(1<<uint(b.ch)) != 0:
		return Faulted
	case regs.CSRFlag(csr, regs.CSRDONE):
		return Done
	case regs.CSRFlag(csr, regs.CSRACTIVE),
		regs.IterCount(t.CITER()) != regs.IterCount(t.BITER()):
		return Running
	case regs.CSRFlag(csr, regs.CSRSTART),
		d.HRS()&(1<<uint(b.ch)) != 0:
		return Triggered
	}
	return Enabled
}

// current reports whether the binding still owns its channel.
func (b *Binding) current() bool {
	c := &b.router.chans[b.ch]
	return c.binding.Load() == b && c.gen.Load() == b.gen
}

// =============================================================================
// Router
// =============================================================================

// Router hands out channels. Acquisition and release are lock-free compare
// and swap operations over the free channel mask and the per-group priority
// masks.
type Router struct {
	dma      *regs.EDMA
	mux      *regs.Mux
	channels int
	all      uint32
	free     atomic.Uint32   // set bit = free channel
	levels   []atomic.Uint32 // per group, set bit = level in use
	chans    []channel
	onFree   func(ch int)
}

// NewRouter returns a router over the first channels channels of the
// controller.
func NewRouter(dma *regs.EDMA, mux *regs.Mux, channels int) (*Router, error) {
	if channels < 1 || channels > regs.MaxChannels {
		return nil, fmt.Errorf("%w: %d channels", pkg.ErrInvalidConfig, channels)
	}
	r := &Router{
		dma:      dma,
		mux:      mux,
		channels: channels,
		all:      uint32(1<<uint(channels) - 1),
		levels:   make([]atomic.Uint32, groups(channels)),
		chans:    make([]channel, channels),
	}
	r.free.Store(r.all)
	return r, nil
}

// Channels returns the number of channels managed.
func (r *Router) Channels() int { return r.channels }

// FreeChannels returns the number of unbound channels.
func (r *Router) FreeChannels() int { return bits.OnesCount32(r.free.Load()) }

// Acquire binds a free channel to source with priority prio. A nil source
// is a software-started memory to memory transfer. The multiplexer and the
// priority register are programmed; the request stays disabled.
//
// Priority levels are unique per arbitration group of 16 channels, the
// scope the controller checks them in. On a 32 channel controller a level
// held in group 0 can still be granted once in group 1.
//
// Acquire never waits. It fails with NoFreeChannel when every channel is
// bound and with DuplicatePriority when the level is taken in every group
// that still has a free channel.
func (r *Router) Acquire(dir Direction, source *Source, prio Priority) (*Binding, error) {
	if prio.Level > MaxPriority {
		return nil, &RouterError{Kind: InvalidPriority, Detail: fmt.Sprintf("level %d", prio.Level)}
	}
	if !source.serves(dir) {
		return nil, &RouterError{Kind: InvalidSource, Detail: fmt.Sprintf("%s for %s", sourceName(source), dir)}
	}
	if source != nil && int(source.Slot) > regs.MaxSourceSlot {
		return nil, &RouterError{Kind: InvalidSource, Detail: fmt.Sprintf("slot %d", source.Slot)}
	}

	taken := false
	for g := range r.levels {
		mask := r.groupMask(g)
		if r.free.Load()&mask == 0 {
			continue
		}
		if !r.claimLevel(g, prio.Level) {
			taken = true
			continue
		}
		ch, ok := r.claimChannel(mask)
		if !ok {
			r.releaseLevel(g, prio.Level)
			continue
		}
		b := r.bind(ch, dir, source, prio)
		pkg.LogDebug(pkg.ComponentRouter, "channel acquired",
			"channel", ch,
			"source", sourceName(source),
			"priority", prio.Level)
		return b, nil
	}
	if taken && r.free.Load() != 0 {
		return nil, &RouterError{Kind: DuplicatePriority, Detail: fmt.Sprintf("level %d", prio.Level)}
	}
	return nil, &RouterError{Kind: NoFreeChannel}
}

// Release returns a bound, never submitted channel to the pool. Releasing a
// stale binding is a no-op. Releasing a channel that is armed, running or
// awaiting acknowledgment is a contract violation and panics.
func (r *Router) Release(b *Binding) {
	if b == nil || b.router != r || !b.current() {
		return
	}
	switch st := ChannelState(r.chans[b.ch].state.Load()); st {
	case Free:
		return
	case Bound:
	default:
		violate("release", "channel %d is %s", b.ch, b.State())
	}
	if !r.chans[b.ch].state.CompareAndSwap(int32(Bound), int32(Free)) {
		violate("release", "channel %d changed state during release", b.ch)
	}
	r.recycle(b)
}

// bind programs channel ch for a new owner.
func (r *Router) bind(ch int, dir Direction, source *Source, prio Priority) *Binding {
	c := &r.chans[ch]
	gen := c.gen.Add(1)
	b := &Binding{router: r, ch: ch, gen: gen, source: source, dir: dir, prio: prio}

	// Stale latches from a previous owner are cleared per channel.
	r.dma.ClearRequest(ch)
	r.dma.DisableErrorInterrupt(ch)
	r.dma.ClearError(ch)
	r.dma.ClearInterrupt(ch)
	r.dma.ClearDone(ch)

	r.dma.SetPriority(ch, regs.ChannelPriority{
		Level:       prio.Level,
		Preemptible: prio.Preemptible,
		NoPreempt:   !prio.CanPreempt,
	})
	if source == nil {
		r.mux.Disable(ch)
	} else {
		r.mux.Configure(ch, regs.MuxConfig{
			Source:   source.Slot,
			AlwaysOn: source.Kind == SourceAlways,
			Enable:   true,
		})
	}
	c.binding.Store(b)
	c.state.Store(int32(Bound))
	return b
}

// recycle unroutes b's channel and returns it to the free mask. The channel
// must already be in state Free.
func (r *Router) recycle(b *Binding) {
	c := &r.chans[b.ch]
	r.mux.Disable(b.ch)
	c.binding.CompareAndSwap(b, nil)
	r.releaseLevel(b.ch/regs.ChannelsPerGroup, b.prio.Level)
	r.free.Or(1 << uint(b.ch))
	pkg.LogDebug(pkg.ComponentRouter, "channel released", "channel", b.ch)
	if r.onFree != nil {
		r.onFree(b.ch)
	}
}

// claimChannel takes the lowest free channel in mask.
func (r *Router) claimChannel(mask uint32) (int, bool) {
	for {
		v := r.free.Load()
		avail := v & mask
		if avail == 0 {
			return 0, false
		}
		ch := bits.TrailingZeros32(avail)
		if r.free.CompareAndSwap(v, v&^(1<<uint(ch))) {
			return ch, true
		}
	}
}

func (r *Router) claimLevel(group int, level uint8) bool {
	l := &r.levels[group]
	for {
		v := l.Load()
		if v&(1<<level) != 0 {
			return false
		}
		if l.CompareAndSwap(v, v|1<<level) {
			return true
		}
	}
}

func (r *Router) releaseLevel(group int, level uint8) {
	r.levels[group].And(^uint32(1 << level))
}

// groupMask returns the channels of arbitration group g.
func (r *Router) groupMask(g int) uint32 {
	lo := g * regs.ChannelsPerGroup
	hi := min(lo+regs.ChannelsPerGroup, r.channels)
	return uint32(1<<uint(hi)-1) &^ uint32(1<<uint(lo)-1)
}

// duplicatePriority reports another armed channel in ch's group programmed
// with the same level in hardware.
func (r *Router) duplicatePriority(ch int) (int, bool) {
	level := r.dma.Priority(ch).Level
	g := ch / regs.ChannelsPerGroup
	for other := g * regs.ChannelsPerGroup; other < min((g+1)*regs.ChannelsPerGroup, r.channels); other++ {
		if other == ch || ChannelState(r.chans[other].state.Load()) == Free {
			continue
		}
		if r.dma.Priority(other).Level == level {
			return other, true
		}
	}
	return 0, false
}

func groups(channels int) int {
	return (channels + regs.ChannelsPerGroup - 1) / regs.ChannelsPerGroup
}

func sourceName(s *Source) string {
	if s == nil {
		return "software"
	}
	return s.Name
}
