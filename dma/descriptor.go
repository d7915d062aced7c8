package dma

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/ardnew/softdma/dma/hal"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor is one hardware-executable memory move. It is the software
// form of a TCD; links to other descriptors are pool references and become
// bus addresses only when the chain is committed.
type Descriptor struct {
	Src       uint32
	SrcOffset int16
	SrcSize   int // bytes per source read
	Dst       uint32
	DstOffset int16
	DstSize   int // bytes per destination write

	MinorBytes     uint32
	MinorOffset    int32 // applied after each minor loop when enabled below
	SrcMinorOffset bool
	DstMinorOffset bool

	Iterations uint16

	SrcModulo uint8
	DstModulo uint8

	SrcLast int32 // added to Src after the major loop
	DstLast int32 // added to Dst after the major loop; unused when linked

	Next Ref

	InterruptMajor bool
	InterruptHalf  bool
	DisableRequest bool
}

// Bytes returns the number of bytes the descriptor moves.
func (d *Descriptor) Bytes() int {
	return int(d.MinorBytes) * int(d.Iterations)
}

// validate checks the descriptor against the hardware encoding and limits.
func (d *Descriptor) validate(l Limits) error {
	_, sok := regs.SizeCode(d.SrcSize)
	_, dok := regs.SizeCode(d.DstSize)
	if !sok || !dok {
		return buildErrorf(Misaligned, "element sizes %d/%d", d.SrcSize, d.DstSize)
	}
	if d.MinorBytes == 0 || int(d.MinorBytes)%d.SrcSize != 0 || int(d.MinorBytes)%d.DstSize != 0 {
		return buildErrorf(Misaligned, "minor loop of %d bytes with %d/%d byte elements",
			d.MinorBytes, d.SrcSize, d.DstSize)
	}
	if int(d.Src)%d.SrcSize != 0 || int(d.SrcOffset)%d.SrcSize != 0 {
		return buildErrorf(Misaligned, "source %#x%+d for %d byte elements", d.Src, d.SrcOffset, d.SrcSize)
	}
	if int(d.Dst)%d.DstSize != 0 || int(d.DstOffset)%d.DstSize != 0 {
		return buildErrorf(Misaligned, "destination %#x%+d for %d byte elements", d.Dst, d.DstOffset, d.DstSize)
	}
	if d.SrcMinorOffset || d.DstMinorOffset {
		if d.MinorBytes > regs.MaxNBytesOffset {
			return buildErrorf(TooLarge, "minor loop of %d bytes with offset", d.MinorBytes)
		}
		if d.MinorOffset < regs.MinMinorOffset || d.MinorOffset > regs.MaxMinorOffset {
			return buildErrorf(TooLarge, "minor loop offset %d", d.MinorOffset)
		}
	}
	if int(d.MinorBytes) > l.MaxNBytes {
		return buildErrorf(TooLarge, "minor loop of %d bytes exceeds %d", d.MinorBytes, l.MaxNBytes)
	}
	if d.Iterations == 0 {
		return buildErrorf(ZeroLength, "zero major iterations")
	}
	if int(d.Iterations) > l.MaxIterations {
		return buildErrorf(TooLarge, "%d major iterations exceeds %d", d.Iterations, l.MaxIterations)
	}
	if d.SrcModulo > 31 || d.DstModulo > 31 {
		return buildErrorf(Misaligned, "modulo %d/%d", d.SrcModulo, d.DstModulo)
	}
	return nil
}

// tcd encodes the descriptor. next is the bus address of the following
// link, used only when d.Next is valid.
func (d *Descriptor) tcd(next uint32) regs.TCD {
	ssz, _ := regs.SizeCode(d.SrcSize)
	dsz, _ := regs.SizeCode(d.DstSize)
	t := regs.TCD{
		SADDR:    d.Src,
		SOFF:     d.SrcOffset,
		ATTR:     regs.MakeAttr(d.SrcModulo, ssz, d.DstModulo, dsz),
		NBYTES:   regs.MakeNBytes(d.MinorBytes, d.MinorOffset, d.SrcMinorOffset, d.DstMinorOffset),
		SLAST:    d.SrcLast,
		DADDR:    d.Dst,
		DOFF:     d.DstOffset,
		CITER:    d.Iterations,
		DLASTSGA: d.DstLast,
		BITER:    d.Iterations,
	}
	var csr uint16
	if d.InterruptMajor {
		csr |= 1 << regs.CSRINTMAJOR
	}
	if d.InterruptHalf {
		csr |= 1 << regs.CSRINTHALF
	}
	if d.DisableRequest {
		csr |= 1 << regs.CSRDREQ
	}
	if d.Next.Valid() {
		csr |= 1 << regs.CSRESG
		t.DLASTSGA = int32(next)
	}
	t.CSR = csr
	return t
}

// =============================================================================
// Descriptor Pool
// =============================================================================

// Ref names a pool slot. The generation detects a slot reused after the
// chain holding it retired; the zero Ref is no link.
type Ref struct {
	Index int
	Gen   uint32
}

// Valid reports whether r names a slot.
func (r Ref) Valid() bool { return r.Gen != 0 }

// DescriptorPool is a fixed-capacity arena of descriptor slots in DMA
// memory. Each slot holds the committed 32-byte hardware image at a
// TCD-aligned bus address, plus the software descriptor it came from.
type DescriptorPool struct {
	region hal.Region
	slots  []Descriptor
	gens   []atomic.Uint32
	free   []atomic.Uint64 // set bit = free slot
	avail  atomic.Int32
}

// NewDescriptorPool allocates capacity descriptor slots from mem.
func NewDescriptorPool(mem hal.Memory, capacity int) (*DescriptorPool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: descriptor pool capacity %d", pkg.ErrInvalidParameter, capacity)
	}
	r, err := mem.Alloc(capacity*regs.TCDSize, regs.TCDSize)
	if err != nil {
		return nil, fmt.Errorf("descriptor pool: %w", err)
	}
	p := &DescriptorPool{
		region: r,
		slots:  make([]Descriptor, capacity),
		gens:   make([]atomic.Uint32, capacity),
		free:   make([]atomic.Uint64, (capacity+63)/64),
	}
	for i := 0; i < capacity; i++ {
		p.gens[i].Store(1)
		p.free[i/64].Or(1 << uint(i%64))
	}
	p.avail.Store(int32(capacity))
	return p, nil
}

// Capacity returns the number of slots.
func (p *DescriptorPool) Capacity() int { return len(p.slots) }

// Available returns the number of free slots.
func (p *DescriptorPool) Available() int { return int(p.avail.Load()) }

// Get returns the descriptor in slot r, or false if r is stale.
func (p *DescriptorPool) Get(r Ref) (*Descriptor, bool) {
	if r.Index < 0 || r.Index >= len(p.slots) || p.gens[r.Index].Load() != r.Gen {
		return nil, false
	}
	return &p.slots[r.Index], true
}

// Close releases the pool memory. Outstanding chains become invalid.
func (p *DescriptorPool) Close() error {
	return p.region.Close()
}

// alloc claims a free slot.
func (p *DescriptorPool) alloc() (Ref, bool) {
	for w := range p.free {
		word := &p.free[w]
		for {
			v := word.Load()
			if v == 0 {
				break
			}
			i := bits.TrailingZeros64(v)
			if word.CompareAndSwap(v, v&^(1<<uint(i))) {
				idx := w*64 + i
				p.avail.Add(-1)
				p.slots[idx] = Descriptor{}
				return Ref{Index: idx, Gen: p.gens[idx].Load()}, true
			}
		}
	}
	return Ref{}, false
}

// release returns slot r to the pool. Stale references are ignored.
func (p *DescriptorPool) release(r Ref) bool {
	if r.Index < 0 || r.Index >= len(p.slots) {
		return false
	}
	g := &p.gens[r.Index]
	next := r.Gen + 1
	if next == 0 {
		next = 1
	}
	if !g.CompareAndSwap(r.Gen, next) {
		return false
	}
	p.free[r.Index/64].Or(1 << uint(r.Index%64))
	p.avail.Add(1)
	return true
}

// addr returns the bus address of slot i's hardware image.
func (p *DescriptorPool) addr(i int) uint32 {
	return p.region.Addr() + uint32(i*regs.TCDSize)
}

// write stores the hardware image of slot i.
func (p *DescriptorPool) write(i int, t *regs.TCD) {
	off := i * regs.TCDSize
	t.MarshalTo(p.region.Bytes()[off : off+regs.TCDSize])
}

// =============================================================================
// Chain
// =============================================================================

// Chain lifecycle states.
const (
	chainBuilt int32 = iota
	chainArmed
	chainRetired
)

// Chain is the linked list of descriptors built for one request. The
// builder owns it until Submit; the engine owns it until the transfer
// resolves, after which its slots return to the pool.
type Chain struct {
	pool     *DescriptorPool
	refs     []Ref
	dir      Direction
	bufs     []*Buffer
	total    int
	notify   func(Result)
	progress func(Result)
	state    atomic.Int32
}

// Len returns the number of links.
func (c *Chain) Len() int { return len(c.refs) }

// Direction returns the direction of the request the chain was built for.
func (c *Chain) Direction() Direction { return c.dir }

// TotalBytes returns the sum of bytes moved by every link.
func (c *Chain) TotalBytes() int {
	n := 0
	for _, r := range c.refs {
		if d, ok := c.pool.Get(r); ok {
			n += d.Bytes()
		}
	}
	return n
}

// Links returns copies of the chain's descriptors in execution order.
func (c *Chain) Links() []Descriptor {
	out := make([]Descriptor, 0, len(c.refs))
	for _, r := range c.refs {
		if d, ok := c.pool.Get(r); ok {
			out = append(out, *d)
		}
	}
	return out
}

// Release returns an unsubmitted chain's descriptors to the pool.
func (c *Chain) Release() error {
	if !c.state.CompareAndSwap(chainBuilt, chainRetired) {
		return fmt.Errorf("%w: chain already submitted or released", pkg.ErrInvalidChain)
	}
	c.free()
	return nil
}

// validate re-checks every link before the chain is armed.
func (c *Chain) validate(l Limits) error {
	for i, r := range c.refs {
		d, ok := c.pool.Get(r)
		if !ok {
			return fmt.Errorf("%w: link %d is stale", pkg.ErrInvalidChain, i)
		}
		if err := d.validate(l); err != nil {
			return err
		}
		if last := i == len(c.refs)-1; last == d.Next.Valid() {
			return fmt.Errorf("%w: link %d next reference", pkg.ErrInvalidChain, i)
		}
	}
	return nil
}

// commit writes every link's hardware image to descriptor memory, last
// link first, so each image is complete before anything can load it. It
// returns the head image for the channel's TCD registers. When start is
// set, loaded links carry CSR[START] so a software-started chain keeps
// running across links.
func (c *Chain) commit(start bool) regs.TCD {
	var head regs.TCD
	for i := len(c.refs) - 1; i >= 0; i-- {
		r := c.refs[i]
		d, _ := c.pool.Get(r)
		var next uint32
		if d.Next.Valid() {
			next = c.pool.addr(d.Next.Index)
		}
		t := d.tcd(next)
		if start && i > 0 {
			t.CSR |= 1 << regs.CSRSTART
		}
		c.pool.write(r.Index, &t)
		head = t
	}
	return head
}

// linkAt returns the index of the link whose image matches the channel's
// current descriptor registers, judged by the scatter/gather pointer.
func (c *Chain) linkAt(t *regs.TCD) int {
	if !regs.CSRFlag(t.CSR, regs.CSRESG) {
		return len(c.refs) - 1
	}
	for i := 1; i < len(c.refs); i++ {
		if c.pool.addr(c.refs[i].Index) == uint32(t.DLASTSGA) {
			return i - 1
		}
	}
	return 0
}

// transferred estimates the bytes moved so far from the channel's current
// descriptor registers.
func (c *Chain) transferred(t *regs.TCD) int {
	links := c.Links()
	if len(links) == 0 {
		return 0
	}
	k := c.linkAt(t)
	n := 0
	for _, d := range links[:k] {
		n += d.Bytes()
	}
	done := int(regs.IterCount(t.BITER)) - int(regs.IterCount(t.CITER))
	if done < 0 {
		done = 0
	}
	return n + done*int(links[k].MinorBytes)
}

// retire returns the chain's descriptors to the pool after the transfer
// resolved.
func (c *Chain) retire() {
	if c.state.CompareAndSwap(chainArmed, chainRetired) {
		c.free()
	}
}

func (c *Chain) free() {
	for _, r := range c.refs {
		c.pool.release(r)
	}
}
