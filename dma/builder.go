package dma

import (
	"fmt"

	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// Limits bounds what the builder may emit.
type Limits struct {
	MaxIterations  int // major loop iterations per descriptor
	MaxNBytes      int // bytes per minor loop
	MaxChainLength int // descriptors per chain
}

// DefaultLimits returns the limits of the hardware encoding.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations:  regs.MaxIterations,
		MaxNBytes:      regs.MaxNBytes,
		MaxChainLength: 64,
	}
}

func (l Limits) validate() error {
	switch {
	case l.MaxIterations < 1 || l.MaxIterations > regs.MaxIterations:
		return fmt.Errorf("%w: max iterations %d", pkg.ErrInvalidConfig, l.MaxIterations)
	case l.MaxNBytes < 1 || l.MaxNBytes > regs.MaxNBytes:
		return fmt.Errorf("%w: max minor loop bytes %d", pkg.ErrInvalidConfig, l.MaxNBytes)
	case l.MaxChainLength < 1:
		return fmt.Errorf("%w: max chain length %d", pkg.ErrInvalidConfig, l.MaxChainLength)
	}
	return nil
}

// Builder turns requests into descriptor chains. It has no hardware side
// effects and is safe for concurrent use.
type Builder struct {
	pool   *DescriptorPool
	limits Limits
}

// NewBuilder returns a builder drawing descriptors from pool.
func NewBuilder(pool *DescriptorPool, limits Limits) (*Builder, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil descriptor pool", pkg.ErrInvalidParameter)
	}
	if err := limits.validate(); err != nil {
		return nil, err
	}
	return &Builder{pool: pool, limits: limits}, nil
}

// Limits returns the builder's limits.
func (b *Builder) Limits() Limits { return b.limits }

// Build validates req and returns the chain of descriptors that moves it.
//
// The total length is split into minor loops of MinorBytes, or when that is
// zero: width × burst bytes for peripheral directions, and the largest
// minor loop that divides the length and fits NBYTES for memory to memory.
// Major loops longer than the iteration limit continue in further links
// loaded by scatter/gather. Only the last link interrupts on completion and
// disables the request.
func (b *Builder) Build(req *Request) (*Chain, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", pkg.ErrInvalidParameter)
	}
	if req.Length == 0 {
		return nil, &BuildError{Kind: ZeroLength}
	}
	if req.Length < 0 {
		return nil, buildErrorf(ZeroLength, "negative length %d", req.Length)
	}
	if err := checkEndpoints(req); err != nil {
		return nil, err
	}
	if _, ok := regs.SizeCode(req.Width); !ok {
		return nil, buildErrorf(Misaligned, "unsupported element width %d", req.Width)
	}
	if req.Length%req.Width != 0 {
		return nil, buildErrorf(Misaligned, "length %d is not a multiple of width %d", req.Length, req.Width)
	}
	// A side with a minor loop offset is bounded by its stride instead.
	srcLen, dstLen := req.Length, req.Length
	if req.SrcMinorOffset {
		srcLen = 0
	}
	if req.DstMinorOffset {
		dstLen = 0
	}
	if err := checkSide("source", req.Src, req.SrcModulo, srcLen, req.Width); err != nil {
		return nil, err
	}
	if err := checkSide("destination", req.Dst, req.DstModulo, dstLen, req.Width); err != nil {
		return nil, err
	}

	minor, err := b.split(req)
	if err != nil {
		return nil, err
	}
	iters := req.Length / minor
	if err := checkMinorOffset(req, minor, iters); err != nil {
		return nil, err
	}
	links := (iters + b.limits.MaxIterations - 1) / b.limits.MaxIterations
	if links > b.limits.MaxChainLength {
		return nil, buildErrorf(TooLarge, "%d iterations of %d bytes need %d links, limit %d",
			iters, minor, links, b.limits.MaxChainLength)
	}

	c := &Chain{
		pool:     b.pool,
		dir:      req.Direction,
		bufs:     req.buffers(),
		total:    req.Length,
		notify:   req.Notify,
		progress: req.Progress,
	}
	for i := 0; i < links; i++ {
		r, ok := b.pool.alloc()
		if !ok {
			avail := b.pool.Available() + len(c.refs)
			c.free()
			return nil, fmt.Errorf("%w: chain of %d links, %d available",
				pkg.ErrNoDescriptors, links, avail)
		}
		c.refs = append(c.refs, r)
	}

	srcStep, dstStep := stride(req.Src, req.Width), stride(req.Dst, req.Width)
	srcAdv, dstAdv := minor, minor
	if req.SrcMinorOffset {
		srcAdv += int(req.MinorOffset)
	}
	if req.DstMinorOffset {
		dstAdv += int(req.MinorOffset)
	}
	done := 0
	remaining := iters
	for i, r := range c.refs {
		n := min(remaining, b.limits.MaxIterations)
		d, _ := b.pool.Get(r)
		*d = Descriptor{
			Src:        sideAddr(req.Src, req.SrcModulo, done*srcAdv),
			SrcOffset:  srcStep,
			SrcSize:    req.Width,
			Dst:        sideAddr(req.Dst, req.DstModulo, done*dstAdv),
			DstOffset:  dstStep,
			DstSize:    req.Width,
			MinorBytes: uint32(minor),
			Iterations: uint16(n),
			SrcModulo:  req.SrcModulo,
			DstModulo:  req.DstModulo,

			MinorOffset:    req.MinorOffset,
			SrcMinorOffset: req.SrcMinorOffset,
			DstMinorOffset: req.DstMinorOffset,

			InterruptHalf: req.HalfComplete,
		}
		if i < len(c.refs)-1 {
			// Link the successor before this descriptor is considered sealed.
			d.Next = c.refs[i+1]
		} else {
			d.InterruptMajor = true
			d.DisableRequest = true
			d.SrcLast = rewind(req.Src, req.SrcModulo, iters*srcAdv)
			d.DstLast = rewind(req.Dst, req.DstModulo, iters*dstAdv)
		}
		done += n
		remaining -= n
	}

	pkg.LogDebug(pkg.ComponentBuilder, "built chain",
		"direction", req.Direction,
		"length", req.Length,
		"minor", minor,
		"iterations", iters,
		"links", links)
	return c, nil
}

// split chooses the minor loop size in bytes.
func (b *Builder) split(req *Request) (int, error) {
	if req.MinorBytes < 0 {
		return 0, buildErrorf(Misaligned, "negative minor loop size %d", req.MinorBytes)
	}
	if req.MinorBytes > 0 {
		m := req.MinorBytes
		switch {
		case m%req.Width != 0:
			return 0, buildErrorf(Misaligned, "minor loop of %d bytes with %d byte elements", m, req.Width)
		case req.Length%m != 0:
			return 0, buildErrorf(Misaligned, "length %d is not a multiple of minor loop %d", req.Length, m)
		case m > b.limits.MaxNBytes:
			return 0, buildErrorf(TooLarge, "minor loop of %d bytes exceeds %d", m, b.limits.MaxNBytes)
		}
		return m, nil
	}

	elems := req.Length / req.Width
	maxElems := b.limits.MaxNBytes / req.Width
	if maxElems == 0 {
		return 0, buildErrorf(TooLarge, "element width %d exceeds minor loop limit %d", req.Width, b.limits.MaxNBytes)
	}
	if req.Direction != MemoryToMemory {
		burst := max(req.Burst, 1)
		burst = min(burst, elems, maxElems)
		for elems%burst != 0 {
			burst--
		}
		return burst * req.Width, nil
	}
	return largestDivisor(elems, maxElems) * req.Width, nil
}

// checkMinorOffset validates the minor loop offset of req. A side that
// moves by the offset after each of iters minor loops of minor bytes must
// stay within its buffer.
func checkMinorOffset(req *Request, minor, iters int) error {
	if !req.SrcMinorOffset && !req.DstMinorOffset {
		if req.MinorOffset != 0 {
			return buildErrorf(InvalidEndpoint, "minor loop offset %d applied to neither side", req.MinorOffset)
		}
		return nil
	}
	switch {
	case req.MinorBytes == 0:
		return buildErrorf(Misaligned, "minor loop offset without an explicit minor loop size")
	case minor > regs.MaxNBytesOffset:
		return buildErrorf(TooLarge, "minor loop of %d bytes with offset, limit %d", minor, regs.MaxNBytesOffset)
	case req.MinorOffset < regs.MinMinorOffset || req.MinorOffset > regs.MaxMinorOffset:
		return buildErrorf(TooLarge, "minor loop offset %d", req.MinorOffset)
	case int(req.MinorOffset)%req.Width != 0:
		return buildErrorf(Misaligned, "minor loop offset %d for %d byte elements", req.MinorOffset, req.Width)
	}

	sides := []struct {
		name string
		on   bool
		ep   Endpoint
		mod  uint8
	}{
		{"source", req.SrcMinorOffset, req.Src, req.SrcModulo},
		{"destination", req.DstMinorOffset, req.Dst, req.DstModulo},
	}
	for _, s := range sides {
		if !s.on {
			continue
		}
		buf, ok := s.ep.(*Buffer)
		if !ok {
			return buildErrorf(InvalidEndpoint, "%s minor loop offset on a peripheral port", s.name)
		}
		if s.mod != 0 {
			return buildErrorf(InvalidEndpoint, "%s minor loop offset with modulo", s.name)
		}
		last := (iters - 1) * (minor + int(req.MinorOffset))
		if last < 0 {
			return buildErrorf(InvalidEndpoint, "%s minor loop offset %d walks below the buffer", s.name, req.MinorOffset)
		}
		if need := last + minor; buf.Len() < need {
			return buildErrorf(InvalidEndpoint, "%s buffer of %d bytes for %d byte stride", s.name, buf.Len(), need)
		}
	}
	return nil
}

// largestDivisor returns the largest divisor of n not exceeding limit.
func largestDivisor(n, limit int) int {
	if n <= limit {
		return n
	}
	best := 1
	for i := 1; i*i <= n; i++ {
		if n%i != 0 {
			continue
		}
		if i <= limit && i > best {
			best = i
		}
		if j := n / i; j <= limit && j > best {
			best = j
		}
	}
	return best
}

// checkEndpoints matches endpoint kinds against the direction.
func checkEndpoints(req *Request) error {
	src, srcMem := endpointKind(req.Src)
	dst, dstMem := endpointKind(req.Dst)
	if !src || !dst {
		return buildErrorf(InvalidEndpoint, "missing endpoint")
	}
	want := map[Direction][2]bool{
		PeripheralToMemory: {false, true},
		MemoryToPeripheral: {true, false},
		MemoryToMemory:     {true, true},
	}
	w, ok := want[req.Direction]
	if !ok {
		return buildErrorf(InvalidEndpoint, "unknown direction %d", int(req.Direction))
	}
	if w != [2]bool{srcMem, dstMem} {
		return buildErrorf(InvalidEndpoint, "%s with memory source=%t destination=%t",
			req.Direction, srcMem, dstMem)
	}
	return nil
}

// endpointKind reports whether ep is set and whether it is memory.
func endpointKind(ep Endpoint) (set, memory bool) {
	switch v := ep.(type) {
	case *Buffer:
		return v != nil, true
	case Port:
		return true, false
	default:
		return false, false
	}
}

// checkSide validates alignment, capacity and modulus of one endpoint.
func checkSide(name string, ep Endpoint, mod uint8, length, width int) error {
	addr := ep.busAddr()
	if int(addr)%width != 0 {
		return buildErrorf(Misaligned, "%s address %#x for %d byte elements", name, addr, width)
	}
	buf, isBuf := ep.(*Buffer)
	if !isBuf {
		if mod != 0 {
			return buildErrorf(InvalidEndpoint, "%s modulo on a peripheral port", name)
		}
		return nil
	}
	if mod == 0 {
		if buf.Len() < length {
			return buildErrorf(InvalidEndpoint, "%s buffer of %d bytes for %d byte transfer", name, buf.Len(), length)
		}
		return nil
	}
	if mod > 31 {
		return buildErrorf(Misaligned, "%s modulo 2^%d", name, mod)
	}
	window := 1 << mod
	switch {
	case window < width:
		return buildErrorf(Misaligned, "%s modulo window %d below width %d", name, window, width)
	case int(addr)%window != 0:
		return buildErrorf(Misaligned, "%s circular buffer %#x not aligned to %d", name, addr, window)
	case buf.Len() < window:
		return buildErrorf(InvalidEndpoint, "%s buffer of %d bytes for %d byte window", name, buf.Len(), window)
	}
	return nil
}

// stride returns the per-element address offset of ep.
func stride(ep Endpoint, width int) int16 {
	if _, ok := ep.(*Buffer); ok {
		return int16(width)
	}
	return 0
}

// sideAddr returns the address of ep after consumed bytes.
func sideAddr(ep Endpoint, mod uint8, consumed int) uint32 {
	base := ep.busAddr()
	if _, ok := ep.(*Buffer); !ok {
		return base
	}
	if mod == 0 {
		return base + uint32(consumed)
	}
	mask := uint32(1)<<mod - 1
	return base&^mask | (base+uint32(consumed))&mask
}

// rewind returns the last-link adjustment restoring a linear buffer address
// to its start.
func rewind(ep Endpoint, mod uint8, length int) int32 {
	if _, ok := ep.(*Buffer); !ok || mod != 0 {
		return 0
	}
	return -int32(length)
}
