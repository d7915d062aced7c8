package sim

// dmaBus exposes the controller register block.
type dmaBus struct{ p *Platform }

func (b dmaBus) read(off uint32, width int) uint32 {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	return b.p.dmaRead(off, width)
}

func (b dmaBus) write(off uint32, width int, v uint32) {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	b.p.dmaWrite(off, width, v)
}

func (b dmaBus) Read8(off uint32) uint8       { return uint8(b.read(off, 1)) }
func (b dmaBus) Write8(off uint32, v uint8)   { b.write(off, 1, uint32(v)) }
func (b dmaBus) Read16(off uint32) uint16     { return uint16(b.read(off, 2)) }
func (b dmaBus) Write16(off uint32, v uint16) { b.write(off, 2, uint32(v)) }
func (b dmaBus) Read32(off uint32) uint32     { return b.read(off, 4) }
func (b dmaBus) Write32(off uint32, v uint32) { b.write(off, 4, v) }

// muxBus exposes the request multiplexer. Only 32-bit CHCFG access is
// meaningful; narrower accesses operate on the containing word.
type muxBus struct{ p *Platform }

func (b muxBus) read(off uint32, width int) uint32 {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	ch := int(off / 4)
	if ch >= len(b.p.mux) {
		return 0
	}
	return (b.p.mux[ch] >> ((off & 3) * 8)) & widthMask(width)
}

func (b muxBus) write(off uint32, width int, v uint32) {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	ch := int(off / 4)
	if ch >= len(b.p.mux) {
		return
	}
	shift := (off & 3) * 8
	mask := widthMask(width) << shift
	b.p.mux[ch] = (b.p.mux[ch] &^ mask) | ((v << shift) & mask)
}

func (b muxBus) Read8(off uint32) uint8       { return uint8(b.read(off, 1)) }
func (b muxBus) Write8(off uint32, v uint8)   { b.write(off, 1, uint32(v)) }
func (b muxBus) Read16(off uint32) uint16     { return uint16(b.read(off, 2)) }
func (b muxBus) Write16(off uint32, v uint16) { b.write(off, 2, uint32(v)) }
func (b muxBus) Read32(off uint32) uint32     { return b.read(off, 4) }
func (b muxBus) Write32(off uint32, v uint32) { b.write(off, 4, v) }

// spiBus exposes serial engine n. FIFO data registers pop and push on every
// access regardless of width.
type spiBus struct {
	p *Platform
	n int
}

func (b spiBus) read(off uint32, width int) uint32 {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	v := b.p.spi[b.n].read32(off &^ 3)
	return (v >> ((off & 3) * 8)) & widthMask(width)
}

func (b spiBus) write(off uint32, width int, v uint32) {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	b.p.spi[b.n].write32(off&^3, (v<<((off&3)*8))&(widthMask(width)<<((off&3)*8)))
}

func (b spiBus) Read8(off uint32) uint8       { return uint8(b.read(off, 1)) }
func (b spiBus) Write8(off uint32, v uint8)   { b.write(off, 1, uint32(v)) }
func (b spiBus) Read16(off uint32) uint16     { return uint16(b.read(off, 2)) }
func (b spiBus) Write16(off uint32, v uint16) { b.write(off, 2, uint32(v)) }
func (b spiBus) Read32(off uint32) uint32     { return b.read(off, 4) }
func (b spiBus) Write32(off uint32, v uint32) { b.write(off, 4, v) }
