package sim

import (
	"github.com/ardnew/softdma/regs"
)

// dmaState holds the controller registers. Every field is guarded by the
// platform mutex.
type dmaState struct {
	channels int

	cr   uint32
	es   uint32
	erq  uint32
	eei  uint32
	intr uint32
	err  uint32
	ears uint32

	pri []uint8 // DCHPRI, indexed by channel
	tcd []byte  // channels * TCDSize

	// Channels started by software that keep running until the major loop
	// completes.
	started uint32
}

func (d *dmaState) init(channels int) {
	d.channels = channels
	d.pri = make([]uint8, channels)
	d.tcd = make([]byte, channels*regs.TCDSize)
	// Group 1 outranks group 0 out of reset.
	d.cr = regs.CRGRP1PRI.Set(0, 1)
	for ch := range d.pri {
		v := regs.DCHPRICHPRI.Set(0, uint32(ch%regs.ChannelsPerGroup))
		v = regs.DCHPRIGRPPRI.Set(v, uint32(ch/regs.ChannelsPerGroup))
		d.pri[ch] = uint8(v)
	}
}

func (d *dmaState) halted() bool {
	return d.cr&(1<<regs.CRHALT) != 0
}

func (d *dmaState) minorLoopMapping() bool {
	return d.cr&(1<<regs.CREMLM) != 0
}

func (d *dmaState) groupPriority(group int) uint32 {
	if group == 0 {
		return regs.CRGRP0PRI.Get(d.cr)
	}
	return regs.CRGRP1PRI.Get(d.cr)
}

func (d *dmaState) loadTCD(ch int) regs.TCD {
	var t regs.TCD
	regs.ParseTCD(d.tcd[ch*regs.TCDSize:], &t)
	return t
}

func (d *dmaState) storeTCD(ch int, t *regs.TCD) {
	t.MarshalTo(d.tcd[ch*regs.TCDSize:])
}

func (d *dmaState) csr(ch int) uint16 {
	off := ch*regs.TCDSize + regs.TCDCSR
	return uint16(d.tcd[off]) | uint16(d.tcd[off+1])<<8
}

func (d *dmaState) setCSR(ch int, v uint16) {
	off := ch*regs.TCDSize + regs.TCDCSR
	d.tcd[off] = byte(v)
	d.tcd[off+1] = byte(v >> 8)
}

// =============================================================================
// Register access
// =============================================================================

func (p *Platform) dmaRead(off uint32, width int) uint32 {
	d := &p.dma
	switch {
	case off >= regs.OffsetTCD:
		i := int(off - regs.OffsetTCD)
		if i+width > len(d.tcd) {
			return 0
		}
		return readLE(d.tcd[i : i+width])
	case off >= regs.OffsetDCHPRI:
		var v uint32
		for i := 0; i < width; i++ {
			ch := int(off-regs.OffsetDCHPRI+uint32(i)) ^ 3
			if ch < d.channels {
				v |= uint32(d.pri[ch]) << (8 * i)
			}
		}
		return v
	default:
		word := p.dmaWord(off &^ 3)
		shift := (off & 3) * 8
		return (word >> shift) & widthMask(width)
	}
}

func (p *Platform) dmaWord(off uint32) uint32 {
	d := &p.dma
	switch off {
	case regs.OffsetCR:
		cr := d.cr
		for ch := 0; ch < d.channels; ch++ {
			if regs.CSRFlag(d.csr(ch), regs.CSRACTIVE) {
				cr |= 1 << regs.CRACTIVE
				break
			}
		}
		return cr
	case regs.OffsetES:
		return d.es
	case regs.OffsetERQ:
		return d.erq
	case regs.OffsetEEI:
		return d.eei
	case regs.OffsetINT:
		return d.intr
	case regs.OffsetERR:
		return d.err
	case regs.OffsetHRS:
		return p.hardwareRequests()
	case regs.OffsetEARS:
		return d.ears
	default:
		// Command registers and reserved space read as zero.
		return 0
	}
}

func (p *Platform) dmaWrite(off uint32, width int, v uint32) {
	d := &p.dma
	switch {
	case off >= regs.OffsetTCD:
		i := int(off - regs.OffsetTCD)
		if i+width <= len(d.tcd) {
			writeLE(d.tcd[i:i+width], v)
		}
	case off >= regs.OffsetDCHPRI:
		for i := 0; i < width; i++ {
			ch := int(off-regs.OffsetDCHPRI+uint32(i)) ^ 3
			if ch >= d.channels {
				continue
			}
			b := uint32(v>>(8*i)) & 0xFF
			b = regs.DCHPRIGRPPRI.Set(b, uint32(ch/regs.ChannelsPerGroup))
			d.pri[ch] = uint8(b)
		}
	case off >= regs.OffsetCEEI && off <= regs.OffsetCINT:
		for i := 0; i < width; i++ {
			p.dmaCommand(off+uint32(i), uint8(v>>(8*i)))
		}
	default:
		shift := (off & 3) * 8
		mask := widthMask(width) << shift
		v = (v << shift) & mask
		switch off &^ 3 {
		case regs.OffsetCR:
			p.writeCR((d.cr &^ mask) | v)
		case regs.OffsetERQ:
			d.erq = (d.erq &^ mask) | v
		case regs.OffsetEEI:
			d.eei = (d.eei &^ mask) | v
		case regs.OffsetEARS:
			d.ears = (d.ears &^ mask) | v
		case regs.OffsetINT:
			d.intr &^= v
		case regs.OffsetERR:
			d.err &^= v
			if d.err == 0 {
				d.es = 0
			}
		}
	}
}

func (p *Platform) writeCR(v uint32) {
	d := &p.dma
	v &^= 1 << regs.CRACTIVE
	if v&(1<<regs.CRECX) != 0 {
		for ch := 0; ch < d.channels; ch++ {
			if regs.CSRFlag(d.csr(ch), regs.CSRACTIVE) {
				d.es = 1<<regs.ESVLD | 1<<regs.ESECX | regs.ESERRCHN.Set(0, uint32(ch))
				d.err |= 1 << uint(ch)
				d.setCSR(ch, d.csr(ch)&^(1<<regs.CSRACTIVE))
				d.started &^= 1 << uint(ch)
			}
		}
		v &^= 1 << regs.CRECX
	}
	if v&(1<<regs.CRCX) != 0 && !p.cancelStalled() {
		// Minor loops execute atomically, so cancel completes at once.
		v &^= 1 << regs.CRCX
	}
	d.cr = v
}

// cancelStalled reports whether a channel configured by StallCancel is
// holding the controller active.
func (p *Platform) cancelStalled() bool {
	for ch := 0; ch < p.dma.channels; ch++ {
		if bit(p.stallCancel, ch) && regs.CSRFlag(p.dma.csr(ch), regs.CSRACTIVE) {
			return true
		}
	}
	return false
}

func (p *Platform) dmaCommand(off uint32, v uint8) {
	if v&regs.CmdNOP != 0 {
		return
	}
	d := &p.dma
	var fn func(ch int)
	switch off {
	case regs.OffsetCEEI:
		fn = func(ch int) { d.eei &^= 1 << uint(ch) }
	case regs.OffsetSEEI:
		fn = func(ch int) { d.eei |= 1 << uint(ch) }
	case regs.OffsetCERQ:
		fn = func(ch int) {
			if bit(p.completeOnCancel, ch) {
				p.completeOnCancel &^= 1 << uint(ch)
				p.drain(ch)
			}
			d.erq &^= 1 << uint(ch)
			d.started &^= 1 << uint(ch)
			d.setCSR(ch, d.csr(ch)&^(1<<regs.CSRSTART))
		}
	case regs.OffsetSERQ:
		fn = func(ch int) { d.erq |= 1 << uint(ch) }
	case regs.OffsetCDNE:
		fn = func(ch int) { d.setCSR(ch, d.csr(ch)&^(1<<regs.CSRDONE)) }
	case regs.OffsetSSRT:
		fn = func(ch int) { d.setCSR(ch, d.csr(ch)|1<<regs.CSRSTART) }
	case regs.OffsetCERR:
		fn = func(ch int) {
			d.err &^= 1 << uint(ch)
			if d.err == 0 {
				d.es = 0
			}
		}
	case regs.OffsetCINT:
		fn = func(ch int) { d.intr &^= 1 << uint(ch) }
	default:
		return
	}

	if v&regs.CmdAll != 0 {
		switch off {
		case regs.OffsetCDNE, regs.OffsetCERR, regs.OffsetCINT:
			p.allClears++
		}
		for ch := 0; ch < d.channels; ch++ {
			fn(ch)
		}
		return
	}
	if ch := int(v & regs.CmdChannelMask); ch < d.channels {
		fn(ch)
	}
}

// =============================================================================
// Execution
// =============================================================================

// hardwareRequests returns the HRS bitmap: channels whose routed request
// line is asserted, regardless of ERQ.
func (p *Platform) hardwareRequests() uint32 {
	var hrs uint32
	for ch := 0; ch < p.dma.channels; ch++ {
		if p.requested(ch) {
			hrs |= 1 << uint(ch)
		}
	}
	return hrs
}

// requested reports whether the request line routed to ch is asserted.
func (p *Platform) requested(ch int) bool {
	cfg := regs.DecodeMuxConfig(p.mux[ch])
	if !cfg.Enable {
		return false
	}
	if cfg.AlwaysOn {
		return true
	}
	slot := int(cfg.Source)
	if slot < SlotLPSPI1RX {
		return false
	}
	n := (slot - SlotLPSPI1RX) / 2
	if n >= len(p.spi) {
		return false
	}
	s := p.spi[n]
	if (slot-SlotLPSPI1RX)%2 == 0 {
		return s.rxRequest()
	}
	return s.txRequest()
}

func (p *Platform) eligible(ch int) bool {
	d := &p.dma
	if bit(d.err, ch) {
		return false
	}
	csr := d.csr(ch)
	if !regs.CSRFlag(csr, regs.CSRSTART) && !bit(d.started, ch) &&
		!(bit(d.erq, ch) && p.requested(ch)) {
		return false
	}
	if bit(p.held, ch) && regs.IterCount(d.loadTCD(ch).CITER) == 1 &&
		!regs.CSRFlag(csr, regs.CSRESG) {
		return false
	}
	return true
}

// arbitrate selects the channel to service with fixed-priority arbitration:
// the higher group first, then the higher channel priority within it.
func (p *Platform) arbitrate() int {
	d := &p.dma
	best, bestScore := -1, -1
	for ch := 0; ch < d.channels; ch++ {
		if !p.eligible(ch) {
			continue
		}
		group := ch / regs.ChannelsPerGroup
		score := int(d.groupPriority(group))<<4 | int(regs.DCHPRICHPRI.Get(uint32(d.pri[ch])))
		if score > bestScore {
			best, bestScore = ch, score
		}
	}
	return best
}

// priorityConflict returns the error bit to latch when ch cannot be
// arbitrated unambiguously, or -1.
func (p *Platform) priorityConflict(ch int) int {
	d := &p.dma
	if d.channels > regs.ChannelsPerGroup && d.groupPriority(0) == d.groupPriority(1) {
		return regs.ESGPE
	}
	level := regs.DCHPRICHPRI.Get(uint32(d.pri[ch]))
	group := ch / regs.ChannelsPerGroup
	for other := group * regs.ChannelsPerGroup; other < d.channels && other < (group+1)*regs.ChannelsPerGroup; other++ {
		if other == ch {
			continue
		}
		active := bit(d.erq, other) || bit(d.started, other) ||
			regs.CSRFlag(d.csr(other), regs.CSRSTART)
		if active && regs.DCHPRICHPRI.Get(uint32(d.pri[other])) == level {
			return regs.ESCPE
		}
	}
	return -1
}

// configError validates a descriptor before its minor loop runs. Returns
// the ES bit to latch, or -1.
func (p *Platform) configError(t *regs.TCD) int {
	ssz := regs.SizeBytes(t.ATTR.SSIZE())
	dsz := regs.SizeBytes(t.ATTR.DSIZE())
	switch {
	case ssz == 0:
		return regs.ESSAE
	case dsz == 0:
		return regs.ESDAE
	}
	nbytes, _, _, _ := p.decodeNBytes(t.NBYTES)
	if nbytes == 0 || int(nbytes)%ssz != 0 || int(nbytes)%dsz != 0 {
		return regs.ESNCE
	}
	if regs.IterCount(t.CITER) == 0 ||
		(t.CITER^t.BITER)&(1<<regs.CITERELINK) != 0 {
		return regs.ESNCE
	}
	switch {
	case int(t.SADDR)%ssz != 0:
		return regs.ESSAE
	case int(t.SOFF)%ssz != 0:
		return regs.ESSOE
	case int(t.DADDR)%dsz != 0:
		return regs.ESDAE
	case int(t.DOFF)%dsz != 0:
		return regs.ESDOE
	}
	if regs.CSRFlag(t.CSR, regs.CSRESG) && uint32(t.DLASTSGA)%regs.TCDSize != 0 {
		return regs.ESSGE
	}
	return -1
}

func (p *Platform) decodeNBytes(v uint32) (uint32, int32, bool, bool) {
	if !p.dma.minorLoopMapping() {
		return v, 0, false, false
	}
	return regs.DecodeNBytes(v)
}

// service runs one minor loop of channel ch. Reports whether the channel
// made progress.
func (p *Platform) service(ch int) bool {
	d := &p.dma
	if kind := p.priorityConflict(ch); kind >= 0 {
		p.fail(ch, kind)
		return true
	}
	t := d.loadTCD(ch)
	if kind := p.configError(&t); kind >= 0 {
		p.fail(ch, kind)
		return true
	}
	if bit(p.stallCancel, ch) {
		d.setCSR(ch, t.CSR|1<<regs.CSRACTIVE)
		return false
	}
	if regs.CSRFlag(t.CSR, regs.CSRSTART) {
		t.CSR &^= 1 << regs.CSRSTART
		d.started |= 1 << uint(ch)
	}
	t.CSR &^= 1 << regs.CSRDONE

	if f, ok := p.faults[ch]; ok {
		if f.after == 0 {
			delete(p.faults, ch)
			d.storeTCD(ch, &t)
			if f.dest {
				p.fail(ch, regs.ESDBE)
			} else {
				p.fail(ch, regs.ESSBE)
			}
			return true
		}
		f.after--
	}

	nbytes, mloff, smloe, dmloe := p.decodeNBytes(t.NBYTES)
	ssz := regs.SizeBytes(t.ATTR.SSIZE())
	dsz := regs.SizeBytes(t.ATTR.DSIZE())
	data := make([]byte, nbytes)

	saddr := t.SADDR
	for i := 0; i < int(nbytes); i += ssz {
		if !p.busRead(saddr, data[i:i+ssz]) {
			d.storeTCD(ch, &t)
			p.fail(ch, regs.ESSBE)
			return true
		}
		saddr = advance(saddr, int32(t.SOFF), t.ATTR.SMOD())
	}
	daddr := t.DADDR
	for i := 0; i < int(nbytes); i += dsz {
		if !p.busWrite(daddr, data[i:i+dsz]) {
			d.storeTCD(ch, &t)
			p.fail(ch, regs.ESDBE)
			return true
		}
		daddr = advance(daddr, int32(t.DOFF), t.ATTR.DMOD())
	}
	if smloe {
		saddr += uint32(mloff)
	}
	if dmloe {
		daddr += uint32(mloff)
	}
	t.SADDR, t.DADDR = saddr, daddr

	citer := regs.IterCount(t.CITER) - 1
	if t.CITER&(1<<regs.CITERELINK) != 0 {
		t.CITER = uint16(regs.CITERITERELINK.Set(uint32(t.CITER), uint32(citer)))
	} else {
		t.CITER = uint16(regs.CITERITER.Set(uint32(t.CITER), uint32(citer)))
	}

	if citer > 0 {
		if regs.CSRFlag(t.CSR, regs.CSRINTHALF) && citer == regs.IterCount(t.BITER)/2 {
			d.intr |= 1 << uint(ch)
			p.raise(ch)
		}
		d.storeTCD(ch, &t)
		return true
	}
	p.majorComplete(ch, &t)
	return true
}

// majorComplete applies the end-of-major-loop actions and stores the
// resulting descriptor.
func (p *Platform) majorComplete(ch int, t *regs.TCD) {
	d := &p.dma
	d.started &^= 1 << uint(ch)
	if regs.CSRFlag(t.CSR, regs.CSRINTMAJOR) {
		d.intr |= 1 << uint(ch)
		p.raise(ch)
	}
	if regs.CSRFlag(t.CSR, regs.CSRDREQ) {
		d.erq &^= 1 << uint(ch)
	}
	if regs.CSRFlag(t.CSR, regs.CSRMAJORELINK) {
		link := int(regs.CSRMAJORLINKCH.Get(uint32(t.CSR)))
		if link < d.channels {
			d.setCSR(link, d.csr(link)|1<<regs.CSRSTART)
		}
	}

	if regs.CSRFlag(t.CSR, regs.CSRESG) {
		img := make([]byte, regs.TCDSize)
		var next regs.TCD
		if !p.busRead(uint32(t.DLASTSGA), img) || !regs.ParseTCD(img, &next) {
			t.CITER = t.BITER
			d.storeTCD(ch, t)
			p.fail(ch, regs.ESSGE)
			return
		}
		if regs.CSRFlag(next.CSR, regs.CSRSTART) {
			d.started |= 1 << uint(ch)
		}
		next.CSR &^= 1<<regs.CSRACTIVE | 1<<regs.CSRDONE
		d.storeTCD(ch, &next)
		return
	}

	t.SADDR += uint32(t.SLAST)
	t.DADDR += uint32(t.DLASTSGA)
	t.CITER = t.BITER
	t.CSR |= 1 << regs.CSRDONE
	t.CSR &^= 1 << regs.CSRACTIVE
	d.storeTCD(ch, t)
}

// fail latches a hardware error against ch and stops the channel.
func (p *Platform) fail(ch, kind int) {
	d := &p.dma
	d.err |= 1 << uint(ch)
	d.es = 1<<regs.ESVLD | regs.ESERRCHN.Set(0, uint32(ch)) | 1<<uint(kind)
	d.erq &^= 1 << uint(ch)
	d.started &^= 1 << uint(ch)
	d.setCSR(ch, d.csr(ch)&^(1<<regs.CSRACTIVE|1<<regs.CSRSTART))
	if bit(d.eei, ch) {
		p.raise(ch)
	}
}

// drain runs ch to the end of its chain regardless of request state.
func (p *Platform) drain(ch int) {
	d := &p.dma
	for i := 0; i < 1<<20; i++ {
		if bit(d.err, ch) || regs.CSRFlag(d.csr(ch), regs.CSRDONE) {
			return
		}
		p.service(ch)
	}
}

// busRead performs one source read of len(dst) bytes at addr.
func (p *Platform) busRead(addr uint32, dst []byte) bool {
	if b := p.mem.span(addr, len(dst)); b != nil {
		copy(dst, b)
		return true
	}
	if s, off, ok := p.spiAt(addr); ok && len(dst) <= 4 {
		v := s.read32(off &^ 3)
		writeLE(dst, v>>((off&3)*8))
		return true
	}
	return false
}

// busWrite performs one destination write of len(src) bytes at addr.
func (p *Platform) busWrite(addr uint32, src []byte) bool {
	if b := p.mem.span(addr, len(src)); b != nil {
		copy(b, src)
		return true
	}
	if s, off, ok := p.spiAt(addr); ok && len(src) <= 4 {
		s.write32(off&^3, readLE(src))
		return true
	}
	return false
}

// advance applies a signed offset to addr, wrapping within a 2^mod byte
// window when mod is nonzero.
func advance(addr uint32, off int32, mod uint8) uint32 {
	next := addr + uint32(off)
	if mod == 0 {
		return next
	}
	mask := uint32(1)<<mod - 1
	return (addr &^ mask) | (next & mask)
}

func readLE(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func writeLE(b []byte, v uint32) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

func widthMask(width int) uint32 {
	if width >= 4 {
		return 0xFFFF_FFFF
	}
	return 1<<(8*width) - 1
}
