package sim

import (
	"github.com/ardnew/softdma/regs"
)

const spiVersion = 0x0102_0004

// spiState models one serial engine with transmit and receive FIFOs. In
// loopback mode every word shifted out is shifted back in, as if SDO were
// wired to SDI.
type spiState struct {
	log2     uint8
	depth    int
	loopback bool

	cr, ier, der, cfgr0, cfgr1, ccr, fcr, tcr uint32
	flags                                     uint32 // latched SR flags

	tx, rx []uint32
}

func newSPIState(log2 uint8, loopback bool) *spiState {
	s := &spiState{log2: log2, depth: 1 << log2, loopback: loopback}
	s.reset()
	return s
}

func (s *spiState) reset() {
	s.cr, s.ier, s.der, s.cfgr0, s.cfgr1, s.ccr, s.fcr = 0, 0, 0, 0, 0, 0, 0
	s.tcr = regs.SPITCRFRAMESZ.Set(0, 31)
	s.flags = 0
	s.tx = s.tx[:0]
	s.rx = s.rx[:0]
}

func (s *spiState) enabled() bool {
	return s.cr&(1<<regs.SPICRMEN) != 0
}

func (s *spiState) txRequest() bool {
	return s.der&(1<<regs.SPIDERTDDE) != 0 &&
		len(s.tx) < s.depth &&
		len(s.tx) <= int(regs.SPIFCRTXWATER.Get(s.fcr))
}

func (s *spiState) rxRequest() bool {
	return s.der&(1<<regs.SPIDERRDDE) != 0 &&
		len(s.rx) > int(regs.SPIFCRRXWATER.Get(s.fcr))
}

func (s *spiState) status() uint32 {
	sr := s.flags
	if len(s.tx) <= int(regs.SPIFCRTXWATER.Get(s.fcr)) {
		sr |= 1 << regs.SPISRTDF
	}
	if len(s.rx) > int(regs.SPIFCRRXWATER.Get(s.fcr)) {
		sr |= 1 << regs.SPISRRDF
	}
	if s.enabled() && len(s.tx) > 0 {
		sr |= 1 << regs.SPISRMBF
	}
	return sr
}

func (s *spiState) read32(off uint32) uint32 {
	switch off {
	case regs.SPIVERID:
		return spiVersion
	case regs.SPIPARAM:
		v := regs.SPIPARAMTXFIFO.Set(0, uint32(s.log2))
		return regs.SPIPARAMRXFIFO.Set(v, uint32(s.log2))
	case regs.SPICR:
		return s.cr
	case regs.SPISR:
		return s.status()
	case regs.SPIIER:
		return s.ier
	case regs.SPIDER:
		return s.der
	case regs.SPICFGR0:
		return s.cfgr0
	case regs.SPICFGR1:
		return s.cfgr1
	case regs.SPICCR:
		return s.ccr
	case regs.SPIFCR:
		return s.fcr
	case regs.SPIFSR:
		v := regs.SPIFSRTXCOUNT.Set(0, uint32(len(s.tx)))
		return regs.SPIFSRRXCOUNT.Set(v, uint32(len(s.rx)))
	case regs.SPITCR:
		return s.tcr
	case regs.SPIRSR:
		if len(s.rx) == 0 {
			return 1 << 1 // RXEMPTY
		}
		return 0
	case regs.SPIRDR:
		if len(s.rx) == 0 {
			return 0
		}
		w := s.rx[0]
		s.rx = s.rx[1:]
		return w
	default:
		return 0
	}
}

func (s *spiState) write32(off, v uint32) {
	switch off {
	case regs.SPICR:
		if v&(1<<regs.SPICRRST) != 0 {
			s.reset()
		}
		if v&(1<<regs.SPICRRTF) != 0 {
			s.tx = s.tx[:0]
		}
		if v&(1<<regs.SPICRRRF) != 0 {
			s.rx = s.rx[:0]
		}
		s.cr = v &^ (1<<regs.SPICRRST | 1<<regs.SPICRRTF | 1<<regs.SPICRRRF)
	case regs.SPISR:
		s.flags &^= v & regs.SPISRClearable
	case regs.SPIIER:
		s.ier = v
	case regs.SPIDER:
		s.der = v
	case regs.SPICFGR0:
		s.cfgr0 = v
	case regs.SPICFGR1:
		s.cfgr1 = v
	case regs.SPICCR:
		s.ccr = v
	case regs.SPIFCR:
		s.fcr = v
	case regs.SPITCR:
		s.tcr = v
	case regs.SPITDR:
		if len(s.tx) >= s.depth {
			s.flags |= 1 << regs.SPISRTEF
			return
		}
		s.tx = append(s.tx, v)
	}
}

// shift moves one word out of the transmit FIFO. Reports whether a word
// was shifted.
func (s *spiState) shift() bool {
	if !s.enabled() || len(s.tx) == 0 {
		return false
	}
	w := s.tx[0]
	s.tx = s.tx[1:]
	frame := regs.SPITCRFRAMESZ.Get(s.tcr) + 1
	if frame < 32 {
		w &= 1<<frame - 1
	}
	s.flags |= 1 << regs.SPISRWCF
	if s.loopback && s.tcr&(1<<regs.SPITCRRXMSK) == 0 {
		if len(s.rx) >= s.depth {
			s.flags |= 1 << regs.SPISRREF
		} else {
			s.rx = append(s.rx, w)
		}
	}
	if len(s.tx) == 0 {
		s.flags |= 1<<regs.SPISRFCF | 1<<regs.SPISRTCF
	}
	return true
}
