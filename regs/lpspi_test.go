package regs

import "testing"

func TestMuxConfig(t *testing.T) {
	c := MuxConfig{Source: 13, Enable: true}
	v := c.Encode()
	if v != 1<<31|13 {
		t.Fatalf("Encode() = %#x, want %#x", v, uint32(1<<31|13))
	}
	if got := DecodeMuxConfig(v | 1<<CHCFGAON); !got.AlwaysOn || got.Source != 13 || !got.Enable || got.Trigger {
		t.Errorf("DecodeMuxConfig() = %+v", got)
	}
}

func TestTransmitCommand(t *testing.T) {
	c := TransmitCommand{FrameSize: 8, Prescale: 2, CPOL: true, Continuous: true}
	v := c.Encode()
	if SPITCRFRAMESZ.Get(v) != 7 {
		t.Errorf("FRAMESZ = %d, want 7", SPITCRFRAMESZ.Get(v))
	}
	if got := DecodeTransmitCommand(v); got != c {
		t.Errorf("DecodeTransmitCommand() = %+v, want %+v", got, c)
	}
}

// regFile is a minimal Bus over a byte slice.
type regFile []byte

func (r regFile) Read8(off uint32) uint8       { return r[off] }
func (r regFile) Write8(off uint32, v uint8)   { r[off] = v }
func (r regFile) Read16(off uint32) uint16     { return uint16(r[off]) | uint16(r[off+1])<<8 }
func (r regFile) Write16(off uint32, v uint16) { r[off], r[off+1] = byte(v), byte(v>>8) }
func (r regFile) Read32(off uint32) uint32 {
	return uint32(r.Read16(off)) | uint32(r.Read16(off+2))<<16
}
func (r regFile) Write32(off uint32, v uint32) {
	r.Write16(off, uint16(v))
	r.Write16(off+2, uint16(v>>16))
}

func TestLPSPIView(t *testing.T) {
	rf := make(regFile, 0x80)
	rf.Write32(SPIPARAM, 4|4<<8)
	rf.Write32(SPIFSR, 3|9<<16)

	s := NewLPSPI(rf, 0x4039_4000)
	if s.TDRAddr() != 0x4039_4064 || s.RDRAddr() != 0x4039_4074 {
		t.Errorf("data register addresses = %#x %#x", s.TDRAddr(), s.RDRAddr())
	}
	if tx, rx := s.FIFODepth(); tx != 16 || rx != 16 {
		t.Errorf("FIFODepth() = %d, %d, want 16, 16", tx, rx)
	}
	if tx, rx := s.FIFOCount(); tx != 3 || rx != 9 {
		t.Errorf("FIFOCount() = %d, %d, want 3, 9", tx, rx)
	}

	s.SetWatermarks(2, 5)
	if v := rf.Read32(SPIFCR); v != 2|5<<16 {
		t.Errorf("FCR = %#x", v)
	}
	s.EnableDMA(true, true)
	if v := rf.Read32(SPIDER); v != 3 {
		t.Errorf("DER = %#x, want 3", v)
	}

	s.Enable(true)
	s.FlushFIFOs()
	if v := rf.Read32(SPICR); v != 1<<SPICRMEN|1<<SPICRRTF|1<<SPICRRRF {
		t.Errorf("CR = %#x, enable lost on flush", v)
	}
}

func TestEDMAViewCommands(t *testing.T) {
	rf := make(regFile, 0x2000)
	d := NewEDMA(rf)

	d.ClearDone(5)
	if rf[OffsetCDNE] != 5 {
		t.Errorf("CDNE = %#x, want 5", rf[OffsetCDNE])
	}
	d.ClearAllErrors()
	if rf[OffsetCERR] != CmdAll {
		t.Errorf("CERR = %#x, want CAER", rf[OffsetCERR])
	}

	d.SetPriority(6, ChannelPriority{Level: 6})
	if got := d.Priority(6).Level; got != 6 {
		t.Errorf("Priority(6).Level = %d", got)
	}

	tcd := TCD{SADDR: 1, DADDR: 2, NBYTES: 4, CITER: 1, BITER: 1, CSR: 1 << CSRSTART}
	d.TCD(2).Store(&tcd)
	var got TCD
	d.TCD(2).Load(&got)
	if got != tcd {
		t.Errorf("TCD round trip = %+v, want %+v", got, tcd)
	}
	if d.TCD(2).CSR() != 1<<CSRSTART {
		t.Errorf("CSR() = %#x", d.TCD(2).CSR())
	}
}
