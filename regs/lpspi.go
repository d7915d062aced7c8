package regs

// LPSPI register offsets from the peripheral base.
const (
	SPIVERID = 0x00
	SPIPARAM = 0x04
	SPICR    = 0x10
	SPISR    = 0x14
	SPIIER   = 0x18
	SPIDER   = 0x1C
	SPICFGR0 = 0x20
	SPICFGR1 = 0x24
	SPIDMR0  = 0x30
	SPIDMR1  = 0x34
	SPICCR   = 0x40
	SPIFCR   = 0x58
	SPIFSR   = 0x5C
	SPITCR   = 0x60
	SPITDR   = 0x64
	SPIRSR   = 0x70
	SPIRDR   = 0x74
)

// CR bit positions.
const (
	SPICRMEN   = 0 // Module Enable
	SPICRRST   = 1 // Software Reset
	SPICRDOZEN = 2
	SPICRDBGEN = 3
	SPICRRTF   = 8 // Reset Transmit FIFO
	SPICRRRF   = 9 // Reset Receive FIFO
)

// SR bit positions. Flags other than TDF, RDF and MBF are write-1-to-clear.
const (
	SPISRTDF = 0  // Transmit Data Flag
	SPISRRDF = 1  // Receive Data Flag
	SPISRWCF = 8  // Word Complete Flag
	SPISRFCF = 9  // Frame Complete Flag
	SPISRTCF = 10 // Transfer Complete Flag
	SPISRTEF = 11 // Transmit Error Flag (underrun)
	SPISRREF = 12 // Receive Error Flag (overrun)
	SPISRDMF = 13 // Data Match Flag
	SPISRMBF = 24 // Module Busy Flag
)

// SPISRClearable is the mask of write-1-to-clear status flags.
const SPISRClearable = 1<<SPISRWCF | 1<<SPISRFCF | 1<<SPISRTCF | 1<<SPISRTEF | 1<<SPISRREF | 1<<SPISRDMF

// DER bit positions.
const (
	SPIDERTDDE = 0 // Transmit Data DMA Enable
	SPIDERRDDE = 1 // Receive Data DMA Enable
)

// CFGR1 bit positions.
const (
	SPICFGR1MASTER  = 0
	SPICFGR1SAMPLE  = 1
	SPICFGR1AUTOPCS = 2
	SPICFGR1NOSTALL = 3
)

// PARAM fields: log2 of the FIFO depths in words.
var (
	SPIPARAMTXFIFO = Field{Pos: 0, Bits: 8}
	SPIPARAMRXFIFO = Field{Pos: 8, Bits: 8}
)

// FIFO depth bounds, as log2 of the depth in words. The FSR count fields
// report at most 16 words.
const (
	MaxFIFOLog2     = 4
	DefaultFIFOLog2 = 4
)

// FCR and FSR fields.
var (
	SPIFCRTXWATER = Field{Pos: 0, Bits: 8}
	SPIFCRRXWATER = Field{Pos: 16, Bits: 8}
	SPIFSRTXCOUNT = Field{Pos: 0, Bits: 5}
	SPIFSRRXCOUNT = Field{Pos: 16, Bits: 5}
)

// CCR fields.
var (
	SPICCRSCKDIV = Field{Pos: 0, Bits: 8}
	SPICCRDBT    = Field{Pos: 8, Bits: 8}
	SPICCRPCSSCK = Field{Pos: 16, Bits: 8}
	SPICCRSCKPCS = Field{Pos: 24, Bits: 8}
)

// TCR bit positions and fields.
const (
	SPITCRTXMSK = 18
	SPITCRRXMSK = 19
	SPITCRCONTC = 20
	SPITCRCONT  = 21
	SPITCRBYSW  = 22
	SPITCRLSBF  = 23
	SPITCRCPHA  = 30
	SPITCRCPOL  = 31
)

// TCR fields.
var (
	SPITCRFRAMESZ  = Field{Pos: 0, Bits: 12}
	SPITCRWIDTH    = Field{Pos: 16, Bits: 2}
	SPITCRPCS      = Field{Pos: 24, Bits: 2}
	SPITCRPRESCALE = Field{Pos: 27, Bits: 3}
)

// TransmitCommand is a decoded TCR word. FrameSize is in bits.
type TransmitCommand struct {
	FrameSize  uint16
	Prescale   uint8
	ChipSelect uint8
	CPOL       bool
	CPHA       bool
	LSBFirst   bool
	ByteSwap   bool
	Continuous bool
	TxMask     bool
	RxMask     bool
}

// Encode returns the TCR word for c. FRAMESZ holds the frame size minus one.
func (c TransmitCommand) Encode() uint32 {
	var v uint32
	if c.FrameSize > 0 {
		v = SPITCRFRAMESZ.Set(v, uint32(c.FrameSize-1))
	}
	v = SPITCRPRESCALE.Set(v, uint32(c.Prescale))
	v = SPITCRPCS.Set(v, uint32(c.ChipSelect))
	v = setBit(v, SPITCRCPOL, c.CPOL)
	v = setBit(v, SPITCRCPHA, c.CPHA)
	v = setBit(v, SPITCRLSBF, c.LSBFirst)
	v = setBit(v, SPITCRBYSW, c.ByteSwap)
	v = setBit(v, SPITCRCONT, c.Continuous)
	v = setBit(v, SPITCRTXMSK, c.TxMask)
	v = setBit(v, SPITCRRXMSK, c.RxMask)
	return v
}

// DecodeTransmitCommand decodes a TCR word.
func DecodeTransmitCommand(v uint32) TransmitCommand {
	return TransmitCommand{
		FrameSize:  uint16(SPITCRFRAMESZ.Get(v)) + 1,
		Prescale:   uint8(SPITCRPRESCALE.Get(v)),
		ChipSelect: uint8(SPITCRPCS.Get(v)),
		CPOL:       v&(1<<SPITCRCPOL) != 0,
		CPHA:       v&(1<<SPITCRCPHA) != 0,
		LSBFirst:   v&(1<<SPITCRLSBF) != 0,
		ByteSwap:   v&(1<<SPITCRBYSW) != 0,
		Continuous: v&(1<<SPITCRCONT) != 0,
		TxMask:     v&(1<<SPITCRTXMSK) != 0,
		RxMask:     v&(1<<SPITCRRXMSK) != 0,
	}
}

// LPSPI is the register view of one serial engine instance.
type LPSPI struct {
	bus  Bus
	base uint32
}

// NewLPSPI returns a register view over bus. base is the physical address of
// the block, used to derive DMA endpoint addresses for TDR and RDR.
func NewLPSPI(bus Bus, base uint32) *LPSPI {
	return &LPSPI{bus: bus, base: base}
}

// TDRAddr returns the physical address of the transmit data register.
func (s *LPSPI) TDRAddr() uint32 { return s.base + SPITDR }

// RDRAddr returns the physical address of the receive data register.
func (s *LPSPI) RDRAddr() uint32 { return s.base + SPIRDR }

// FIFODepth returns the transmit and receive FIFO depths in words.
func (s *LPSPI) FIFODepth() (tx, rx int) {
	p := s.bus.Read32(SPIPARAM)
	return 1 << SPIPARAMTXFIFO.Get(p), 1 << SPIPARAMRXFIFO.Get(p)
}

// FIFOCount returns the current transmit and receive FIFO occupancy.
func (s *LPSPI) FIFOCount() (tx, rx int) {
	f := s.bus.Read32(SPIFSR)
	return int(SPIFSRTXCOUNT.Get(f)), int(SPIFSRRXCOUNT.Get(f))
}

// Reset performs a software reset and flushes both FIFOs.
func (s *LPSPI) Reset() {
	s.bus.Write32(SPICR, 1<<SPICRRST|1<<SPICRRTF|1<<SPICRRRF)
	s.bus.Write32(SPICR, 0)
}

// FlushFIFOs empties both FIFOs without disturbing the configuration.
func (s *LPSPI) FlushFIFOs() {
	s.bus.Write32(SPICR, s.bus.Read32(SPICR)|1<<SPICRRTF|1<<SPICRRRF)
}

// Enable sets or clears CR[MEN].
func (s *LPSPI) Enable(on bool) {
	s.bus.Write32(SPICR, setBit(s.bus.Read32(SPICR), SPICRMEN, on))
}

// SetMaster configures master mode.
func (s *LPSPI) SetMaster(master bool) {
	s.bus.Write32(SPICFGR1, setBit(s.bus.Read32(SPICFGR1), SPICFGR1MASTER, master))
}

// SetClock writes the clock configuration register.
func (s *LPSPI) SetClock(sckdiv, dbt uint8) {
	v := SPICCRSCKDIV.Set(0, uint32(sckdiv))
	v = SPICCRDBT.Set(v, uint32(dbt))
	s.bus.Write32(SPICCR, v)
}

// SetWatermarks writes the FIFO watermarks. The transmit request asserts
// while TXCOUNT <= tx; the receive request asserts while RXCOUNT > rx.
func (s *LPSPI) SetWatermarks(tx, rx uint8) {
	v := SPIFCRTXWATER.Set(0, uint32(tx))
	v = SPIFCRRXWATER.Set(v, uint32(rx))
	s.bus.Write32(SPIFCR, v)
}

// EnableDMA sets the transmit and receive DMA request enables.
func (s *LPSPI) EnableDMA(tx, rx bool) {
	v := setBit(0, SPIDERTDDE, tx)
	v = setBit(v, SPIDERRDDE, rx)
	s.bus.Write32(SPIDER, v)
}

// SetCommand writes the transmit command register.
func (s *LPSPI) SetCommand(c TransmitCommand) {
	s.bus.Write32(SPITCR, c.Encode())
}

// Status returns the status register.
func (s *LPSPI) Status() uint32 { return s.bus.Read32(SPISR) }

// ClearStatus clears the write-1-to-clear flags in mask.
func (s *LPSPI) ClearStatus(mask uint32) {
	s.bus.Write32(SPISR, mask&SPISRClearable)
}

// WriteData pushes one word into the transmit FIFO.
func (s *LPSPI) WriteData(v uint32) { s.bus.Write32(SPITDR, v) }

// ReadData pops one word from the receive FIFO.
func (s *LPSPI) ReadData() uint32 { return s.bus.Read32(SPIRDR) }
