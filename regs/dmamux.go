package regs

// DMAMUX channel configuration register layout. One 32-bit CHCFG register
// per DMA channel at offset 4*ch.
const (
	CHCFGAON  = 29 // DMA Channel Always Enable
	CHCFGTRIG = 30 // DMA Channel Trigger Enable (periodic trigger mode)
	CHCFGENBL = 31 // DMA Mux Channel Enable
)

// CHCFGSOURCE selects the DMA request slot routed to the channel.
var CHCFGSOURCE = Field{Pos: 0, Bits: 7}

// MaxSourceSlot is the largest encodable request slot number.
const MaxSourceSlot = 1<<7 - 1

// Request slots of the reference part. Serial engine n requests on
// SlotLPSPI1RX+2n for receive and SlotLPSPI1TX+2n for transmit.
const (
	SlotDisabled = 0
	SlotLPSPI1RX = 13
	SlotLPSPI1TX = 14
	SlotLPSPI2RX = 15
	SlotLPSPI2TX = 16
	SlotAlwaysOn = 54
)

// MuxConfig is a decoded CHCFG register.
type MuxConfig struct {
	Source   uint8
	AlwaysOn bool
	Trigger  bool
	Enable   bool
}

// Encode returns the CHCFG word for c.
func (c MuxConfig) Encode() uint32 {
	v := CHCFGSOURCE.Set(0, uint32(c.Source))
	v = setBit(v, CHCFGAON, c.AlwaysOn)
	v = setBit(v, CHCFGTRIG, c.Trigger)
	v = setBit(v, CHCFGENBL, c.Enable)
	return v
}

// DecodeMuxConfig decodes a CHCFG word.
func DecodeMuxConfig(v uint32) MuxConfig {
	return MuxConfig{
		Source:   uint8(CHCFGSOURCE.Get(v)),
		AlwaysOn: v&(1<<CHCFGAON) != 0,
		Trigger:  v&(1<<CHCFGTRIG) != 0,
		Enable:   v&(1<<CHCFGENBL) != 0,
	}
}

// Mux is the register view of the DMA request multiplexer.
type Mux struct {
	bus Bus
}

// NewMux returns a register view over bus.
func NewMux(bus Bus) *Mux {
	return &Mux{bus: bus}
}

// Config returns channel ch's routing configuration.
func (m *Mux) Config(ch int) MuxConfig {
	return DecodeMuxConfig(m.bus.Read32(uint32(ch) * 4))
}

// Configure routes source to channel ch. The channel is disabled before the
// source changes, as the multiplexer requires.
func (m *Mux) Configure(ch int, c MuxConfig) {
	m.bus.Write32(uint32(ch)*4, 0)
	m.bus.Write32(uint32(ch)*4, c.Encode())
}

// Disable clears channel ch's routing.
func (m *Mux) Disable(ch int) {
	m.bus.Write32(uint32(ch)*4, 0)
}
