package regs

import "encoding/binary"

// =============================================================================
// Controller Register Offsets
// =============================================================================

// eDMA register offsets from the controller base.
const (
	OffsetCR     = 0x000 // Control
	OffsetES     = 0x004 // Error Status
	OffsetERQ    = 0x00C // Enable Request
	OffsetEEI    = 0x014 // Enable Error Interrupt
	OffsetCEEI   = 0x018 // Clear Enable Error Interrupt (8-bit)
	OffsetSEEI   = 0x019 // Set Enable Error Interrupt (8-bit)
	OffsetCERQ   = 0x01A // Clear Enable Request (8-bit)
	OffsetSERQ   = 0x01B // Set Enable Request (8-bit)
	OffsetCDNE   = 0x01C // Clear DONE Status (8-bit)
	OffsetSSRT   = 0x01D // Set START (8-bit)
	OffsetCERR   = 0x01E // Clear Error (8-bit)
	OffsetCINT   = 0x01F // Clear Interrupt Request (8-bit)
	OffsetINT    = 0x024 // Interrupt Request
	OffsetERR    = 0x02C // Error
	OffsetHRS    = 0x034 // Hardware Request Status
	OffsetEARS   = 0x044 // Enable Asynchronous Request in Stop
	OffsetDCHPRI = 0x100 // Channel Priority array base (8-bit each)
	OffsetTCD    = 0x1000
)

// TCDSize is the size of one transfer control descriptor in bytes. TCDs
// loaded by scatter/gather must be aligned to this size.
const TCDSize = 32

// MaxChannels is the largest channel count the 5-bit ERRCHN field can name.
const MaxChannels = 32

// ChannelsPerGroup is the number of channels sharing one fixed-priority
// arbitration group.
const ChannelsPerGroup = 16

// =============================================================================
// CR - Control Register
// =============================================================================

// CR bit positions.
const (
	CREDBG    = 1  // Enable Debug
	CRERCA    = 2  // Enable Round Robin Channel Arbitration
	CRERGA    = 3  // Enable Round Robin Group Arbitration
	CRHOE     = 4  // Halt On Error
	CRHALT    = 5  // Halt DMA Operations
	CRCLM     = 6  // Continuous Link Mode
	CREMLM    = 7  // Enable Minor Loop Mapping
	CRECX     = 16 // Error Cancel Transfer
	CRCX      = 17 // Cancel Transfer
	CRACTIVE  = 31 // DMA Active Status
	crGRP0PRI = 8
	crGRP1PRI = 10
)

// CR priority fields for the two channel groups.
var (
	CRGRP0PRI = Field{Pos: crGRP0PRI, Bits: 1}
	CRGRP1PRI = Field{Pos: crGRP1PRI, Bits: 1}
)

// =============================================================================
// ES - Error Status Register
// =============================================================================

// ES bit positions.
const (
	ESDBE = 0  // Destination Bus Error
	ESSBE = 1  // Source Bus Error
	ESSGE = 2  // Scatter/Gather Configuration Error
	ESNCE = 3  // NBYTES/CITER Configuration Error
	ESDOE = 4  // Destination Offset Error
	ESDAE = 5  // Destination Address Error
	ESSOE = 6  // Source Offset Error
	ESSAE = 7  // Source Address Error
	ESCPE = 14 // Channel Priority Error
	ESGPE = 15 // Group Priority Error
	ESECX = 16 // Transfer Canceled
	ESVLD = 31 // Logical OR of all ERR status bits
)

// ESERRCHN is the 5-bit channel number of the last recorded error.
var ESERRCHN = Field{Pos: 8, Bits: 5}

// ErrorStatus is a decoded view of the ES register.
type ErrorStatus uint32

// Has reports whether bit pos is set.
func (e ErrorStatus) Has(pos uint8) bool {
	return uint32(e)&(1<<pos) != 0
}

// Channel returns the channel number of the last recorded error.
func (e ErrorStatus) Channel() int {
	return int(ESERRCHN.Get(uint32(e)))
}

// Valid reports whether any error is latched.
func (e ErrorStatus) Valid() bool {
	return e.Has(ESVLD)
}

// =============================================================================
// Command Registers (CEEI, SEEI, CERQ, SERQ, CDNE, SSRT, CERR, CINT)
// =============================================================================

// Command register fields. Writing a channel number to the low bits affects
// that channel only; the "all" bit applies the command to every channel.
const (
	CmdChannelMask = 0x1F
	CmdAll         = 1 << 6 // CAEE/SAEE/CAER/SAER/CADN/SAST/CAEI/CAIR
	CmdNOP         = 1 << 7
)

// =============================================================================
// DCHPRI - Channel Priority Registers
// =============================================================================

// DCHPRI bit positions and fields.
const (
	DCHPRIDPA = 6 // Disable Preempt Ability
	DCHPRIECP = 7 // Enable Channel Preemption
)

// DCHPRI fields.
var (
	DCHPRICHPRI  = Field{Pos: 0, Bits: 4}
	DCHPRIGRPPRI = Field{Pos: 4, Bits: 2}
)

// DCHPRIOffset returns the byte offset of channel ch's priority register.
// Registers are byte-reversed within each 32-bit word.
func DCHPRIOffset(ch int) uint32 {
	return OffsetDCHPRI + uint32(ch^3)
}

// ChannelPriority is a decoded DCHPRI register.
type ChannelPriority struct {
	Level       uint8 // CHPRI, unique within a group
	Group       uint8 // GRPPRI, read-only
	Preemptible bool  // ECP
	NoPreempt   bool  // DPA
}

// Encode returns the DCHPRI byte for p. GRPPRI is read-only and ignored.
func (p ChannelPriority) Encode() uint8 {
	v := DCHPRICHPRI.Set(0, uint32(p.Level))
	v = setBit(v, DCHPRIECP, p.Preemptible)
	v = setBit(v, DCHPRIDPA, p.NoPreempt)
	return uint8(v)
}

// DecodeChannelPriority decodes a DCHPRI byte.
func DecodeChannelPriority(v uint8) ChannelPriority {
	return ChannelPriority{
		Level:       uint8(DCHPRICHPRI.Get(uint32(v))),
		Group:       uint8(DCHPRIGRPPRI.Get(uint32(v))),
		Preemptible: v&(1<<DCHPRIECP) != 0,
		NoPreempt:   v&(1<<DCHPRIDPA) != 0,
	}
}

// =============================================================================
// TCD - Transfer Control Descriptor
// =============================================================================

// TCD word offsets within one descriptor.
const (
	TCDSADDR    = 0x00
	TCDSOFF     = 0x04
	TCDATTR     = 0x06
	TCDNBYTES   = 0x08
	TCDSLAST    = 0x0C
	TCDDADDR    = 0x10
	TCDDOFF     = 0x14
	TCDCITER    = 0x16
	TCDDLASTSGA = 0x18
	TCDCSR      = 0x1C
	TCDBITER    = 0x1E
)

// CSR bit positions.
const (
	CSRSTART      = 0 // Channel Start
	CSRINTMAJOR   = 1 // Interrupt on major iteration count complete
	CSRINTHALF    = 2 // Interrupt on half major iteration count
	CSRDREQ       = 3 // Disable Request on major loop complete
	CSRESG        = 4 // Enable Scatter/Gather
	CSRMAJORELINK = 5 // Enable channel-to-channel linking on major loop complete
	CSRACTIVE     = 6 // Channel Active
	CSRDONE       = 7 // Channel Done
)

// CSR fields.
var (
	CSRMAJORLINKCH = Field{Pos: 8, Bits: 5}
	CSRBWC         = Field{Pos: 14, Bits: 2}
)

// ATTR fields.
var (
	ATTRDSIZE = Field{Pos: 0, Bits: 3}
	ATTRDMOD  = Field{Pos: 3, Bits: 5}
	ATTRSSIZE = Field{Pos: 8, Bits: 3}
	ATTRSMOD  = Field{Pos: 11, Bits: 5}
)

// NBYTES encodings. With CR[EMLM] set, the top two bits enable a signed
// minor-loop offset applied to the source and/or destination address after
// each minor loop; when either is set NBYTES shrinks to 10 bits.
const (
	NBYTESSMLOE = 31
	NBYTESDMLOE = 30
)

// NBYTES fields.
var (
	NBYTESMLOFF   = Field{Pos: 10, Bits: 20}
	NBYTESMLNO    = Field{Pos: 0, Bits: 30}
	NBYTESMLOFFNO = Field{Pos: 0, Bits: 10}
)

// CITER/BITER encodings. With ELINK set the iteration count shrinks to 9
// bits and LINKCH names the channel to link after each minor loop.
const CITERELINK = 15

// CITER/BITER fields.
var (
	CITERITER      = Field{Pos: 0, Bits: 15}
	CITERITERELINK = Field{Pos: 0, Bits: 9}
	CITERLINKCH    = Field{Pos: 9, Bits: 5}
)

// MaxIterations is the largest major iteration count without minor linking.
const MaxIterations = 1<<15 - 1

// MaxNBytes is the largest minor loop byte count with minor loop mapping
// enabled and no minor loop offset.
const MaxNBytes = 1<<30 - 1

// MaxNBytesOffset is the largest minor loop byte count when a minor loop
// offset is in use.
const MaxNBytesOffset = 1<<10 - 1

// Range of the signed 20-bit MLOFF field.
const (
	MinMinorOffset = -1 << 19
	MaxMinorOffset = 1<<19 - 1
)

// Element size codes for SSIZE/DSIZE.
const (
	Size1  = 0
	Size2  = 1
	Size4  = 2
	Size8  = 3
	Size16 = 4
	Size32 = 5
)

// SizeCode returns the SSIZE/DSIZE code for an element of n bytes.
func SizeCode(n int) (uint8, bool) {
	switch n {
	case 1:
		return Size1, true
	case 2:
		return Size2, true
	case 4:
		return Size4, true
	case 8:
		return Size8, true
	case 16:
		return Size16, true
	case 32:
		return Size32, true
	default:
		return 0, false
	}
}

// SizeBytes returns the element size in bytes for an SSIZE/DSIZE code,
// or 0 for a reserved code.
func SizeBytes(code uint8) int {
	if code > Size32 {
		return 0
	}
	return 1 << code
}

// Attr is a TCD ATTR halfword.
type Attr uint16

// MakeAttr encodes the ATTR halfword.
func MakeAttr(smod, ssize, dmod, dsize uint8) Attr {
	v := ATTRSMOD.Set(0, uint32(smod))
	v = ATTRSSIZE.Set(v, uint32(ssize))
	v = ATTRDMOD.Set(v, uint32(dmod))
	v = ATTRDSIZE.Set(v, uint32(dsize))
	return Attr(v)
}

func (a Attr) SMOD() uint8  { return uint8(ATTRSMOD.Get(uint32(a))) }
func (a Attr) SSIZE() uint8 { return uint8(ATTRSSIZE.Get(uint32(a))) }
func (a Attr) DMOD() uint8  { return uint8(ATTRDMOD.Get(uint32(a))) }
func (a Attr) DSIZE() uint8 { return uint8(ATTRDSIZE.Get(uint32(a))) }

// MakeNBytes encodes the NBYTES word assuming CR[EMLM] is set. A zero
// offset with both enables clear uses the 30-bit form.
func MakeNBytes(nbytes uint32, offset int32, srcOffset, dstOffset bool) uint32 {
	if !srcOffset && !dstOffset {
		return NBYTESMLNO.Set(0, nbytes)
	}
	v := NBYTESMLOFFNO.Set(0, nbytes)
	v = NBYTESMLOFF.Set(v, uint32(offset))
	v = setBit(v, NBYTESSMLOE, srcOffset)
	v = setBit(v, NBYTESDMLOE, dstOffset)
	return v
}

// DecodeNBytes splits an NBYTES word encoded with CR[EMLM] set.
func DecodeNBytes(v uint32) (nbytes uint32, offset int32, srcOffset, dstOffset bool) {
	srcOffset = v&(1<<NBYTESSMLOE) != 0
	dstOffset = v&(1<<NBYTESDMLOE) != 0
	if !srcOffset && !dstOffset {
		return NBYTESMLNO.Get(v), 0, false, false
	}
	return NBYTESMLOFFNO.Get(v), signExtend(NBYTESMLOFF.Get(v), NBYTESMLOFF.Bits), srcOffset, dstOffset
}

// IterCount returns the iteration count encoded in a CITER/BITER halfword.
func IterCount(v uint16) uint16 {
	if v&(1<<CITERELINK) != 0 {
		return uint16(CITERITERELINK.Get(uint32(v)))
	}
	return uint16(CITERITER.Get(uint32(v)))
}

// TCD is the in-memory image of one transfer control descriptor.
type TCD struct {
	SADDR    uint32
	SOFF     int16
	ATTR     Attr
	NBYTES   uint32
	SLAST    int32
	DADDR    uint32
	DOFF     int16
	CITER    uint16
	DLASTSGA int32
	CSR      uint16
	BITER    uint16
}

// MarshalTo writes the little-endian hardware image of t to buf.
// Returns the number of bytes written (32), or 0 if buf is too small.
func (t *TCD) MarshalTo(buf []byte) int {
	if len(buf) < TCDSize {
		return 0
	}
	le := binary.LittleEndian
	le.PutUint32(buf[TCDSADDR:], t.SADDR)
	le.PutUint16(buf[TCDSOFF:], uint16(t.SOFF))
	le.PutUint16(buf[TCDATTR:], uint16(t.ATTR))
	le.PutUint32(buf[TCDNBYTES:], t.NBYTES)
	le.PutUint32(buf[TCDSLAST:], uint32(t.SLAST))
	le.PutUint32(buf[TCDDADDR:], t.DADDR)
	le.PutUint16(buf[TCDDOFF:], uint16(t.DOFF))
	le.PutUint16(buf[TCDCITER:], t.CITER)
	le.PutUint32(buf[TCDDLASTSGA:], uint32(t.DLASTSGA))
	le.PutUint16(buf[TCDCSR:], t.CSR)
	le.PutUint16(buf[TCDBITER:], t.BITER)
	return TCDSize
}

// ParseTCD decodes a hardware TCD image into out.
// Returns false if data is too short.
func ParseTCD(data []byte, out *TCD) bool {
	if len(data) < TCDSize {
		return false
	}
	le := binary.LittleEndian
	out.SADDR = le.Uint32(data[TCDSADDR:])
	out.SOFF = int16(le.Uint16(data[TCDSOFF:]))
	out.ATTR = Attr(le.Uint16(data[TCDATTR:]))
	out.NBYTES = le.Uint32(data[TCDNBYTES:])
	out.SLAST = int32(le.Uint32(data[TCDSLAST:]))
	out.DADDR = le.Uint32(data[TCDDADDR:])
	out.DOFF = int16(le.Uint16(data[TCDDOFF:]))
	out.CITER = le.Uint16(data[TCDCITER:])
	out.DLASTSGA = int32(le.Uint32(data[TCDDLASTSGA:]))
	out.CSR = le.Uint16(data[TCDCSR:])
	out.BITER = le.Uint16(data[TCDBITER:])
	return true
}

// CSRFlag reports whether bit pos is set in csr.
func CSRFlag(csr uint16, pos uint8) bool {
	return csr&(1<<pos) != 0
}

// =============================================================================
// Register Views
// =============================================================================

// EDMA is the register view of the DMA controller.
type EDMA struct {
	bus Bus
}

// NewEDMA returns a register view over bus.
func NewEDMA(bus Bus) *EDMA {
	return &EDMA{bus: bus}
}

// CR returns the control register.
func (d *EDMA) CR() uint32 { return d.bus.Read32(OffsetCR) }

// SetCR writes the control register.
func (d *EDMA) SetCR(v uint32) { d.bus.Write32(OffsetCR, v) }

// ES returns the error status register.
func (d *EDMA) ES() ErrorStatus { return ErrorStatus(d.bus.Read32(OffsetES)) }

// ERQ returns the enable request bitmap.
func (d *EDMA) ERQ() uint32 { return d.bus.Read32(OffsetERQ) }

// INT returns the interrupt request bitmap.
func (d *EDMA) INT() uint32 { return d.bus.Read32(OffsetINT) }

// ERR returns the per-channel error bitmap.
func (d *EDMA) ERR() uint32 { return d.bus.Read32(OffsetERR) }

// HRS returns the hardware request status bitmap.
func (d *EDMA) HRS() uint32 { return d.bus.Read32(OffsetHRS) }

func (d *EDMA) command(offset uint32, ch int) {
	d.bus.Write8(offset, uint8(ch)&CmdChannelMask)
}

// SetRequest enables the hardware request of channel ch (SERQ).
func (d *EDMA) SetRequest(ch int) { d.command(OffsetSERQ, ch) }

// ClearRequest disables the hardware request of channel ch (CERQ).
func (d *EDMA) ClearRequest(ch int) { d.command(OffsetCERQ, ch) }

// EnableErrorInterrupt enables the error interrupt of channel ch (SEEI).
func (d *EDMA) EnableErrorInterrupt(ch int) { d.command(OffsetSEEI, ch) }

// DisableErrorInterrupt disables the error interrupt of channel ch (CEEI).
func (d *EDMA) DisableErrorInterrupt(ch int) { d.command(OffsetCEEI, ch) }

// Start sets CSR[START] of channel ch (SSRT).
func (d *EDMA) Start(ch int) { d.command(OffsetSSRT, ch) }

// ClearDone clears CSR[DONE] of channel ch (CDNE).
func (d *EDMA) ClearDone(ch int) { d.command(OffsetCDNE, ch) }

// ClearError clears the ERR bit of channel ch (CERR).
func (d *EDMA) ClearError(ch int) { d.command(OffsetCERR, ch) }

// ClearInterrupt clears the INT bit of channel ch (CINT).
func (d *EDMA) ClearInterrupt(ch int) { d.command(OffsetCINT, ch) }

// ClearAllErrors clears the ERR bit of every channel (CERR[CAER]).
func (d *EDMA) ClearAllErrors() { d.bus.Write8(OffsetCERR, CmdAll) }

// ClearAllInterrupts clears the INT bit of every channel (CINT[CAIR]).
func (d *EDMA) ClearAllInterrupts() { d.bus.Write8(OffsetCINT, CmdAll) }

// Priority returns the decoded DCHPRI register of channel ch.
func (d *EDMA) Priority(ch int) ChannelPriority {
	return DecodeChannelPriority(d.bus.Read8(DCHPRIOffset(ch)))
}

// SetPriority writes the DCHPRI register of channel ch.
func (d *EDMA) SetPriority(ch int, p ChannelPriority) {
	d.bus.Write8(DCHPRIOffset(ch), p.Encode())
}

// TCD returns the register view of channel ch's descriptor.
func (d *EDMA) TCD(ch int) TCDRegs {
	return TCDRegs{bus: d.bus, base: OffsetTCD + uint32(ch)*TCDSize}
}

// TCDRegs is the register view of one channel's active descriptor.
type TCDRegs struct {
	bus  Bus
	base uint32
}

// Store writes t into the channel's descriptor registers. CSR is written
// last so that a START or ESG bit takes effect on a complete descriptor.
func (r TCDRegs) Store(t *TCD) {
	r.bus.Write32(r.base+TCDSADDR, t.SADDR)
	r.bus.Write16(r.base+TCDSOFF, uint16(t.SOFF))
	r.bus.Write16(r.base+TCDATTR, uint16(t.ATTR))
	r.bus.Write32(r.base+TCDNBYTES, t.NBYTES)
	r.bus.Write32(r.base+TCDSLAST, uint32(t.SLAST))
	r.bus.Write32(r.base+TCDDADDR, t.DADDR)
	r.bus.Write16(r.base+TCDDOFF, uint16(t.DOFF))
	r.bus.Write16(r.base+TCDCITER, t.CITER)
	r.bus.Write32(r.base+TCDDLASTSGA, uint32(t.DLASTSGA))
	r.bus.Write16(r.base+TCDBITER, t.BITER)
	r.bus.Write16(r.base+TCDCSR, t.CSR)
}

// Load reads the channel's descriptor registers into out.
func (r TCDRegs) Load(out *TCD) {
	out.SADDR = r.bus.Read32(r.base + TCDSADDR)
	out.SOFF = int16(r.bus.Read16(r.base + TCDSOFF))
	out.ATTR = Attr(r.bus.Read16(r.base + TCDATTR))
	out.NBYTES = r.bus.Read32(r.base + TCDNBYTES)
	out.SLAST = int32(r.bus.Read32(r.base + TCDSLAST))
	out.DADDR = r.bus.Read32(r.base + TCDDADDR)
	out.DOFF = int16(r.bus.Read16(r.base + TCDDOFF))
	out.CITER = r.bus.Read16(r.base + TCDCITER)
	out.DLASTSGA = int32(r.bus.Read32(r.base + TCDDLASTSGA))
	out.CSR = r.bus.Read16(r.base + TCDCSR)
	out.BITER = r.bus.Read16(r.base + TCDBITER)
}

// CSR returns the channel's control and status halfword.
func (r TCDRegs) CSR() uint16 { return r.bus.Read16(r.base + TCDCSR) }

// SetCSR writes the channel's control and status halfword.
func (r TCDRegs) SetCSR(v uint16) { r.bus.Write16(r.base+TCDCSR, v) }

// CITER returns the current major iteration count field.
func (r TCDRegs) CITER() uint16 { return r.bus.Read16(r.base + TCDCITER) }

// BITER returns the starting major iteration count field.
func (r TCDRegs) BITER() uint16 { return r.bus.Read16(r.base + TCDBITER) }
