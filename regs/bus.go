package regs

// Bus provides width-specific access to one memory-mapped register block.
// Offsets are relative to the block base. Implementations must perform each
// access as a single bus transaction of the given width.
type Bus interface {
	Read8(offset uint32) uint8
	Write8(offset uint32, v uint8)
	Read16(offset uint32) uint16
	Write16(offset uint32, v uint16)
	Read32(offset uint32) uint32
	Write32(offset uint32, v uint32)
}

// Field describes a contiguous bitfield within a register.
type Field struct {
	Pos  uint8
	Bits uint8
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint32 {
	return ((1 << f.Bits) - 1) << f.Pos
}

// Get extracts the field value from reg.
func (f Field) Get(reg uint32) uint32 {
	return (reg & f.Mask()) >> f.Pos
}

// Set returns reg with the field replaced by v. Bits of v beyond the field
// width are discarded.
func (f Field) Set(reg, v uint32) uint32 {
	return (reg &^ f.Mask()) | ((v << f.Pos) & f.Mask())
}

// setBit sets or clears bit pos of reg.
func setBit(reg uint32, pos uint8, bit bool) uint32 {
	if bit {
		return reg | (1 << pos)
	}
	return reg &^ (1 << pos)
}

// signExtend interprets the low bits of v as a two's complement value.
func signExtend(v uint32, bits uint8) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
