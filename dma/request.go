package dma

import "fmt"

// Direction identifies which sides of a transfer are memory.
type Direction int

// Transfer directions.
const (
	PeripheralToMemory Direction = iota
	MemoryToPeripheral
	MemoryToMemory
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case PeripheralToMemory:
		return "peripheral-to-memory"
	case MemoryToPeripheral:
		return "memory-to-peripheral"
	case MemoryToMemory:
		return "memory-to-memory"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Endpoint is one side of a transfer: a *Buffer in DMA memory or a Port.
type Endpoint interface {
	busAddr() uint32
}

// Port is a fixed peripheral register, such as a FIFO data register. The
// address does not advance between elements.
type Port struct {
	Addr uint32
}

func (p Port) busAddr() uint32 { return p.Addr }

// Request describes one logical data movement.
type Request struct {
	Direction Direction
	Src       Endpoint
	Dst       Endpoint

	// Length is the total number of bytes to move.
	Length int

	// Width is the element size in bytes: 1, 2, 4, 8, 16 or 32.
	Width int

	// MinorBytes is the number of bytes moved per hardware request. Zero
	// selects the automatic split.
	MinorBytes int

	// Burst is the number of elements moved per peripheral request when
	// MinorBytes is zero. Zero means one element.
	Burst int

	// SrcModulo and DstModulo make the memory side circular over a
	// 2^n byte window. Zero disables.
	SrcModulo uint8
	DstModulo uint8

	// MinorOffset is added to the memory address of each side selected by
	// SrcMinorOffset and DstMinorOffset after every minor loop, so a
	// transfer can gather or scatter a strided region such as one column of
	// a row-major matrix. It needs an explicit MinorBytes of at most
	// regs.MaxNBytesOffset.
	MinorOffset    int32
	SrcMinorOffset bool
	DstMinorOffset bool

	// HalfComplete requests a progress event halfway through each link.
	HalfComplete bool

	// Notify receives the terminal result from the draining context.
	Notify func(Result)

	// Progress receives half-complete events from the draining context.
	Progress func(Result)
}

// buffers returns the memory endpoints of r.
func (r *Request) buffers() []*Buffer {
	var out []*Buffer
	for _, ep := range []Endpoint{r.Src, r.Dst} {
		if b, ok := ep.(*Buffer); ok && b != nil {
			out = append(out, b)
		}
	}
	return out
}
