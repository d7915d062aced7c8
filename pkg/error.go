package pkg

import "errors"

// Configuration errors, reported synchronously before hardware is touched.
var (
	// ErrZeroLength indicates a transfer request with no bytes to move.
	ErrZeroLength = errors.New("zero-length transfer")

	// ErrMisaligned indicates addresses, strides or loop sizes inconsistent
	// with the element width.
	ErrMisaligned = errors.New("misaligned transfer")

	// ErrTooLarge indicates a transfer that exceeds the largest representable
	// iteration count even after chaining.
	ErrTooLarge = errors.New("transfer too large")

	// ErrNoDescriptors indicates the descriptor pool has no free slots.
	ErrNoDescriptors = errors.New("descriptor pool exhausted")

	// ErrNoFreeChannel indicates every DMA channel is bound.
	ErrNoFreeChannel = errors.New("no free channel")

	// ErrDuplicatePriority indicates a channel priority already in use
	// within the channel's arbitration group.
	ErrDuplicatePriority = errors.New("duplicate channel priority")

	// ErrGroupPriority indicates two arbitration groups share a priority.
	ErrGroupPriority = errors.New("non-unique group priority")

	// ErrInvalidPriority indicates a priority level outside the hardware range.
	ErrInvalidPriority = errors.New("invalid channel priority")

	// ErrInvalidSource indicates a request source that does not match the
	// transfer direction or is unknown to the platform.
	ErrInvalidSource = errors.New("invalid request source")

	// ErrInvalidChain indicates a nil, empty, or already armed descriptor chain.
	ErrInvalidChain = errors.New("invalid descriptor chain")

	// ErrStaleBinding indicates a binding whose channel was already recycled.
	ErrStaleBinding = errors.New("stale channel binding")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidConfig indicates an invalid platform profile.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Runtime and resource errors.
var (
	// ErrTimeout indicates a bounded wait expired.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrBufferLeased indicates a buffer still leased to an active transfer.
	ErrBufferLeased = errors.New("buffer leased to active transfer")

	// ErrBufferFreed indicates use of a buffer after it was freed.
	ErrBufferFreed = errors.New("buffer freed")

	// ErrNoMemory indicates insufficient DMA-capable memory.
	ErrNoMemory = errors.New("insufficient DMA memory")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyRunning indicates a loop is already running.
	ErrAlreadyRunning = errors.New("already running")
)

// Hardware fault errors, reported through the completion path.
var (
	ErrSourceBus         = errors.New("source bus error")
	ErrDestinationBus    = errors.New("destination bus error")
	ErrScatterGather     = errors.New("scatter/gather configuration error")
	ErrLoopConfig        = errors.New("minor/major loop configuration error")
	ErrSourceOffset      = errors.New("source offset configuration error")
	ErrSourceAddress     = errors.New("source address configuration error")
	ErrDestinationOffset = errors.New("destination offset configuration error")
	ErrDestinationAddr   = errors.New("destination address configuration error")
	ErrChannelPriority   = errors.New("channel priority error")
	ErrFault             = errors.New("unidentified channel fault")
)

// FaultKind identifies the hardware condition that moved a channel to the
// faulted state. FaultCancelled marks a transfer stopped by software.
type FaultKind int

// Fault kinds.
const (
	FaultNone FaultKind = iota
	FaultSourceBus
	FaultDestinationBus
	FaultScatterGather
	FaultLoopConfig
	FaultSourceOffset
	FaultSourceAddress
	FaultDestinationOffset
	FaultDestinationAddress
	FaultChannelPriority
	FaultGroupPriority
	FaultCancelled
	FaultUnknown
)

// String returns a string representation of the fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultSourceBus:
		return "source-bus"
	case FaultDestinationBus:
		return "destination-bus"
	case FaultScatterGather:
		return "scatter-gather"
	case FaultLoopConfig:
		return "loop-config"
	case FaultSourceOffset:
		return "source-offset"
	case FaultSourceAddress:
		return "source-address"
	case FaultDestinationOffset:
		return "destination-offset"
	case FaultDestinationAddress:
		return "destination-address"
	case FaultChannelPriority:
		return "channel-priority"
	case FaultGroupPriority:
		return "group-priority"
	case FaultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error for the fault kind, or nil for FaultNone.
func (k FaultKind) Error() error {
	switch k {
	case FaultNone:
		return nil
	case FaultSourceBus:
		return ErrSourceBus
	case FaultDestinationBus:
		return ErrDestinationBus
	case FaultScatterGather:
		return ErrScatterGather
	case FaultLoopConfig:
		return ErrLoopConfig
	case FaultSourceOffset:
		return ErrSourceOffset
	case FaultSourceAddress:
		return ErrSourceAddress
	case FaultDestinationOffset:
		return ErrDestinationOffset
	case FaultDestinationAddress:
		return ErrDestinationAddr
	case FaultChannelPriority:
		return ErrChannelPriority
	case FaultGroupPriority:
		return ErrGroupPriority
	case FaultCancelled:
		return ErrCancelled
	default:
		return ErrFault
	}
}
