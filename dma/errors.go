package dma

import (
	"errors"
	"fmt"

	"github.com/ardnew/softdma/pkg"
)

// =============================================================================
// Error Classes
// =============================================================================

// ErrorClass partitions every failure the engine reports.
type ErrorClass int

const (
	// ClassNone is the class of a nil error.
	ClassNone ErrorClass = iota
	// ClassConfiguration errors are synchronous: the request or binding is
	// wrong and hardware was never touched. Correct the input and resubmit.
	ClassConfiguration
	// ClassHardware errors are reported by the controller after arming and
	// arrive through Poll or the completion notification.
	ClassHardware
	// ClassContract violations are bugs in the calling code. They are raised
	// as panics carrying a *ContractError.
	ClassContract
)

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassConfiguration:
		return "configuration"
	case ClassHardware:
		return "hardware"
	case ClassContract:
		return "contract"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var c interface{ Class() ErrorClass }
	if errors.As(err, &c) {
		return c.Class()
	}
	return ClassConfiguration
}

// =============================================================================
// Hardware Error Kinds
// =============================================================================

// ErrorKind identifies a runtime fault latched by the controller.
type ErrorKind = pkg.FaultKind

// Runtime fault kinds.
const (
	NoError                 = pkg.FaultNone
	SourceBusError          = pkg.FaultSourceBus
	DestinationBusError     = pkg.FaultDestinationBus
	ScatterGatherError      = pkg.FaultScatterGather
	LoopConfigError         = pkg.FaultLoopConfig
	SourceOffsetError       = pkg.FaultSourceOffset
	SourceAddressError      = pkg.FaultSourceAddress
	DestinationOffsetError  = pkg.FaultDestinationOffset
	DestinationAddressError = pkg.FaultDestinationAddress
	ChannelPriorityError    = pkg.FaultChannelPriority
	GroupPriorityError      = pkg.FaultGroupPriority
	Cancelled               = pkg.FaultCancelled
	UnknownError            = pkg.FaultUnknown
)

// TransferError reports a transfer that ended in a hardware fault or was
// cancelled.
type TransferError struct {
	Channel int
	Kind    ErrorKind
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("dma: channel %d: %v", e.Channel, e.Kind.Error())
}

// Unwrap returns the sentinel for the fault kind.
func (e *TransferError) Unwrap() error { return e.Kind.Error() }

// Class reports ClassHardware.
func (e *TransferError) Class() ErrorClass { return ClassHardware }

// =============================================================================
// Build Errors
// =============================================================================

// BuildErrorKind identifies why a request could not be built.
type BuildErrorKind int

const (
	// Misaligned: addresses, strides or loop sizes are inconsistent with
	// the element width.
	Misaligned BuildErrorKind = iota
	// TooLarge: the transfer does not fit even after chaining.
	TooLarge
	// ZeroLength: the request moves no data.
	ZeroLength
	// InvalidEndpoint: endpoints do not match the direction.
	InvalidEndpoint
)

// String returns the kind name.
func (k BuildErrorKind) String() string {
	switch k {
	case Misaligned:
		return "misaligned"
	case TooLarge:
		return "too large"
	case ZeroLength:
		return "zero length"
	case InvalidEndpoint:
		return "invalid endpoint"
	default:
		return fmt.Sprintf("build error(%d)", int(k))
	}
}

// BuildError is returned by Builder.Build.
type BuildError struct {
	Kind   BuildErrorKind
	Detail string
}

func (e *BuildError) Error() string {
	if e.Detail == "" {
		return "dma: build: " + e.Kind.String()
	}
	return "dma: build: " + e.Kind.String() + ": " + e.Detail
}

// Unwrap returns the sentinel matching the kind.
func (e *BuildError) Unwrap() error {
	switch e.Kind {
	case Misaligned:
		return pkg.ErrMisaligned
	case TooLarge:
		return pkg.ErrTooLarge
	case ZeroLength:
		return pkg.ErrZeroLength
	default:
		return pkg.ErrInvalidParameter
	}
}

// Class reports ClassConfiguration.
func (e *BuildError) Class() ErrorClass { return ClassConfiguration }

func buildErrorf(kind BuildErrorKind, format string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Router Errors
// =============================================================================

// RouterErrorKind identifies why a channel could not be acquired.
type RouterErrorKind int

const (
	// NoFreeChannel: every channel is bound. The router does not wait;
	// the caller chooses to retry or queue.
	NoFreeChannel RouterErrorKind = iota
	// DuplicatePriority: the priority level is taken in every group with
	// a free channel.
	DuplicatePriority
	// InvalidPriority: the level does not fit the CHPRI field.
	InvalidPriority
	// InvalidSource: the request source cannot serve the direction.
	InvalidSource
)

// String returns the kind name.
func (k RouterErrorKind) String() string {
	switch k {
	case NoFreeChannel:
		return "no free channel"
	case DuplicatePriority:
		return "duplicate priority"
	case InvalidPriority:
		return "invalid priority"
	case InvalidSource:
		return "invalid request source"
	default:
		return fmt.Sprintf("router error(%d)", int(k))
	}
}

// RouterError is returned by Router.Acquire.
type RouterError struct {
	Kind   RouterErrorKind
	Detail string
}

func (e *RouterError) Error() string {
	if e.Detail == "" {
		return "dma: router: " + e.Kind.String()
	}
	return "dma: router: " + e.Kind.String() + ": " + e.Detail
}

// Unwrap returns the sentinel matching the kind.
func (e *RouterError) Unwrap() error {
	switch e.Kind {
	case NoFreeChannel:
		return pkg.ErrNoFreeChannel
	case DuplicatePriority:
		return pkg.ErrDuplicatePriority
	case InvalidPriority:
		return pkg.ErrInvalidPriority
	default:
		return pkg.ErrInvalidSource
	}
}

// Class reports ClassConfiguration.
func (e *RouterError) Class() ErrorClass { return ClassConfiguration }

// =============================================================================
// Cancel Errors
// =============================================================================

// CancelError is returned by Engine.Cancel when the channel did not return
// to idle in time. The transfer stays pending and the channel stays bound;
// a later Cancel or completion may still resolve it.
type CancelError struct {
	Channel int
	Timeout bool
}

func (e *CancelError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("dma: cancel channel %d: timed out waiting for idle", e.Channel)
	}
	return fmt.Sprintf("dma: cancel channel %d failed", e.Channel)
}

// Unwrap returns pkg.ErrTimeout for a timeout.
func (e *CancelError) Unwrap() error {
	if e.Timeout {
		return pkg.ErrTimeout
	}
	return pkg.ErrCancelled
}

// Class reports ClassHardware: the controller failed to acknowledge.
func (e *CancelError) Class() ErrorClass { return ClassHardware }

// =============================================================================
// Contract Violations
// =============================================================================

// ContractError is the panic value for misuse of the engine API.
type ContractError struct {
	Op     string
	Reason string
}

func (e *ContractError) Error() string {
	return "dma: " + e.Op + ": " + e.Reason
}

// Class reports ClassContract.
func (e *ContractError) Class() ErrorClass { return ClassContract }

func violate(op, format string, args ...any) {
	err := &ContractError{Op: op, Reason: fmt.Sprintf(format, args...)}
	pkg.LogError(pkg.ComponentEngine, "contract violation", "op", op, "reason", err.Reason)
	panic(err)
}
