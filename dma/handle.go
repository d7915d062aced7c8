package dma

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// TransferState is the coarse outcome of a transfer.
type TransferState int

// Transfer states.
const (
	Pending TransferState = iota
	Complete
	Failed
)

// Status is the result of Engine.Poll: Pending, Complete, or Failed with
// the fault kind.
type Status struct {
	State TransferState
	Kind  ErrorKind
}

// String returns a short description such as "complete" or
// "error(destination-bus)".
func (s Status) String() string {
	switch s.State {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Failed:
		return fmt.Sprintf("error(%s)", s.Kind)
	default:
		return fmt.Sprintf("status(%d)", int(s.State))
	}
}

// Result describes a resolved transfer.
type Result struct {
	Status   Status
	Channel  int
	Bytes    int           // bytes moved; the full length when complete
	Duration time.Duration // from submission to resolution
}

// Err returns nil for a completed transfer and a *TransferError otherwise.
func (r Result) Err() error {
	switch r.Status.State {
	case Complete:
		return nil
	case Pending:
		return fmt.Errorf("dma: channel %d: transfer pending", r.Channel)
	default:
		return &TransferError{Channel: r.Channel, Kind: r.Status.Kind}
	}
}

// Handle is the submitter's reference to one armed transfer. It resolves
// exactly once.
type Handle struct {
	binding *Binding
	chain   *Chain
	start   time.Time

	claimed atomic.Bool
	result  atomic.Pointer[Result]
	done    chan struct{}
}

func newHandle(b *Binding, c *Chain) *Handle {
	return &Handle{binding: b, chain: c, start: time.Now(), done: make(chan struct{})}
}

// Channel returns the channel executing the transfer.
func (h *Handle) Channel() int { return h.binding.ch }

// Done returns a channel closed when the transfer resolves.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the resolved result, or false while pending.
func (h *Handle) Result() (Result, bool) {
	if r := h.result.Load(); r != nil {
		return *r, true
	}
	return Result{Status: Status{State: Pending}, Channel: h.Channel()}, false
}

// Wait blocks until the transfer resolves or ctx is done. Resolution needs
// the dispatcher to run, either attached to interrupts or polled.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		r, _ := h.Result()
		return r, r.Err()
	case <-ctx.Done():
		r, _ := h.Result()
		return r, ctx.Err()
	}
}

// claim makes the caller the one resolver of the handle.
func (h *Handle) claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

func (h *Handle) resolve(r Result) {
	h.result.Store(&r)
	close(h.done)
}
