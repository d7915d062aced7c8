package sim

import "github.com/ardnew/softdma/regs"

// busFault is a pending injected bus error.
type busFault struct {
	dest  bool
	after int
}

// InjectBusError makes channel ch fault on its next bus access after the
// given number of further minor loops complete. dest selects a destination
// error (ES[DBE]) instead of a source error (ES[SBE]).
func (p *Platform) InjectBusError(ch int, dest bool, after int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[ch] = &busFault{dest: dest, after: after}
}

// HoldCompletion stops channel ch just before the final minor loop of its
// last descriptor, so a transfer can be observed in flight.
func (p *Platform) HoldCompletion(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held |= 1 << uint(ch)
}

// ReleaseCompletion undoes HoldCompletion.
func (p *Platform) ReleaseCompletion(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held &^= 1 << uint(ch)
}

// CompleteOnCancel makes channel ch finish its whole chain at the moment
// software disables its request, reproducing a completion that races a
// cancel. Applies once.
func (p *Platform) CompleteOnCancel(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeOnCancel |= 1 << uint(ch)
}

// StallCancel makes channel ch go active and never finish its minor loop,
// so CR[CX] is never acknowledged.
func (p *Platform) StallCancel(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stallCancel |= 1 << uint(ch)
}

// Unstall undoes StallCancel. The channel is left inactive.
func (p *Platform) Unstall(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stallCancel &^= 1 << uint(ch)
	p.dma.setCSR(ch, p.dma.csr(ch)&^(1<<regs.CSRACTIVE))
	p.dma.cr &^= 1 << regs.CRCX
}
