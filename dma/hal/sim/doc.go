// Package sim implements hal.Platform as a deterministic software model of
// the DMA controller, the request multiplexer, and LPSPI serial engines.
//
// The model executes one minor loop per Tick, arbitrating between
// requesting channels by group and channel priority. Descriptors are
// validated the way the hardware does before each minor loop, and errors
// latch in ES, ERR and the per-channel CSR exactly as a driver would
// observe them on silicon. Scatter/gather reloads descriptors from
// simulated RAM, so chains built in DMA-capable memory run unmodified.
//
// Test controls (InjectBusError, HoldCompletion, CompleteOnCancel,
// StallCancel) reproduce faults and races that are hard to provoke on real
// hardware.
package sim
