// Package pkg provides shared utilities for the softdma transfer engine.
//
// This package contains common functionality used by the DMA engine, its
// hardware abstraction layers and the peripheral drivers built on it:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for configuration, resource and hardware faults
//   - [FaultKind], the runtime fault taxonomy reported by the hardware
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEngine, "transfer submitted", "channel", 3)
//
// # Errors
//
// Errors are sentinel values so callers can match them through wrapping:
//
//	if errors.Is(err, pkg.ErrNoFreeChannel) {
//	    // retry later
//	}
package pkg
