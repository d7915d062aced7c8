// Package prof captures pprof profiles of a running transfer engine.
//
// Profiling is compiled in with the "profile" build tag:
//
//	go build -tags profile ./examples/sim-loopback
//
// Without the tag every function is a no-op and a Session records nothing,
// so call sites stay in place at no cost.
//
// # Sessions
//
// A Session covers one run. CPU samples stream to cpu.prof from Start until
// Stop; snapshot profiles are written to <name>.prof when Stop is called:
//
//	s, err := prof.Start("profiles", prof.ProfileCPU, prof.ProfileMutex)
//	if err != nil {
//		return err
//	}
//	defer s.Stop()
//
// Requesting [ProfileBlock] or [ProfileMutex] enables the runtime's
// sampling for the length of the session. Router acquisition and the
// dispatcher's event queue are the usual sources of contention.
//
// # HTTP
//
// [Handle] registers the net/http/pprof handlers under /debug/pprof/ on a
// caller's mux, typically the one already serving metrics.
package prof
