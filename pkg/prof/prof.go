//go:build profile

package prof

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"github.com/ardnew/softdma/pkg"
)

const componentProf pkg.Component = "prof"

// ErrSessionActive is returned by Start while another session runs.
var ErrSessionActive = errors.New("prof: session already active")

var (
	mu     sync.Mutex
	active *Session
)

// Session is one profiling run.
type Session struct {
	dir      string
	profiles []Profile
	cpu      *os.File
	stopped  bool
}

// Start creates dir and begins a session capturing profiles. Only one
// session may run at a time.
func Start(dir string, profiles ...Profile) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		return nil, ErrSessionActive
	}
	for _, p := range profiles {
		if !isKnown(p) {
			return nil, fmt.Errorf("prof: unknown profile %q", p)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &Session{dir: dir, profiles: profiles}
	for _, p := range profiles {
		switch p {
		case ProfileCPU:
			f, err := os.Create(filepath.Join(dir, p.File()))
			if err != nil {
				return nil, err
			}
			if err := rpprof.StartCPUProfile(f); err != nil {
				f.Close()
				return nil, err
			}
			s.cpu = f
		case ProfileBlock:
			runtime.SetBlockProfileRate(1)
		case ProfileMutex:
			runtime.SetMutexProfileFraction(1)
		}
	}
	active = s
	pkg.LogInfo(componentProf, "profiling", "dir", dir, "profiles", profiles)
	return s, nil
}

// Stop ends the session and writes the snapshot profiles. Calling Stop more
// than once is harmless.
func (s *Session) Stop() error {
	mu.Lock()
	defer mu.Unlock()
	if s == nil || s.stopped {
		return nil
	}
	s.stopped = true
	if active == s {
		active = nil
	}

	var errs []error
	if s.cpu != nil {
		rpprof.StopCPUProfile()
		errs = append(errs, s.cpu.Close())
	}
	for _, p := range s.profiles {
		if p == ProfileCPU {
			continue
		}
		errs = append(errs, s.write(p))
		switch p {
		case ProfileBlock:
			runtime.SetBlockProfileRate(0)
		case ProfileMutex:
			runtime.SetMutexProfileFraction(0)
		}
	}
	return errors.Join(errs...)
}

// Dir returns the directory profiles are written to.
func (s *Session) Dir() string { return s.dir }

func (s *Session) write(p Profile) error {
	lp := rpprof.Lookup(string(p))
	if lp == nil {
		return fmt.Errorf("prof: no runtime profile %q", p)
	}
	f, err := os.Create(filepath.Join(s.dir, p.File()))
	if err != nil {
		return err
	}
	defer f.Close()
	return lp.WriteTo(f, 0)
}

// Handle registers the pprof handlers on mux.
func Handle(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
