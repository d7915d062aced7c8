//go:build profile

package prof

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSession_WritesProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	s, err := Start(dir, ProfileCPU, ProfileHeap, ProfileMutex, ProfileBlock)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", s.Dir(), dir)
	}

	var (
		mu sync.Mutex
		n  int
		wg sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if n != 4000 {
		t.Fatalf("n = %d", n)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for _, p := range []Profile{ProfileCPU, ProfileHeap, ProfileMutex, ProfileBlock} {
		info, err := os.Stat(filepath.Join(dir, p.File()))
		if err != nil {
			t.Errorf("%s: %v", p, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s: empty profile", p)
		}
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStart_FailFastWhenActive(t *testing.T) {
	s, err := Start(t.TempDir(), ProfileHeap)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if _, err := Start(t.TempDir()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Start() error = %v, want %v", err, ErrSessionActive)
	}
}

func TestStart_Rejects(t *testing.T) {
	if _, err := Start(t.TempDir(), Profile("threads")); err == nil {
		t.Error("Start() accepted an unknown profile")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Start(filepath.Join(file, "sub"), ProfileCPU); err == nil {
		t.Error("Start() accepted a directory under a regular file")
	}

	// A failed start leaves no session behind.
	s, err := Start(t.TempDir())
	if err != nil {
		t.Fatalf("Start() after failures error = %v", err)
	}
	s.Stop()
}

func TestHandle(t *testing.T) {
	mux := http.NewServeMux()
	Handle(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET goroutine = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty goroutine profile")
	}
}
