//go:build linux

package linux

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// =============================================================================
// Sysfs Tests
// =============================================================================

func writeAttr(t *testing.T, dir, name, value string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadSysfsHex(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		content  string
		expected uint64
		wantErr  bool
	}{
		{"0x80000000", 0x8000_0000, false},
		{"0X1f", 0x1F, false},
		{"abc", 0xABC, false},
		{"0xzz", 0, true},
	}
	for i, tt := range tests {
		name := filepath.Join(dir, string(rune('a'+i)))
		if err := os.WriteFile(name, []byte(tt.content+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := readSysfsHex(name, 64)
		if (err != nil) != tt.wantErr {
			t.Errorf("readSysfsHex(%q) error = %v, wantErr %v", tt.content, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("readSysfsHex(%q) = %#x, want %#x", tt.content, got, tt.expected)
		}
	}
}

func TestParseUDMABuf(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "udmabuf0")
	writeAttr(t, dir, "phys_addr", "0x9f000000")
	writeAttr(t, dir, "size", "1048576")
	writeAttr(t, dir, "sync_mode", "1")

	info, err := parseUDMABuf(root, "udmabuf0")
	if err != nil {
		t.Fatalf("parseUDMABuf failed: %v", err)
	}
	if info.physAddr != 0x9F00_0000 {
		t.Errorf("physAddr = %#x, want 0x9f000000", info.physAddr)
	}
	if info.size != 1<<20 {
		t.Errorf("size = %d, want %d", info.size, 1<<20)
	}
	if info.syncMode != 1 {
		t.Errorf("syncMode = %d, want 1", info.syncMode)
	}
	if info.devPath != "/dev/udmabuf0" {
		t.Errorf("devPath = %q", info.devPath)
	}
}

func TestParseUDMABuf_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		phys  string
		size  string
		isCfg bool
	}{
		{"zero size", "0x1000", "0", true},
		{"beyond 32-bit bus", "0x100000000", "4096", true},
		{"straddles 4GiB", "0xffff0000", "131072", true},
		{"bad size", "0x1000", "lots", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "udmabuf1")
			writeAttr(t, dir, "phys_addr", tt.phys)
			writeAttr(t, dir, "size", tt.size)
			_, err := parseUDMABuf(root, "udmabuf1")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.isCfg && !errors.Is(err, pkg.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestScanUDMABufs(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, filepath.Join(root, "udmabuf0"), "phys_addr", "0x1000")
	writeAttr(t, filepath.Join(root, "udmabuf0"), "size", "4096")
	// Incomplete entries are skipped.
	writeAttr(t, filepath.Join(root, "udmabuf1"), "phys_addr", "0x2000")

	bufs, err := scanUDMABufs(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(bufs) != 1 || bufs[0].name != "udmabuf0" {
		t.Errorf("scanUDMABufs = %+v, want only udmabuf0", bufs)
	}

	if _, err := scanUDMABufs(filepath.Join(root, "missing")); err == nil {
		t.Error("expected error for missing class directory")
	}
}

// =============================================================================
// mmio Tests
// =============================================================================

func anonMMIO(t *testing.T, size int) *mmio {
	t.Helper()
	mapping, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	m := &mmio{mapping: mapping, regs: mapping[:size]}
	t.Cleanup(func() { m.unmap() })
	return m
}

func TestMMIO_Widths(t *testing.T) {
	m := anonMMIO(t, 64)

	m.Write32(0x10, 0xDEAD_BEEF)
	if got := m.Read8(0x10); got != 0xEF {
		t.Errorf("Read8 = %#x, want 0xef (little-endian)", got)
	}
	if got := m.Read16(0x12); got != 0xDEAD {
		t.Errorf("Read16 = %#x, want 0xdead", got)
	}
	m.Write8(0x11, 0x00)
	if got := m.Read32(0x10); got != 0xDEAD_00EF {
		t.Errorf("Read32 = %#x, want 0xdead00ef", got)
	}
	m.Write16(0x20, 0x1234)
	if got := m.Read32(0x20); got != 0x1234 {
		t.Errorf("Read32 = %#x, want 0x1234", got)
	}
}

func TestMMIO_RegisterView(t *testing.T) {
	m := anonMMIO(t, 256)
	mux := regs.NewMux(m)
	mux.Configure(3, regs.MuxConfig{Source: 14, Enable: true})
	got := mux.Config(3)
	if got.Source != 14 || !got.Enable {
		t.Errorf("Config(3) = %+v", got)
	}
}

func TestMMIO_OutOfRangePanics(t *testing.T) {
	m := anonMMIO(t, 16)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range access")
		}
	}()
	m.Read32(14)
}

func TestMMIO_UnmapTwice(t *testing.T) {
	m := anonMMIO(t, 16)
	if err := m.unmap(); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if err := m.unmap(); err != nil {
		t.Errorf("second unmap: %v", err)
	}
}

// =============================================================================
// poller Tests
// =============================================================================

func TestPoller_Callback(t *testing.T) {
	p, err := newPoller()
	if err != nil {
		t.Fatalf("newPoller failed: %v", err)
	}
	defer p.close()

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(efd)

	fired := make(chan uint32, 1)
	if err := p.addFD(efd, unix.EPOLLIN, func(ev uint32) {
		var buf [8]byte
		unix.Read(efd, buf[:])
		fired <- ev
	}); err != nil {
		t.Fatalf("addFD: %v", err)
	}

	buf := [8]byte{1}
	if _, err := unix.Write(efd, buf[:]); err != nil {
		t.Fatal(err)
	}
	n, err := p.pollOnce(1000)
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("pollOnce processed %d, want 1", n)
	}
	if ev := <-fired; ev&unix.EPOLLIN == 0 {
		t.Errorf("events = %#x, want EPOLLIN", ev)
	}

	if err := p.delFD(efd); err != nil {
		t.Errorf("delFD: %v", err)
	}
}

func TestPoller_StopWakesLoop(t *testing.T) {
	p, err := newPoller()
	if err != nil {
		t.Fatalf("newPoller failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.poll() }()

	// Give the loop a chance to block in epoll_wait.
	time.Sleep(10 * time.Millisecond)
	p.stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("poll returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not exit")
	}
	p.close()
}

// =============================================================================
// Platform Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Channels != 32 {
		t.Errorf("Channels = %d, want 32", c.Channels)
	}
	if len(c.SPIBases) != DefaultSPICount {
		t.Fatalf("len(SPIBases) = %d", len(c.SPIBases))
	}
	if c.SPIBases[1] != 0x4039_8000 {
		t.Errorf("SPIBases[1] = %#x, want 0x40398000", c.SPIBases[1])
	}
	if c.UIO >= 0 {
		t.Error("interrupts should be disabled by default")
	}
}

func TestPlatform_SPIBeforeInit(t *testing.T) {
	p := New(DefaultConfig())
	if _, err := p.SPI(0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("SPI(0) before Init = %v, want ErrInvalidParameter", err)
	}
	if p.Interrupts() != nil {
		t.Error("Interrupts() should be nil without a UIO device")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close on uninitialized platform: %v", err)
	}
}
