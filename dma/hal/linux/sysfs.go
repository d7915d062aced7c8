//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/softdma/pkg"
)

// =============================================================================
// u-dma-buf Information
// =============================================================================

// udmabufInfo describes one u-dma-buf device discovered via sysfs.
type udmabufInfo struct {
	name     string // Device name, e.g. "udmabuf0"
	devPath  string // Path in /dev
	physAddr uint64 // Bus address of the buffer
	size     int    // Buffer size in bytes
	syncMode int    // Cache mode selected at load time
}

// parseUDMABuf reads the attributes of u-dma-buf device name under root.
func parseUDMABuf(root, name string) (udmabufInfo, error) {
	dir := filepath.Join(root, name)
	info := udmabufInfo{
		name:    name,
		devPath: filepath.Join(DevfsPath, name),
	}

	phys, err := readSysfsHex(filepath.Join(dir, "phys_addr"), 64)
	if err != nil {
		return info, err
	}
	info.physAddr = phys

	size, err := readSysfsUint(filepath.Join(dir, "size"), 64)
	if err != nil {
		return info, err
	}
	if size == 0 || size > 1<<31 {
		return info, fmt.Errorf("%w: u-dma-buf size %d", pkg.ErrInvalidConfig, size)
	}
	info.size = int(size)

	// sync_mode is optional; older drivers do not export it.
	if mode, err := readSysfsUint(filepath.Join(dir, "sync_mode"), 8); err == nil {
		info.syncMode = int(mode)
	}

	if phys+size > 1<<32 {
		return info, fmt.Errorf("%w: u-dma-buf at %#x is beyond the 32-bit DMA bus",
			pkg.ErrInvalidConfig, phys)
	}
	return info, nil
}

// scanUDMABufs lists the u-dma-buf devices under root.
func scanUDMABufs(root string) ([]udmabufInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var bufs []udmabufInfo
	for _, entry := range entries {
		info, err := parseUDMABuf(root, entry.Name())
		if err != nil {
			continue
		}
		bufs = append(bufs, info)
	}
	return bufs, nil
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsUint reads an unsigned decimal integer from a sysfs attribute file.
func readSysfsUint(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, bitSize)
}

// readSysfsHex reads a hexadecimal value from a sysfs attribute file.
func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	// Remove any "0x" prefix
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, bitSize)
}
