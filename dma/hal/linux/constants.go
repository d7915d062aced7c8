package linux

// =============================================================================
// System Paths
// =============================================================================

// DevMemPath is the physical memory device used to map register blocks.
const DevMemPath = "/dev/mem"

// SysfsUDMABufPath is the sysfs class directory of u-dma-buf devices.
const SysfsUDMABufPath = "/sys/class/u-dma-buf"

// DevfsPath is the directory holding u-dma-buf and UIO device nodes.
const DevfsPath = "/dev"

// =============================================================================
// Default Memory Map (i.MX RT1060 family)
// =============================================================================

// Register block physical addresses.
const (
	DefaultDMABase  = 0x400E_8000
	DefaultMuxBase  = 0x400E_C000
	DefaultSPIBase  = 0x4039_4000
	DefaultSPICount = 4
	SPIStride       = 0x4000
)

// Register window sizes.
const (
	DMAWindowSize = 0x2000
	MuxWindowSize = 0x100
	SPIWindowSize = 0x100
)

// MaxEpollEvents is the maximum number of events returned per epoll_wait.
const MaxEpollEvents = 8
