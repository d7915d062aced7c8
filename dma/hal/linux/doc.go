// Package linux implements hal.Platform for Linux systems that expose the
// DMA controller to user space.
//
// Register blocks are mapped from /dev/mem. DMA-capable memory comes from a
// u-dma-buf device, whose physical address and size are read from sysfs.
// Completion interrupts arrive through a UIO device and are multiplexed
// with epoll, the same way the kernel's own uio_pdrv_genirq users do.
//
// The platform requires CAP_SYS_RAWIO (or root) to map /dev/mem.
package linux
