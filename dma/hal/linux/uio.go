//go:build linux

package linux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

// =============================================================================
// Poller
// =============================================================================

// pollDesc describes a file descriptor being polled.
type pollDesc struct {
	fd       int          // File descriptor
	events   uint32       // Events to watch for
	callback func(uint32) // Callback when events occur
}

// poller manages epoll-based readiness notification for interrupt devices.
type poller struct {
	epfd    int               // epoll file descriptor
	wakefd  int               // eventfd for waking the poller
	mu      sync.Mutex        // Protects fds map
	fds     map[int]*pollDesc // Tracked file descriptors
	running bool              // Whether poll loop is running
	done    chan struct{}     // Signal to stop polling
}

// newPoller creates a new poller instance.
func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]*pollDesc),
		done:   make(chan struct{}),
	}

	if err := p.addFD(wakefd, unix.EPOLLIN, nil); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// stop signals the poll loop to exit without releasing descriptors.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	if p.running {
		p.wake()
	}
}

// close stops the poller and releases its descriptors. The poll loop must
// have exited.
func (p *poller) close() error {
	p.stop()
	if p.wakefd >= 0 {
		unix.Close(p.wakefd)
		p.wakefd = -1
	}
	if p.epfd >= 0 {
		unix.Close(p.epfd)
		p.epfd = -1
	}
	return nil
}

// addFD adds a file descriptor to the poller.
func (p *poller) addFD(fd int, events uint32, callback func(uint32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}
	p.fds[fd] = &pollDesc{fd: fd, events: events, callback: callback}
	return nil
}

// delFD removes a file descriptor from the poller.
func (p *poller) delFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wake signals the poller to wake up.
func (p *poller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

// poll runs the epoll wait loop until close is called.
func (p *poller) poll() error {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	for {
		select {
		case <-p.done:
			return nil
		default:
		}
		if _, err := p.pollOnce(-1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
	}
}

// pollOnce performs a single poll iteration with timeout.
// timeout is in milliseconds, -1 for infinite, 0 for non-blocking.
func (p *poller) pollOnce(timeout int) (int, error) {
	var events [MaxEpollEvents]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, events[:], timeout)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.wakefd {
			var buf [8]byte
			unix.Read(p.wakefd, buf[:])
			continue
		}

		p.mu.Lock()
		desc, ok := p.fds[fd]
		p.mu.Unlock()

		if ok && desc.callback != nil {
			desc.callback(events[i].Events)
			processed++
		}
	}
	return processed, nil
}

// =============================================================================
// UIO Interrupts
// =============================================================================

// uioInterrupts delivers DMA interrupts received through a UIO device. The
// controller shares one interrupt line per group of channels, so each event
// is fanned out to every channel with an INT or ERR bit latched.
type uioInterrupts struct {
	path string
	dma  *regs.EDMA

	mu      sync.Mutex
	fd      int
	poller  *poller
	handler func(ch int)
	wg      sync.WaitGroup
}

func newUIOInterrupts(path string, dma *regs.EDMA) *uioInterrupts {
	return &uioInterrupts{path: path, dma: dma, fd: -1}
}

// Attach implements hal.Interrupts.
func (u *uioInterrupts) Attach(handler func(ch int)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handler != nil {
		return pkg.ErrAlreadyRunning
	}

	fd, err := unix.Open(u.path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", u.path, err)
	}
	p, err := newPoller()
	if err != nil {
		unix.Close(fd)
		return err
	}
	if err := p.addFD(fd, unix.EPOLLIN, u.event); err != nil {
		p.close()
		unix.Close(fd)
		return err
	}
	u.fd, u.poller, u.handler = fd, p, handler
	if err := unmaskUIO(fd); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to unmask UIO interrupt", "path", u.path, "error", err)
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if err := p.poll(); err != nil {
			pkg.LogError(pkg.ComponentHAL, "interrupt poll loop exited", "error", err)
		}
	}()
	return nil
}

// Detach implements hal.Interrupts.
func (u *uioInterrupts) Detach() error {
	u.mu.Lock()
	p, fd := u.poller, u.fd
	u.poller, u.fd, u.handler = nil, -1, nil
	u.mu.Unlock()

	if p == nil {
		return nil
	}
	p.delFD(fd)
	p.stop()
	u.wg.Wait()
	p.close()
	return unix.Close(fd)
}

// event handles readiness on the UIO descriptor.
func (u *uioInterrupts) event(uint32) {
	u.mu.Lock()
	fd, handler := u.fd, u.handler
	u.mu.Unlock()
	if handler == nil {
		return
	}

	// The read returns the total interrupt count and acknowledges the event.
	var count [4]byte
	if _, err := unix.Read(fd, count[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		pkg.LogWarn(pkg.ComponentHAL, "UIO read failed", "path", u.path, "error", err)
	}

	pending := u.dma.INT() | u.dma.ERR()
	for pending != 0 {
		ch := bits.TrailingZeros32(pending)
		pending &^= 1 << uint(ch)
		handler(ch)
	}

	if err := unmaskUIO(fd); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to unmask UIO interrupt", "path", u.path, "error", err)
	}
}

// unmaskUIO re-enables the interrupt line through the UIO irqcontrol write.
func unmaskUIO(fd int) error {
	var on [4]byte
	binary.NativeEndian.PutUint32(on[:], 1)
	_, err := unix.Write(fd, on[:])
	return err
}
