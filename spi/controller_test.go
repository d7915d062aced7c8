package spi

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softdma/dma"
	"github.com/ardnew/softdma/dma/hal/sim"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

var (
	txSource = &dma.Source{Name: "lpspi1-tx", Slot: sim.SlotLPSPI1TX, Peripheral: "lpspi1", Kind: dma.SourceTx}
	rxSource = &dma.Source{Name: "lpspi1-rx", Slot: sim.SlotLPSPI1RX, Peripheral: "lpspi1", Kind: dma.SourceRx}
)

type rig struct {
	ctl  *Controller
	eng  *dma.Engine
	plat *sim.Platform
}

// newRig wires a loopback serial engine to a DMA engine. When run is set
// the hardware ticks in the background and interrupts resolve transfers.
func newRig(t *testing.T, channels int, run bool, tweak func(*Config)) *rig {
	t.Helper()
	p, err := sim.New(sim.Options{Channels: channels, Loopback: true})
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background()))
	t.Cleanup(func() { _ = p.Close() })

	eng, err := dma.New(p, dma.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	if run {
		require.NoError(t, eng.Dispatcher().Attach())
		ctx, cancel := context.WithCancel(context.Background())
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return p.Run(gctx, 20*time.Microsecond) })
		t.Cleanup(func() {
			cancel()
			assert.ErrorIs(t, g.Wait(), context.Canceled)
		})
	}

	win, err := p.SPI(0)
	require.NoError(t, err)
	cfg := DefaultConfig(txSource, rxSource)
	cfg.Timeout = 2 * time.Second
	if tweak != nil {
		tweak(&cfg)
	}
	ctl, err := New(eng, win, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctl.Close() })
	return &rig{ctl: ctl, eng: eng, plat: p}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 1)
	}
	return b
}

func TestController_TxLoopback(t *testing.T) {
	for _, n := range []int{1, 7, 64, 300} {
		t.Run("", func(t *testing.T) {
			r := newRig(t, 16, true, nil)
			w := pattern(n)
			got := make([]byte, n)
			require.NoError(t, r.ctl.Tx(w, got))
			assert.Equal(t, w, got)

			st := r.eng.Stats()
			assert.Equal(t, int64(2), st.Completed)
			assert.Equal(t, int64(16), st.ChannelsFree)
		})
	}
}

func TestController_TxOneSided(t *testing.T) {
	r := newRig(t, 16, true, nil)
	win, err := r.plat.SPI(0)
	require.NoError(t, err)
	s := regs.NewLPSPI(win.Bus, win.Base)

	require.NoError(t, r.ctl.Tx(pattern(40), nil))
	tx, rx := s.FIFOCount()
	assert.Zero(t, tx, "transmit FIFO drained")
	assert.Zero(t, rx, "receive masked")
	assert.Equal(t, int64(1), r.eng.Stats().Completed)

	got := bytes.Repeat([]byte{0xFF}, 40)
	require.NoError(t, r.ctl.Tx(nil, got))
	assert.Equal(t, make([]byte, 40), got, "zeros shifted out and back")

	// Buffers grow for a longer call.
	long := pattern(1000)
	back := make([]byte, 1000)
	require.NoError(t, r.ctl.Tx(long, back))
	assert.Equal(t, long, back)
}

func TestController_Transfer(t *testing.T) {
	r := newRig(t, 16, true, nil)
	for _, b := range []byte{0x00, 0xA5, 0xFF} {
		got, err := r.ctl.Transfer(b)
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestController_LengthMismatch(t *testing.T) {
	r := newRig(t, 16, false, nil)
	err := r.ctl.Tx(make([]byte, 4), make([]byte, 5))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.NoError(t, r.ctl.Tx(nil, nil))
	assert.Zero(t, r.plat.Ticks())
}

// Without ticks the call times out and both legs are cancelled.
func TestController_Timeout(t *testing.T) {
	r := newRig(t, 16, false, func(c *Config) { c.Timeout = 5 * time.Millisecond })

	err := r.ctl.Tx(pattern(32), make([]byte, 32))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	assert.Equal(t, 16, r.eng.Router().FreeChannels())
	assert.Equal(t, int64(2), r.eng.Stats().Cancelled)

	_, err = r.ctl.Transfer(0x5A)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

// A leg whose channel never acknowledges the cancel keeps its scratch
// buffer leased. The next call must run on fresh buffers.
func TestController_StalledCancel(t *testing.T) {
	r := newRig(t, 32, true, func(c *Config) { c.Timeout = 50 * time.Millisecond })

	// The transmit leg binds the second channel. It stays bound at its level
	// after the cancel times out, so the next transmit leg lands in group 1.
	txCh := 1
	r.plat.StallCancel(txCh)

	err := r.ctl.Tx(pattern(32), make([]byte, 32))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	var ce *dma.CancelError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Timeout)
	stalled := r.ctl.tx
	require.True(t, stalled.Leased())

	w := pattern(24)
	got := make([]byte, 24)
	require.NotPanics(t, func() { err = r.ctl.Tx(w, got) })
	require.NoError(t, err)
	assert.Equal(t, w, got)
	assert.NotSame(t, stalled, r.ctl.tx)
	assert.False(t, r.ctl.tx.Leased())
	assert.Equal(t, 31, r.eng.Router().FreeChannels())

	r.plat.Unstall(txCh)
	assert.NoError(t, r.ctl.Close())
}

// A transaction waits for a channel instead of failing while another
// owner holds the last one.
func TestController_RetriesAcquire(t *testing.T) {
	r := newRig(t, 2, true, func(c *Config) {
		c.RetryMin = 100 * time.Microsecond
		c.RetryMax = time.Millisecond
	})
	holder, err := r.eng.Router().Acquire(dma.MemoryToMemory, nil, dma.Priority{Level: 15})
	require.NoError(t, err)

	done := make(chan error, 1)
	w := pattern(16)
	got := make([]byte, 16)
	go func() { done <- r.ctl.Tx(w, got) }()

	select {
	case err := <-done:
		t.Fatalf("Tx returned %v while no channel was free", err)
	case <-time.After(5 * time.Millisecond):
	}
	r.eng.Router().Release(holder)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Tx did not finish after the channel was released")
	}
	assert.Equal(t, w, got)
}

func TestController_FailedLegCancelsOther(t *testing.T) {
	r := newRig(t, 16, false, nil)

	// The transmit leg arms second, on the next free channel after the
	// receive leg.
	txCh := 1
	r.plat.InjectBusError(txCh, true, 0)

	require.NoError(t, r.eng.Dispatcher().Attach())
	errc := make(chan error, 1)
	go func() { errc <- r.ctl.Tx(pattern(8), make([]byte, 8)) }()
	deadline := time.Now().Add(time.Second)
	var err error
	for err == nil && time.Now().Before(deadline) {
		r.plat.Tick()
		select {
		case err = <-errc:
		default:
		}
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, pkg.ErrDestinationBus)
	var te *dma.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, txCh, te.Channel)
	assert.Equal(t, 16, r.eng.Router().FreeChannels())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		is     error
	}{
		{"mode", func(c *Config) { c.Mode = 4 }, pkg.ErrInvalidConfig},
		{"prescale", func(c *Config) { c.Prescale = 8 }, pkg.ErrInvalidConfig},
		{"burst overflows FIFO", func(c *Config) { c.TxWatermark, c.Burst = 14, 4 }, pkg.ErrInvalidConfig},
		{"zero burst", func(c *Config) { c.Burst = 0 }, pkg.ErrInvalidConfig},
		{"receive watermark", func(c *Config) { c.RxWatermark = 16 }, pkg.ErrInvalidConfig},
		{"timeout", func(c *Config) { c.Timeout = 0 }, pkg.ErrInvalidConfig},
		{"retry", func(c *Config) { c.RetryMax = c.RetryMin / 2 }, pkg.ErrInvalidConfig},
		{"swapped sources", func(c *Config) { c.TxSource, c.RxSource = c.RxSource, c.TxSource }, pkg.ErrInvalidSource},
		{"missing source", func(c *Config) { c.RxSource = nil }, pkg.ErrInvalidSource},
		{"priorities", func(c *Config) { c.RxPriority.Level = c.TxPriority.Level }, pkg.ErrInvalidConfig},
	}
	cfg := DefaultConfig(txSource, rxSource)
	require.NoError(t, cfg.validate(16))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig(txSource, rxSource)
			tt.modify(&c)
			assert.ErrorIs(t, c.validate(16), tt.is)
		})
	}
}

func TestBurstFor(t *testing.T) {
	assert.Equal(t, 1, burstFor(7, 1))
	assert.Equal(t, 4, burstFor(64, 4))
	assert.Equal(t, 3, burstFor(9, 4))
	assert.Equal(t, 2, burstFor(2, 8))
}
