package dma

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softdma/dma/hal/sim"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
)

var (
	testRx = &Source{Name: "lpspi1-rx", Slot: sim.SlotLPSPI1RX, Peripheral: "lpspi1", Kind: SourceRx}
	testTx = &Source{Name: "lpspi1-tx", Slot: sim.SlotLPSPI1TX, Peripheral: "lpspi1", Kind: SourceTx}
)

func TestRouter_Exhaustion(t *testing.T) {
	e, _ := newTestEngine(t, sim.Options{Channels: 32})
	r := e.Router()

	var held []*Binding
	for i := 0; i < 32; i++ {
		b, err := r.Acquire(MemoryToMemory, nil, Priority{Level: uint8(i % 16)})
		require.NoError(t, err, "acquire %d", i)
		held = append(held, b)
	}
	assert.Zero(t, r.FreeChannels())

	_, err := r.Acquire(MemoryToMemory, nil, Priority{Level: 0})
	var re *RouterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NoFreeChannel, re.Kind)
	assert.ErrorIs(t, err, pkg.ErrNoFreeChannel)
	assert.Equal(t, ClassConfiguration, Classify(err))

	r.Release(held[20])
	assert.Equal(t, Free, held[20].State())
	assert.Equal(t, 1, r.FreeChannels())

	b, err := r.Acquire(MemoryToMemory, nil, Priority{Level: held[20].Priority().Level})
	require.NoError(t, err)
	assert.Equal(t, held[20].Channel(), b.Channel())
	assert.Equal(t, Free, held[20].State(), "old binding stays stale")

	// Releasing the stale binding does not disturb the new owner.
	r.Release(held[20])
	assert.Equal(t, Bound, b.State())
}

func TestRouter_DuplicatePriority(t *testing.T) {
	e, _ := newTestEngine(t, sim.Options{Channels: 16})
	r := e.Router()

	b, err := r.Acquire(MemoryToMemory, nil, Priority{Level: 5})
	require.NoError(t, err)
	_, err = r.Acquire(MemoryToMemory, nil, Priority{Level: 5})
	var re *RouterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, DuplicatePriority, re.Kind)
	assert.ErrorIs(t, err, pkg.ErrDuplicatePriority)

	r.Release(b)
	_, err = r.Acquire(MemoryToMemory, nil, Priority{Level: 5})
	assert.NoError(t, err)
}

// Concurrent acquisitions at one level never both succeed within a group.
func TestRouter_ConcurrentSameLevel(t *testing.T) {
	e, _ := newTestEngine(t, sim.Options{Channels: 16})
	r := e.Router()

	for round := 0; round < 200; round++ {
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			got   [2]*Binding
			errs  [2]error
		)
		for i := range got {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				got[i], errs[i] = r.Acquire(MemoryToMemory, nil, Priority{Level: 7})
			}()
		}
		close(start)
		wg.Wait()

		won := 0
		for i := range got {
			if errs[i] == nil {
				won++
				r.Release(got[i])
				continue
			}
			assert.ErrorIs(t, errs[i], pkg.ErrDuplicatePriority)
		}
		require.Equal(t, 1, won, "round %d", round)
	}
	assert.Equal(t, 16, r.FreeChannels())
}

func TestRouter_GroupsIndependent(t *testing.T) {
	e, p := newTestEngine(t, sim.Options{Channels: 32})
	r := e.Router()

	a, err := r.Acquire(MemoryToMemory, nil, Priority{Level: 5})
	require.NoError(t, err)
	b, err := r.Acquire(MemoryToMemory, nil, Priority{Level: 5})
	require.NoError(t, err)
	assert.Less(t, a.Channel(), regs.ChannelsPerGroup)
	assert.GreaterOrEqual(t, b.Channel(), regs.ChannelsPerGroup)

	_, err = r.Acquire(MemoryToMemory, nil, Priority{Level: 5})
	assert.ErrorIs(t, err, pkg.ErrDuplicatePriority)

	// Both run without a priority error.
	var hs []*Handle
	for _, bind := range []*Binding{a, b} {
		src := newTestBuffer(t, e, 64, 32)
		dst := newTestBuffer(t, e, 64, 32)
		c, err := e.Builder().Build(copyRequest(src, dst, 64, 4, 16))
		require.NoError(t, err)
		h, err := e.Submit(bind, c)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	p.RunUntilIdle(100)
	assert.Equal(t, 2, e.Dispatcher().Service())
	for _, h := range hs {
		assert.Equal(t, Status{State: Complete}, e.Poll(h))
	}
}

func TestRouter_AcquireRejects(t *testing.T) {
	e, _ := newTestEngine(t, sim.Options{})
	r := e.Router()

	tests := []struct {
		name   string
		dir    Direction
		source *Source
		level  uint8
		kind   RouterErrorKind
	}{
		{"level out of range", MemoryToMemory, nil, MaxPriority + 1, InvalidPriority},
		{"software start for a peripheral", PeripheralToMemory, nil, 1, InvalidSource},
		{"receive source for transmit", MemoryToPeripheral, testRx, 1, InvalidSource},
		{"transmit source for receive", PeripheralToMemory, testTx, 1, InvalidSource},
		{"slot out of range", PeripheralToMemory, &Source{Name: "bad", Slot: 200, Kind: SourceRx}, 1, InvalidSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Acquire(tt.dir, tt.source, Priority{Level: tt.level})
			var re *RouterError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
		})
	}
	assert.Equal(t, r.Channels(), r.FreeChannels())
}

func TestRouter_ProgramsMux(t *testing.T) {
	e, _ := newTestEngine(t, sim.Options{})
	r := e.Router()

	rx, err := r.Acquire(PeripheralToMemory, testRx, Priority{Level: 9, CanPreempt: true})
	require.NoError(t, err)
	cfg := e.mux.Config(rx.Channel())
	assert.True(t, cfg.Enable)
	assert.False(t, cfg.AlwaysOn)
	assert.Equal(t, uint8(sim.SlotLPSPI1RX), cfg.Source)

	pri := e.dma.Priority(rx.Channel())
	assert.Equal(t, uint8(9), pri.Level)
	assert.False(t, pri.NoPreempt)

	always := &Source{Name: "always", Slot: sim.SlotAlwaysOn, Kind: SourceAlways}
	m, err := r.Acquire(MemoryToMemory, always, Priority{Level: 10})
	require.NoError(t, err)
	assert.True(t, e.mux.Config(m.Channel()).AlwaysOn)
	assert.True(t, e.dma.Priority(m.Channel()).NoPreempt)

	r.Release(rx)
	assert.False(t, e.mux.Config(rx.Channel()).Enable)
}

func TestRouter_ReleaseArmedPanics(t *testing.T) {
	e, p := newTestEngine(t, sim.Options{})
	src := newTestBuffer(t, e, 64, 32)
	dst := newTestBuffer(t, e, 64, 32)
	b, h := startCopy(t, e, copyRequest(src, dst, 64, 4, 16), 1)

	assert.Panics(t, func() { e.Router().Release(b) })

	p.RunUntilIdle(100)
	e.Dispatcher().Service()
	require.Equal(t, Status{State: Complete}, e.Poll(h))
	assert.NotPanics(t, func() { e.Router().Release(b) }, "stale after resolution")
}

func TestChannelState_String(t *testing.T) {
	assert.Equal(t, "free", Free.String())
	assert.Equal(t, "faulted", Faulted.String())
	assert.Equal(t, "state(42)", ChannelState(42).String())
	assert.Equal(t, "rx", SourceRx.String())
}
