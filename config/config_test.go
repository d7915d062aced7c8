package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softdma/dma"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
	"github.com/ardnew/softdma/spi"
)

func TestDefault_Valid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, dma.DefaultOptions().Limits, p.Limits())

	opts := p.EngineOptions()
	assert.Equal(t, dma.DefaultDescriptorPool, opts.DescriptorPool)
	assert.Equal(t, dma.DefaultCancelTimeout, opts.CancelTimeout)
	assert.Nil(t, opts.Registry)
}

func TestLoad_Empty(t *testing.T) {
	p, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), *p)
}

func TestLoad_MergesOverDefault(t *testing.T) {
	const doc = `
dma:
  channels: 16
  cancel_timeout: 20ms
  descriptor_pool: 512
sources:
  - name: lpspi2-rx
    slot: 15
    peripheral: lpspi2
    direction: rx
  - name: lpspi2-tx
    slot: 16
    peripheral: lpspi2
    direction: tx
  - name: lpspi1-tx
    slot: 40
    peripheral: lpspi1
    direction: tx
spi:
  burst: 2
  timeout: 1s
  tx_source: lpspi2-tx
  rx_source: lpspi2-rx
log:
  level: debug
`
	p, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 16, p.DMA.Channels)
	assert.Equal(t, 20*time.Millisecond, p.DMA.CancelTimeout)
	assert.Equal(t, 512, p.DMA.DescriptorPool)
	assert.Equal(t, dma.DefaultEventQueueDepth, p.DMA.EventQueueDepth, "unset fields keep the default")

	names := make([]string, len(p.Sources))
	for i, s := range p.Sources {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"lpspi1-rx", "lpspi1-tx", "always-on", "lpspi2-rx", "lpspi2-tx"}, names)
	assert.Equal(t, uint8(40), p.Sources[1].Slot, "redefined source replaced in place")

	assert.Equal(t, 2, p.SPI.Burst)
	assert.Equal(t, 16, p.SPI.FIFODepth)
	assert.Equal(t, "debug", p.Log.Level)

	cfg, err := p.SPIConfig()
	require.NoError(t, err)
	assert.Equal(t, "lpspi2-tx", cfg.TxSource.Name)
	assert.Equal(t, dma.SourceTx, cfg.TxSource.Kind)
	assert.Equal(t, uint8(16), cfg.TxSource.Slot)
	assert.Equal(t, dma.SourceRx, cfg.RxSource.Kind)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.Burst)
}

func TestLoad_ExplicitZero(t *testing.T) {
	const doc = `
spi:
  tx_watermark: 0
  rx_watermark: 0
  mode: 3
log:
  level: ""
`
	p, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), p.SPI.TxWatermark, "zero replaces the default")
	assert.Equal(t, uint8(0), p.SPI.RxWatermark)
	assert.Equal(t, uint8(3), p.SPI.Mode)
	assert.Empty(t, p.Log.Level)
	assert.Equal(t, spi.DefaultBurst, p.SPI.Burst, "absent keys keep the default")
	assert.Len(t, p.Sources, len(Default().Sources))

	cfg, err := p.SPIConfig()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), cfg.TxWatermark)

	_, err = Load(strings.NewReader("dma:\n  channels: 0\n"))
	assert.ErrorIs(t, err, pkg.ErrInvalidConfig, "explicit zero is validated, not ignored")
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown key", "dma:\n  lanes: 4\n", ""},
		{"malformed", "dma: [\n", ""},
		{"too many channels", "dma:\n  channels: 33\n", "dma.channels"},
		{"iterations", "dma:\n  max_major_iterations: 40000\n", "dma.max_major_iterations"},
		{"chain exceeds pool", "dma:\n  descriptor_pool: 8\n  max_chain_length: 9\n", "dma.max_chain_length"},
		{"slot reused", "sources:\n  - {name: extra, slot: 13, direction: rx}\n", "sources[3].slot"},
		{"slot zero", "sources:\n  - {name: extra, direction: rx}\n", "sources[3].slot"},
		{"slot too large", "sources:\n  - {name: extra, slot: 200, direction: rx}\n", "sources[3].slot"},
		{"direction", "sources:\n  - {name: extra, slot: 20, direction: sideways}\n", "sources[3].direction"},
		{"empty name", "sources:\n  - {slot: 20, direction: tx}\n", "sources[3].name"},
		{"fifo depth", "spi:\n  fifo_depth: 12\n", "spi.fifo_depth"},
		{"fifo too deep", "spi:\n  fifo_depth: 32\n", "spi.fifo_depth"},
		{"burst overflows", "spi:\n  tx_watermark: 14\n", "spi.burst"},
		{"rx watermark", "spi:\n  rx_watermark: 16\n", "spi.rx_watermark"},
		{"mode", "spi:\n  mode: 4\n", "spi.mode"},
		{"unknown source", "spi:\n  tx_source: nope\n", "spi.tx_source"},
		{"source direction", "spi:\n  tx_source: lpspi1-rx\n", "spi.tx_source"},
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, pkg.ErrInvalidConfig)
			assert.Equal(t, dma.ClassConfiguration, dma.Classify(err))

			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidate_DuplicateName(t *testing.T) {
	p := Default()
	p.Sources = append(p.Sources, Source{Name: "always-on", Slot: 60, Direction: "always"})
	err := p.Validate()
	assert.ErrorIs(t, err, pkg.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestProfile_Source(t *testing.T) {
	p := Default()
	s, err := p.Source("always-on")
	require.NoError(t, err)
	assert.Equal(t, dma.SourceAlways, s.Kind)
	assert.Equal(t, uint8(54), s.Slot)

	_, err = p.Source("missing")
	assert.ErrorIs(t, err, pkg.ErrInvalidSource)
}

func TestProfile_FIFOLog2(t *testing.T) {
	p := Default()
	assert.Equal(t, uint8(regs.DefaultFIFOLog2), p.FIFOLog2())
	p.SPI.FIFODepth = 8
	assert.Equal(t, uint8(3), p.FIFOLog2())
}

func TestProfile_ApplyLogging(t *testing.T) {
	saved := pkg.GetLogLevel()
	t.Cleanup(func() {
		pkg.SetLogLevel(saved)
		pkg.SetLogFormat(pkg.LogFormatText)
	})

	p := Default()
	p.Log = Log{Level: "error", Format: "json"}
	require.NoError(t, p.ApplyLogging())
	assert.Equal(t, "ERROR", pkg.GetLogLevel().String())

	p.Log.Format = "yaml"
	assert.ErrorIs(t, p.ApplyLogging(), pkg.ErrInvalidConfig)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dma:\n  channels: 8\n"), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, p.DMA.Channels)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte("dma:\n  channels: 0x40\n"), 0o600))
	_, err = LoadFile(path)
	assert.ErrorIs(t, err, pkg.ErrInvalidConfig)
	assert.Contains(t, err.Error(), path)
}
