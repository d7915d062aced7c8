package config

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/ardnew/softdma/dma"
	"github.com/ardnew/softdma/pkg"
	"github.com/ardnew/softdma/regs"
	"github.com/ardnew/softdma/spi"
)

// Register surface bounds.
const (
	MaxChannels  = regs.MaxChannels      // channels the error status can name
	MaxFIFODepth = 1 << regs.MaxFIFOLog2 // words the FIFO status count field can report
)

// Profile describes one SoC variant.
type Profile struct {
	DMA     DMA      `yaml:"dma"`
	Sources []Source `yaml:"sources"`
	SPI     SPI      `yaml:"spi"`
	Log     Log      `yaml:"log"`
}

// DMA holds the controller's size and the engine's limits.
type DMA struct {
	Channels           int           `yaml:"channels"`
	MaxMajorIterations int           `yaml:"max_major_iterations"`
	MaxNBytes          int           `yaml:"max_nbytes"`
	DescriptorPool     int           `yaml:"descriptor_pool"`
	MaxChainLength     int           `yaml:"max_chain_length"`
	CancelTimeout      time.Duration `yaml:"cancel_timeout"`
	EventQueueDepth    int           `yaml:"event_queue_depth"`
}

// Source is one multiplexer request slot. Direction is tx, rx or always.
type Source struct {
	Name       string `yaml:"name"`
	Slot       uint8  `yaml:"slot"`
	Peripheral string `yaml:"peripheral"`
	Direction  string `yaml:"direction"`
}

// SPI configures the serial engine. TxSource and RxSource name entries of
// the source table.
type SPI struct {
	FIFODepth   int           `yaml:"fifo_depth"`
	TxWatermark uint8         `yaml:"tx_watermark"`
	RxWatermark uint8         `yaml:"rx_watermark"`
	Burst       int           `yaml:"burst"`
	Timeout     time.Duration `yaml:"timeout"`
	Mode        uint8         `yaml:"mode"`
	Prescale    uint8         `yaml:"prescale"`
	TxSource    string        `yaml:"tx_source"`
	RxSource    string        `yaml:"rx_source"`
}

// Log selects the level (debug, info, warn, error) and format (text, json)
// of the package logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the reference profile: a 32 channel controller with the
// first serial engine routed to slots 13 and 14.
func Default() Profile {
	return Profile{
		DMA: DMA{
			Channels:           MaxChannels,
			MaxMajorIterations: regs.MaxIterations,
			MaxNBytes:          regs.MaxNBytes,
			DescriptorPool:     dma.DefaultDescriptorPool,
			MaxChainLength:     dma.DefaultLimits().MaxChainLength,
			CancelTimeout:      dma.DefaultCancelTimeout,
			EventQueueDepth:    dma.DefaultEventQueueDepth,
		},
		Sources: []Source{
			{Name: "lpspi1-rx", Slot: regs.SlotLPSPI1RX, Peripheral: "lpspi1", Direction: "rx"},
			{Name: "lpspi1-tx", Slot: regs.SlotLPSPI1TX, Peripheral: "lpspi1", Direction: "tx"},
			{Name: "always-on", Slot: regs.SlotAlwaysOn, Direction: "always"},
		},
		SPI: SPI{
			FIFODepth:   1 << regs.DefaultFIFOLog2,
			TxWatermark: spi.DefaultTxWatermark,
			RxWatermark: spi.DefaultRxWatermark,
			Burst:       spi.DefaultBurst,
			Timeout:     spi.DefaultTimeout,
			TxSource:    "lpspi1-tx",
			RxSource:    "lpspi1-rx",
		},
		Log: Log{Level: "warn", Format: "text"},
	}
}

// Load decodes a YAML profile from r over Default and validates the result.
// Keys absent from the document keep the default; keys present replace it,
// zero included. Source entries are appended to the default table. Unknown
// keys are rejected.
func Load(r io.Reader) (*Profile, error) {
	p := Default()
	base := Profile{Sources: p.Sources}
	p.Sources = nil

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Err: err}
	}

	if err := mergo.Merge(&base, Profile{Sources: p.Sources}, mergo.WithAppendSlice); err != nil {
		return nil, &ConfigError{Err: err}
	}
	p.Sources = dedupe(base.Sources)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentConfig, "profile loaded",
		"channels", p.DMA.Channels,
		"sources", len(p.Sources))
	return &p, nil
}

// LoadFile loads the profile at path.
func LoadFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.LogInfo(pkg.ComponentConfig, "loaded profile", "path", path)
	return p, nil
}

// dedupe keeps one entry per name. A later entry replaces an earlier one in
// place.
func dedupe(in []Source) []Source {
	out := make([]Source, 0, len(in))
	at := make(map[string]int, len(in))
	for _, s := range in {
		if i, ok := at[s.Name]; ok {
			out[i] = s
			continue
		}
		at[s.Name] = len(out)
		out = append(out, s)
	}
	return out
}

// Validate checks the profile for internal consistency.
func (p *Profile) Validate() error {
	d := p.DMA
	switch {
	case d.Channels < 1 || d.Channels > MaxChannels:
		return invalid("dma.channels", "%d not in 1-%d", d.Channels, MaxChannels)
	case d.MaxMajorIterations < 1 || d.MaxMajorIterations > regs.MaxIterations:
		return invalid("dma.max_major_iterations", "%d not in 1-%d", d.MaxMajorIterations, regs.MaxIterations)
	case d.MaxNBytes < 1 || d.MaxNBytes > regs.MaxNBytes:
		return invalid("dma.max_nbytes", "%d not in 1-%d", d.MaxNBytes, regs.MaxNBytes)
	case d.DescriptorPool < 1:
		return invalid("dma.descriptor_pool", "%d", d.DescriptorPool)
	case d.MaxChainLength < 1 || d.MaxChainLength > d.DescriptorPool:
		return invalid("dma.max_chain_length", "%d exceeds pool of %d", d.MaxChainLength, d.DescriptorPool)
	case d.CancelTimeout <= 0:
		return invalid("dma.cancel_timeout", "%v", d.CancelTimeout)
	case d.EventQueueDepth < 1:
		return invalid("dma.event_queue_depth", "%d", d.EventQueueDepth)
	}

	names := make(map[string]bool, len(p.Sources))
	slots := make(map[uint8]string, len(p.Sources))
	for i, s := range p.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if s.Name == "" {
			return invalid(field+".name", "empty")
		}
		if names[s.Name] {
			return invalid(field+".name", "duplicate %q", s.Name)
		}
		names[s.Name] = true
		if s.Slot == 0 || s.Slot > regs.MaxSourceSlot {
			return invalid(field+".slot", "%d not in 1-%d", s.Slot, regs.MaxSourceSlot)
		}
		if other, ok := slots[s.Slot]; ok {
			return invalid(field+".slot", "%d already routed to %q", s.Slot, other)
		}
		slots[s.Slot] = s.Name
		if _, err := parseDirection(s.Direction); err != nil {
			return invalid(field+".direction", "%w", err)
		}
	}

	if err := p.SPI.validate(); err != nil {
		return err
	}
	if s, err := p.Source(p.SPI.TxSource); err != nil {
		return invalid("spi.tx_source", "%w", err)
	} else if s.Kind != dma.SourceTx {
		return invalid("spi.tx_source", "%w: %q serves %v", pkg.ErrInvalidSource, s.Name, s.Kind)
	}
	if s, err := p.Source(p.SPI.RxSource); err != nil {
		return invalid("spi.rx_source", "%w", err)
	} else if s.Kind != dma.SourceRx {
		return invalid("spi.rx_source", "%w: %q serves %v", pkg.ErrInvalidSource, s.Name, s.Kind)
	}

	if _, ok := pkg.ParseLogLevel(p.Log.Level); !ok && p.Log.Level != "" {
		return invalid("log.level", "unknown level %q", p.Log.Level)
	}
	if _, err := parseFormat(p.Log.Format); err != nil {
		return invalid("log.format", "%w", err)
	}
	return nil
}

func (s *SPI) validate() error {
	switch {
	case s.FIFODepth < 2 || s.FIFODepth > MaxFIFODepth || bits.OnesCount(uint(s.FIFODepth)) != 1:
		return invalid("spi.fifo_depth", "%d is not a power of two in 2-%d", s.FIFODepth, MaxFIFODepth)
	case s.Burst < 1 || int(s.TxWatermark)+s.Burst > s.FIFODepth:
		return invalid("spi.burst", "watermark %d with burst %d overflows %d words",
			s.TxWatermark, s.Burst, s.FIFODepth)
	case int(s.RxWatermark) >= s.FIFODepth:
		return invalid("spi.rx_watermark", "%d for %d words", s.RxWatermark, s.FIFODepth)
	case s.Timeout <= 0:
		return invalid("spi.timeout", "%v", s.Timeout)
	case s.Mode > 3:
		return invalid("spi.mode", "%d", s.Mode)
	case s.Prescale > 7:
		return invalid("spi.prescale", "%d", s.Prescale)
	}
	return nil
}

// Source returns the request source called name.
func (p *Profile) Source(name string) (*dma.Source, error) {
	for _, s := range p.Sources {
		if s.Name != name {
			continue
		}
		kind, err := parseDirection(s.Direction)
		if err != nil {
			return nil, err
		}
		return &dma.Source{Name: s.Name, Slot: s.Slot, Peripheral: s.Peripheral, Kind: kind}, nil
	}
	return nil, fmt.Errorf("%w: no source %q", pkg.ErrInvalidSource, name)
}

// Limits returns the builder limits.
func (p *Profile) Limits() dma.Limits {
	return dma.Limits{
		MaxIterations:  p.DMA.MaxMajorIterations,
		MaxNBytes:      p.DMA.MaxNBytes,
		MaxChainLength: p.DMA.MaxChainLength,
	}
}

// EngineOptions returns engine options for the profile. The caller sets the
// metrics registry.
func (p *Profile) EngineOptions() dma.Options {
	return dma.Options{
		Limits:          p.Limits(),
		DescriptorPool:  p.DMA.DescriptorPool,
		CancelTimeout:   p.DMA.CancelTimeout,
		EventQueueDepth: p.DMA.EventQueueDepth,
	}
}

// FIFOLog2 returns log2 of the serial engine FIFO depth, the form the
// PARAM register reports.
func (p *Profile) FIFOLog2() uint8 {
	return uint8(bits.TrailingZeros(uint(p.SPI.FIFODepth)))
}

// SPIConfig returns the serial engine configuration with its sources
// resolved.
func (p *Profile) SPIConfig() (spi.Config, error) {
	tx, err := p.Source(p.SPI.TxSource)
	if err != nil {
		return spi.Config{}, err
	}
	rx, err := p.Source(p.SPI.RxSource)
	if err != nil {
		return spi.Config{}, err
	}
	c := spi.DefaultConfig(tx, rx)
	c.Mode = p.SPI.Mode
	c.Prescale = p.SPI.Prescale
	c.TxWatermark = p.SPI.TxWatermark
	c.RxWatermark = p.SPI.RxWatermark
	c.Burst = p.SPI.Burst
	c.Timeout = p.SPI.Timeout
	return c, nil
}

// ApplyLogging configures the package logger from the log section.
func (p *Profile) ApplyLogging() error {
	if p.Log.Level != "" {
		level, ok := pkg.ParseLogLevel(p.Log.Level)
		if !ok {
			return invalid("log.level", "unknown level %q", p.Log.Level)
		}
		pkg.SetLogLevel(level)
	}
	format, err := parseFormat(p.Log.Format)
	if err != nil {
		return invalid("log.format", "%w", err)
	}
	pkg.SetLogFormat(format)
	return nil
}

func parseDirection(s string) (dma.SourceKind, error) {
	for _, k := range []dma.SourceKind{dma.SourceTx, dma.SourceRx, dma.SourceAlways} {
		if s == k.String() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: direction %q", pkg.ErrInvalidSource, s)
}

func parseFormat(s string) (pkg.LogFormat, error) {
	switch s {
	case "", "text":
		return pkg.LogFormatText, nil
	case "json":
		return pkg.LogFormatJSON, nil
	}
	return 0, fmt.Errorf("unknown format %q", s)
}
