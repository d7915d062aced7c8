package spi

import (
	"fmt"
	"time"

	"github.com/ardnew/softdma/dma"
	"github.com/ardnew/softdma/pkg"
)

// Default controller parameters.
const (
	DefaultTxWatermark = 8
	DefaultRxWatermark = 0
	DefaultBurst       = 4
	DefaultTimeout     = 100 * time.Millisecond
	DefaultRetryMin    = 50 * time.Microsecond
	DefaultRetryMax    = 5 * time.Millisecond
)

// Config configures a Controller.
type Config struct {
	Mode     uint8 // clock polarity and phase, 0-3
	Prescale uint8 // functional clock divided by 2^Prescale, 0-7
	SCKDiv   uint8 // SCK period in prescaled clocks, minus two
	LSBFirst bool

	// TxWatermark is the transmit FIFO level at or below which the
	// transmit request asserts. RxWatermark is the level above which the
	// receive request asserts; it caps the receive burst at RxWatermark+1.
	TxWatermark uint8
	RxWatermark uint8
	Burst       int // words per transmit minor loop

	Timeout time.Duration // bound on one Tx or Transfer

	TxSource   *dma.Source
	RxSource   *dma.Source
	TxPriority dma.Priority
	RxPriority dma.Priority // above TxPriority

	// Channel acquisition is retried with exponential backoff while the
	// router has no free channel.
	RetryMin time.Duration
	RetryMax time.Duration
}

// DefaultConfig returns mode 0 at the slowest clock, routed to tx and rx.
func DefaultConfig(tx, rx *dma.Source) Config {
	return Config{
		Prescale:    7,
		SCKDiv:      0xFF,
		TxWatermark: DefaultTxWatermark,
		RxWatermark: DefaultRxWatermark,
		Burst:       DefaultBurst,
		Timeout:     DefaultTimeout,
		TxSource:    tx,
		RxSource:    rx,
		TxPriority:  dma.Priority{Level: 1},
		RxPriority:  dma.Priority{Level: 2, CanPreempt: true},
		RetryMin:    DefaultRetryMin,
		RetryMax:    DefaultRetryMax,
	}
}

// validate checks c against a FIFO of depth words.
func (c *Config) validate(depth int) error {
	switch {
	case c.Mode > 3:
		return fmt.Errorf("%w: spi mode %d", pkg.ErrInvalidConfig, c.Mode)
	case c.Prescale > 7:
		return fmt.Errorf("%w: prescale %d", pkg.ErrInvalidConfig, c.Prescale)
	case c.Burst < 1:
		return fmt.Errorf("%w: burst %d", pkg.ErrInvalidConfig, c.Burst)
	case int(c.TxWatermark)+c.Burst > depth:
		return fmt.Errorf("%w: transmit watermark %d with burst %d overflows %d word FIFO",
			pkg.ErrInvalidConfig, c.TxWatermark, c.Burst, depth)
	case int(c.RxWatermark) >= depth:
		return fmt.Errorf("%w: receive watermark %d for %d word FIFO", pkg.ErrInvalidConfig, c.RxWatermark, depth)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout %v", pkg.ErrInvalidConfig, c.Timeout)
	case c.RetryMin <= 0 || c.RetryMax < c.RetryMin:
		return fmt.Errorf("%w: retry interval %v-%v", pkg.ErrInvalidConfig, c.RetryMin, c.RetryMax)
	case c.TxSource == nil || c.TxSource.Kind != dma.SourceTx:
		return fmt.Errorf("%w: transmit source %v", pkg.ErrInvalidSource, c.TxSource)
	case c.RxSource == nil || c.RxSource.Kind != dma.SourceRx:
		return fmt.Errorf("%w: receive source %v", pkg.ErrInvalidSource, c.RxSource)
	case c.RxPriority.Level <= c.TxPriority.Level:
		return fmt.Errorf("%w: receive priority %d not above transmit %d",
			pkg.ErrInvalidConfig, c.RxPriority.Level, c.TxPriority.Level)
	}
	return nil
}
