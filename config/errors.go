package config

import (
	"fmt"

	"github.com/ardnew/softdma/dma"
	"github.com/ardnew/softdma/pkg"
)

// ConfigError reports a profile that cannot be decoded or is inconsistent.
// It matches pkg.ErrInvalidConfig and any underlying error.
type ConfigError struct {
	Field string // YAML path, empty for decode errors
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return "config: " + e.Field + ": " + e.Err.Error()
}

// Unwrap returns pkg.ErrInvalidConfig and the cause.
func (e *ConfigError) Unwrap() []error { return []error{pkg.ErrInvalidConfig, e.Err} }

// Class reports dma.ClassConfiguration.
func (e *ConfigError) Class() dma.ErrorClass { return dma.ClassConfiguration }

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
