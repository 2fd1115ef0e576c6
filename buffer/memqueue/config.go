package memqueue

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/base/bconfig"
	"github.com/relex/slog-buffer/defs"
)

// Config defines the configuration of an in-memory buffer stage
type Config struct {
	bconfig.Header `yaml:",inline"`
	MaxEvents      int               `yaml:"maxEvents"` // max numbers of events; default to defs.MemoryBufferDefaultMaxEvents
	MaxSize        datasize.ByteSize `yaml:"maxSize"`   // max total of estimated bytes; unlimited if zero
	WhenFull       base.WhenFull     `yaml:"whenFull"`
}

// GetWhenFull returns the policy applied when the queue is full
func (cfg *Config) GetWhenFull() base.WhenFull {
	return cfg.WhenFull
}

// VerifyConfig checks configuration and fills defaults
func (cfg *Config) VerifyConfig() error {
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = defs.MemoryBufferDefaultMaxEvents
	}
	if cfg.MaxEvents < 0 {
		return fmt.Errorf(".maxEvents cannot be negative: %d", cfg.MaxEvents)
	}
	return nil
}
