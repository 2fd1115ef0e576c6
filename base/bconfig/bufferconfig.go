package bconfig

import (
	"fmt"

	"github.com/relex/slog-buffer/base"
)

// BufferStageConfig provides an interface for the configuration of a single buffer stage, e.g. an in-memory queue or
// a disk buffer. All the implementations should support YAML unmarshalling.
//
// Stages are created from the concrete config types by the topology builder, since construction depends on the
// payload type.
type BufferStageConfig interface {
	BaseConfig

	// GetWhenFull returns the policy applied when the stage is full
	GetWhenFull() base.WhenFull
}

// BufferStageConfigHolder holds a BufferStageConfig of any registered type
type BufferStageConfigHolder = ConfigHolder[BufferStageConfig]

// RegisterBufferStageConfigConstructors registers buffer stage config types by name
//
// It can only be called once
func RegisterBufferStageConfigConstructors(table ConfigCreatorTable[BufferStageConfig]) {
	RegisterConfigConstructors(table)
}

// BufferConfig defines a named buffer made of one or more stages
//
// Items go to the first stage; each stage configured with whenFull=overflow passes excess items to the next one.
type BufferConfig struct {
	ID     string                    `yaml:"id"`
	Stages []BufferStageConfigHolder `yaml:"stages"`
}

// VerifyConfig verifies the buffer and all of its stages
func (cfg *BufferConfig) VerifyConfig() error {
	if len(cfg.ID) == 0 {
		return fmt.Errorf(".id is unspecified")
	}
	if len(cfg.Stages) == 0 {
		return fmt.Errorf(".stages is empty")
	}
	for i := range cfg.Stages {
		if err := cfg.Stages[i].VerifyConfig(); err != nil {
			return fmt.Errorf(".stages[%d]: %w", i, err)
		}
	}
	return nil
}
