package run

import (
	"fmt"

	"github.com/relex/slog-buffer/base/bconfig"
	"github.com/relex/slog-buffer/buffer"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/util"
)

// Config defines the root of slog-buffer config file
type Config struct {
	RootPath string                 `yaml:"rootPath"` // parent dir of the data dirs of disk stages
	Buffers  []bconfig.BufferConfig `yaml:"buffers"`
}

func init() {
	buffer.Register()
}

// LoadConfigFile loads config from the path and verifies all buffers
func LoadConfigFile(filepath string) (*Config, error) {
	cref := &Config{}
	if err := util.UnmarshalYamlFile(filepath, cref); err != nil {
		return nil, err
	}
	if err := cref.VerifyConfig(); err != nil {
		return nil, err
	}
	return cref, nil
}

// ParseConfigString parses config from YAML text and verifies all buffers
func ParseConfigString(contents string) (*Config, error) {
	cref := &Config{}
	if err := util.UnmarshalYamlString(contents, cref); err != nil {
		return nil, err
	}
	if err := cref.VerifyConfig(); err != nil {
		return nil, err
	}
	return cref, nil
}

// VerifyConfig checks all buffers and fills defaults of their stages
func (cfg *Config) VerifyConfig() error {
	if len(cfg.Buffers) == 0 {
		return fmt.Errorf("buffers: none defined")
	}
	idSet := make(map[string]int, len(cfg.Buffers))
	for i := range cfg.Buffers {
		bufConfig := &cfg.Buffers[i]
		if err := bufConfig.VerifyConfig(); err != nil {
			return fmt.Errorf("buffers[%d]: %w", i, err)
		}
		if previous, exists := idSet[bufConfig.ID]; exists {
			return fmt.Errorf("buffers[%d]: duplicate id '%s' with buffers[%d]", i, bufConfig.ID, previous)
		}
		idSet[bufConfig.ID] = i
		if len(cfg.RootPath) == 0 && hasDiskStage(bufConfig) {
			return fmt.Errorf("buffers[%d]: .rootPath is required by disk stages", i)
		}
	}
	return nil
}

// FindBuffer returns the config of the given buffer ID, or the first buffer if id is empty
func (cfg *Config) FindBuffer(id string) (*bconfig.BufferConfig, error) {
	if len(id) == 0 {
		return &cfg.Buffers[0], nil
	}
	for i := range cfg.Buffers {
		if cfg.Buffers[i].ID == id {
			return &cfg.Buffers[i], nil
		}
	}
	return nil, fmt.Errorf("buffer '%s' is not defined", id)
}

func hasDiskStage(bufConfig *bconfig.BufferConfig) bool {
	for _, holder := range bufConfig.Stages {
		if _, ok := holder.Value.(*diskbuffer.Config); ok {
			return true
		}
	}
	return false
}
