package run

import (
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/memqueue"
)

// ConfigStats provides a summary of configured buffers, for capacity planning
type ConfigStats struct {
	NumBuffers      int
	NumMemoryStages int
	NumDiskStages   int
	MaxMemoryEvents int    // total event capacity of memory stages
	MaxDiskBytes    uint64 // total max size of disk stages, all under the same root path
	DroppingBuffers []string
}

// NewConfigStats summarizes the given config
func NewConfigStats(config *Config) ConfigStats {
	stats := ConfigStats{NumBuffers: len(config.Buffers)}
	for _, bufConfig := range config.Buffers {
		dropping := false
		for _, holder := range bufConfig.Stages {
			switch stageConfig := holder.Value.(type) {
			case *memqueue.Config:
				stats.NumMemoryStages++
				stats.MaxMemoryEvents += stageConfig.MaxEvents
			case *diskbuffer.Config:
				stats.NumDiskStages++
				stats.MaxDiskBytes += stageConfig.MaxSize.Bytes()
			}
			if holder.Value.GetWhenFull() == base.WhenFullDropNewest {
				dropping = true
			}
		}
		if dropping {
			stats.DroppingBuffers = append(stats.DroppingBuffers, bufConfig.ID)
		}
	}
	return stats
}

// Log logs important information or warnings if there is any
func (stats ConfigStats) Log(logger logger.Logger) {
	logger.Infof("buffers=%d memoryStages=%d diskStages=%d maxMemoryEvents=%d maxDiskBytes=%d",
		stats.NumBuffers, stats.NumMemoryStages, stats.NumDiskStages, stats.MaxMemoryEvents, stats.MaxDiskBytes)
	if len(stats.DroppingBuffers) > 0 {
		logger.Warn("buffers dropping new events when full: ", stats.DroppingBuffers)
	}
}
