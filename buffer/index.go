// Package buffer registers the list of all buffer stage types
package buffer

import (
	"github.com/relex/slog-buffer/base/bconfig"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/memqueue"
)

func init() {
	bconfig.RegisterBufferStageConfigConstructors(bconfig.ConfigCreatorTable[bconfig.BufferStageConfig]{
		"memory": func() bconfig.BufferStageConfig { return &memqueue.Config{} },
		"disk":   func() bconfig.BufferStageConfig { return &diskbuffer.Config{} },
	})
}

// Register registers all buffer stage types
func Register() {
	// trigger init()
}
