package diskbuffer

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/base/bconfig"
	"github.com/relex/slog-buffer/defs"
)

// SyncMode defines when written records are synced to disk
type SyncMode string

// SyncMode values
const (
	SyncInterval SyncMode = "interval" // sync in background every flushInterval, records written since the last sync may be lost at crash
	SyncAlways   SyncMode = "always"   // sync every record before returning from write
)

// Compression defines the compression of record payloads
type Compression string

// Compression values
const (
	CompressionNone Compression = "none"
	CompressionS2   Compression = "s2"
)

// Config defines the configuration of a disk buffer stage
type Config struct {
	bconfig.Header `yaml:",inline"`
	MaxSize        datasize.ByteSize `yaml:"maxSize"`        // max total bytes of unacknowledged records
	MaxSegmentSize datasize.ByteSize `yaml:"maxSegmentSize"` // max bytes of a segment file before rolling to a new one
	MaxRecordSize  datasize.ByteSize `yaml:"maxRecordSize"`  // max bytes of an encoded record; default to max segment size
	FlushInterval  time.Duration     `yaml:"flushInterval"`
	SyncMode       SyncMode          `yaml:"syncMode"`
	Compression    Compression       `yaml:"compression"`
	WhenFull       base.WhenFull     `yaml:"whenFull"`
}

// GetWhenFull returns the policy applied when the buffer is full
func (cfg *Config) GetWhenFull() base.WhenFull {
	return cfg.WhenFull
}

// VerifyConfig checks configuration and fills defaults
func (cfg *Config) VerifyConfig() error {
	if cfg.MaxSize.Bytes() == 0 {
		return fmt.Errorf(".maxSize is unspecified")
	}
	if cfg.MaxSize.Bytes() < uint64(defs.DiskBufferMinMaxSize) {
		return fmt.Errorf(".maxSize must be at least %d bytes", defs.DiskBufferMinMaxSize)
	}
	maxSegments := uint64(MaxTrackedSegments())
	if cfg.MaxSegmentSize == 0 {
		cfg.MaxSegmentSize = datasize.ByteSize(defs.DiskBufferDefaultMaxSegmentBytes)
		if minSize := minSegmentSizeFor(cfg.MaxSize.Bytes(), maxSegments); cfg.MaxSegmentSize.Bytes() < minSize {
			cfg.MaxSegmentSize = datasize.ByteSize(minSize)
		}
		if cfg.MaxSegmentSize > cfg.MaxSize {
			cfg.MaxSegmentSize = cfg.MaxSize
		}
	}
	if cfg.MaxSegmentSize > cfg.MaxSize {
		return fmt.Errorf(".maxSegmentSize (%s) cannot be larger than .maxSize (%s)", cfg.MaxSegmentSize.HR(), cfg.MaxSize.HR())
	}
	if cfg.MaxSegmentSize.Bytes() <= frameOverhead+1 {
		return fmt.Errorf(".maxSegmentSize is too small: %d", cfg.MaxSegmentSize.Bytes())
	}
	if n := segmentsNeeded(cfg.MaxSize.Bytes(), cfg.MaxSegmentSize.Bytes()); n > maxSegments {
		return fmt.Errorf(".maxSegmentSize (%s) is too small for .maxSize (%s): up to %d segments but the ledger can track %d",
			cfg.MaxSegmentSize.HR(), cfg.MaxSize.HR(), n, maxSegments)
	}
	maxFramedRecord := cfg.MaxSegmentSize - frameOverhead
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = maxFramedRecord
		if cfg.MaxRecordSize > datasize.ByteSize(defs.DiskBufferDefaultMaxRecordBytes) {
			cfg.MaxRecordSize = datasize.ByteSize(defs.DiskBufferDefaultMaxRecordBytes)
		}
	}
	if cfg.MaxRecordSize > maxFramedRecord {
		return fmt.Errorf(".maxRecordSize (%s) must leave %d bytes of framing within .maxSegmentSize (%s)",
			cfg.MaxRecordSize.HR(), frameOverhead, cfg.MaxSegmentSize.HR())
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defs.DiskBufferDefaultFlushInterval
	}
	if cfg.FlushInterval < 0 {
		return fmt.Errorf(".flushInterval cannot be negative")
	}
	switch cfg.SyncMode {
	case "":
		cfg.SyncMode = SyncInterval
	case SyncInterval, SyncAlways:
	default:
		return fmt.Errorf(".syncMode: unsupported '%s'", cfg.SyncMode)
	}
	switch cfg.Compression {
	case "":
		cfg.Compression = CompressionNone
	case CompressionNone, CompressionS2:
	default:
		return fmt.Errorf(".compression: unsupported '%s'", cfg.Compression)
	}
	return nil
}

// segmentsNeeded is the max numbers of segments tracked at the same time: full segments of unacknowledged records, plus
// the writer's segment and a fully acknowledged one pending deletion
func segmentsNeeded(maxSize uint64, maxSegmentSize uint64) uint64 {
	return (maxSize+maxSegmentSize-1)/maxSegmentSize + 2
}

// minSegmentSizeFor is the smallest segment size for which segmentsNeeded fits in maxSegments
func minSegmentSizeFor(maxSize uint64, maxSegments uint64) uint64 {
	if maxSegments <= 2 {
		return maxSize
	}
	return (maxSize + maxSegments - 3) / (maxSegments - 2)
}
