package defs

import (
	"time"
)

var (
	// MemoryBufferDefaultMaxEvents is the default event capacity of an in-memory buffer stage if .maxEvents is unset
	MemoryBufferDefaultMaxEvents = 500

	// DiskBufferDefaultMaxSegmentBytes defines the target size of each segment file
	//
	// A segment is rolled before a write that would make it exceed this size, so segments never exceed it unless the
	// single record written first is larger.
	DiskBufferDefaultMaxSegmentBytes = 128 * 1024 * 1024

	// DiskBufferDefaultMaxRecordBytes defines the max encoded size of one record, excluding framing
	//
	// Records larger than this are rejected with ErrRecordTooLarge and never written. The default of each buffer is
	// further limited by its segment size.
	DiskBufferDefaultMaxRecordBytes = 8 * 1024 * 1024

	// DiskBufferMinMaxSize is the lower bound of .maxSize for disk stages
	//
	// The writer accounts unacknowledged bytes only, but deletes whole segments, so the real usage on disk can go up to
	// .maxSize plus one segment.
	DiskBufferMinMaxSize = 1024

	// DiskBufferDefaultFlushInterval defines how often to fsync the active segment and ledger in interval sync mode
	//
	// This is the window of data loss if the process crashes, as unsynchronized records may not survive.
	DiskBufferDefaultFlushInterval = 500 * time.Millisecond

	// DiskBufferLedgerSlotBytes is the size of each of the two ledger slots
	//
	// The ledger tracks every segment on disk, so the slot size limits the number of segments. Each tracked segment
	// takes up to 67 bytes in msgpack, about 970 segments per slot, and disk configs are rejected if .maxSize over
	// .maxSegmentSize plus 2 is more than that.
	DiskBufferLedgerSlotBytes = 64 * 1024

	// BufferShutDownTimeout is the duration to wait for a buffer to flush and close at shutdown
	BufferShutDownTimeout = 60 * time.Second

	// MetricsUpdateInterval is how often to write gauges of buffer usage from locally accumulated values
	MetricsUpdateInterval = 1 * time.Second

	// RelayMaxLineLength is the max length of an input line of the relay command, longer lines fail the input
	RelayMaxLineLength = 1024 * 1024
)

// For testing and experiments
const (
	TestReadTimeout = 5 * time.Second
)

// EnableTestMode turns on test mode with very short flush interval and timeouts
func EnableTestMode() {
	DiskBufferDefaultFlushInterval = 10 * time.Millisecond
	BufferShutDownTimeout = 5 * time.Second
	MetricsUpdateInterval = 100 * time.Millisecond
}
