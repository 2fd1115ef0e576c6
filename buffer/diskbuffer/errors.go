package diskbuffer

import (
	"errors"
	"fmt"

	"github.com/relex/slog-buffer/base"
)

var (
	// ErrRecordTooLarge is returned when an encoded record exceeds the configured max record size
	ErrRecordTooLarge = errors.New("record too large")

	// ErrSegmentExists is returned when a new segment file to roll to is already present on disk
	//
	// It indicates a stale file from elsewhere or a corrupted ledger and requires manual intervention
	ErrSegmentExists = errors.New("segment file already exists")

	// ErrLedgerCorrupted is returned when no valid ledger state can be loaded from an existing ledger file
	ErrLedgerCorrupted = errors.New("ledger corrupted")

	// ErrBufferLocked is returned when the data dir is in use by another buffer instance
	ErrBufferLocked = errors.New("buffer is locked by another instance")

	// ErrClosed is returned by operations on a closed buffer
	ErrClosed = errors.New("buffer closed")
)

// CorruptionError reports invalid data of a committed record, anywhere except the tail of the writer's segment
//
// The reader stops at the corrupted record and returns the same error on all further reads. Opening a buffer fails
// with it if recovery finds valid records after a bad one.
type CorruptionError struct {
	SegmentID uint64
	Offset    int64
	RecordID  base.RecordID
	Reason    string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted record id=%d in segment=%d offset=%d: %s", e.RecordID, e.SegmentID, e.Offset, e.Reason)
}
