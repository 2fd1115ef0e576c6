package base

import (
	"fmt"
)

// RawEventBatch is a batch of serialized events, e.g. log records already encoded by an input
//
// It's the payload type used by the CLI and integration tests; the buffer itself never looks inside.
type RawEventBatch struct {
	Events [][]byte `msgpack:"e"`
}

// NewRawEventBatch creates a batch from the given events
func NewRawEventBatch(events ...[]byte) RawEventBatch {
	return RawEventBatch{Events: events}
}

// EventCount returns the number of events in the batch
func (batch RawEventBatch) EventCount() int {
	return len(batch.Events)
}

// SizeOf returns the total length of events
func (batch RawEventBatch) SizeOf() int {
	size := 0
	for _, ev := range batch.Events {
		size += len(ev)
	}
	return size
}

func (batch RawEventBatch) String() string {
	return fmt.Sprintf("events=%d bytes=%d", batch.EventCount(), batch.SizeOf())
}
