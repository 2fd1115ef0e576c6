package base

// RecordID identifies a record in a disk buffer
//
// IDs are assigned by the writer, starting from zero in a fresh buffer, and increase by one for each record without
// gaps
type RecordID = uint64

// Bufferable is an opaque payload which can be held by buffers
//
// A payload may represent multiple events, e.g. a batch of log records. Both numbers are used for capacity limits and
// metrics only; they don't need to match the serialized form.
type Bufferable interface {
	// EventCount returns the number of events in this payload, should be at least 1
	EventCount() int

	// SizeOf returns the approximate size in bytes of this payload
	SizeOf() int
}

// Codec serializes and deserializes payloads for disk storage
//
// Implementations must be safe for concurrent use, as the writer and the reader of the same buffer run independently.
type Codec[T Bufferable] interface {
	// Encode appends the serialized item to dst and returns the extended slice
	Encode(item T, dst []byte) ([]byte, error)

	// Decode deserializes one item from src, which must not be retained after return
	Decode(src []byte) (T, error)
}
