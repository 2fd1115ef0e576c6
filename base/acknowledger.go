package base

// Acknowledger tracks downstream delivery confirmations of records read from a buffer
//
// Acknowledgements are ordered: Ack(n) confirms the next n records in the order they were delivered. Ack may be
// called concurrently from any goroutine.
type Acknowledger interface {
	// Ack confirms the next n delivered records
	Ack(n int)

	// IsAcknowledged checks whether the given record has been confirmed
	IsAcknowledged(id RecordID) bool

	// HighestAcknowledged returns the ID of the last confirmed record, or false if nothing is confirmed yet
	HighestAcknowledged() (RecordID, bool)
}

// PassthroughAcknowledger is used for buffers without durable storage, where nothing waits for confirmations
type PassthroughAcknowledger struct{}

// Ack does nothing
func (PassthroughAcknowledger) Ack(n int) {}

// IsAcknowledged always returns true
func (PassthroughAcknowledger) IsAcknowledged(id RecordID) bool {
	return true
}

// HighestAcknowledged always returns false as there is no tracking
func (PassthroughAcknowledger) HighestAcknowledged() (RecordID, bool) {
	return 0, false
}
