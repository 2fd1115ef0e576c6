package base

import (
	"time"
)

// BufferUsage receives instrumentation of a buffer stage
//
// Methods may be called concurrently by producers and the consumer of a stage
type BufferUsage interface {
	// IncrementReceived counts events accepted by the stage
	IncrementReceived(count int, bytes int)

	// IncrementSent counts events delivered out of the stage to its consumer
	IncrementSent(count int, bytes int)

	// IncrementDropped counts events dropped by the stage; intentional means dropped by policy (whenFull) rather than
	// by error
	IncrementDropped(count int, bytes int, intentional bool)

	// EmitSendDuration records the time from a reference point given by the producer until the send completed
	EmitSendDuration(elapsed time.Duration)
}

// NoopBufferUsage is a BufferUsage which records nothing
type NoopBufferUsage struct{}

// IncrementReceived does nothing
func (NoopBufferUsage) IncrementReceived(count int, bytes int) {}

// IncrementSent does nothing
func (NoopBufferUsage) IncrementSent(count int, bytes int) {}

// IncrementDropped does nothing
func (NoopBufferUsage) IncrementDropped(count int, bytes int, intentional bool) {}

// EmitSendDuration does nothing
func (NoopBufferUsage) EmitSendDuration(elapsed time.Duration) {}
