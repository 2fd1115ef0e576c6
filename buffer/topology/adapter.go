// Package topology chains buffer stages into one sender and one receiver, applying the whenFull policy of each stage
package topology

import (
	"context"
	"fmt"

	"github.com/relex/gotils/channels"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/memqueue"
)

// SenderAdapter is the write side of one stage: either an in-memory queue or a disk buffer writer
type SenderAdapter[T base.Bufferable] struct {
	inMemory *memqueue.LimitedQueue[T]
	diskV2   *diskbuffer.Writer[T]
}

// InMemorySender creates a SenderAdapter for an in-memory queue
func InMemorySender[T base.Bufferable](queue *memqueue.LimitedQueue[T]) SenderAdapter[T] {
	return SenderAdapter[T]{inMemory: queue}
}

// DiskV2Sender creates a SenderAdapter for a disk buffer
func DiskV2Sender[T base.Bufferable](writer *diskbuffer.Writer[T]) SenderAdapter[T] {
	return SenderAdapter[T]{diskV2: writer}
}

func (a SenderAdapter[T]) String() string {
	switch {
	case a.inMemory != nil:
		return "InMemory"
	case a.diskV2 != nil:
		return "DiskV2"
	default:
		return "None"
	}
}

func (a SenderAdapter[T]) send(ctx context.Context, item T) error {
	switch {
	case a.inMemory != nil:
		return a.inMemory.Send(ctx, item)
	case a.diskV2 != nil:
		_, err := a.diskV2.WriteRecord(ctx, item)
		return err
	default:
		return fmt.Errorf("BUG: empty sender adapter")
	}
}

// trySend returns false without error if the stage is full
func (a SenderAdapter[T]) trySend(item T) (bool, error) {
	switch {
	case a.inMemory != nil:
		return a.inMemory.TrySend(item)
	case a.diskV2 != nil:
		_, written, err := a.diskV2.TryWriteRecord(item)
		return written, err
	default:
		return false, fmt.Errorf("BUG: empty sender adapter")
	}
}

func (a SenderAdapter[T]) flush() error {
	if a.diskV2 != nil {
		return a.diskV2.Flush()
	}
	return nil
}

func (a SenderAdapter[T]) close() error {
	switch {
	case a.inMemory != nil:
		a.inMemory.Close()
	case a.diskV2 != nil:
		return a.diskV2.Close()
	}
	return nil
}

// ReceiverAdapter is the read side of one stage
type ReceiverAdapter[T base.Bufferable] struct {
	inMemory *memqueue.LimitedQueue[T]
	diskV2   *diskbuffer.Reader[T]
	acker    base.Acknowledger
}

// InMemoryReceiver creates a ReceiverAdapter for an in-memory queue
func InMemoryReceiver[T base.Bufferable](queue *memqueue.LimitedQueue[T]) ReceiverAdapter[T] {
	return ReceiverAdapter[T]{inMemory: queue, acker: base.PassthroughAcknowledger{}}
}

// DiskV2Receiver creates a ReceiverAdapter for a disk buffer, whose records need to be acknowledged
func DiskV2Receiver[T base.Bufferable](reader *diskbuffer.Reader[T], acker base.Acknowledger) ReceiverAdapter[T] {
	return ReceiverAdapter[T]{diskV2: reader, acker: acker}
}

func (a ReceiverAdapter[T]) hasAcks() bool {
	return a.diskV2 != nil
}

func (a ReceiverAdapter[T]) tryRecv() (T, bool, error) {
	switch {
	case a.inMemory != nil:
		item, ok := a.inMemory.TryRecv()
		return item, ok, nil
	case a.diskV2 != nil:
		return a.diskV2.ReadNext()
	default:
		var empty T
		return empty, false, fmt.Errorf("BUG: empty receiver adapter")
	}
}

// recv waits for the next item and returns io.EOF once the stage is closed and drained
func (a ReceiverAdapter[T]) recv(ctx context.Context) (T, error) {
	switch {
	case a.inMemory != nil:
		return a.inMemory.Recv(ctx)
	case a.diskV2 != nil:
		return a.diskV2.Read(ctx)
	default:
		var empty T
		return empty, fmt.Errorf("BUG: empty receiver adapter")
	}
}

func (a ReceiverAdapter[T]) drained() bool {
	switch {
	case a.inMemory != nil:
		return a.inMemory.Drained()
	case a.diskV2 != nil:
		return a.diskV2.Drained()
	default:
		return true
	}
}

// arrival returns an Awaitable signalled when the stage may have a new item or has been closed
func (a ReceiverAdapter[T]) arrival() channels.Awaitable {
	switch {
	case a.inMemory != nil:
		return a.inMemory.Arrival()
	case a.diskV2 != nil:
		return a.diskV2.Arrival()
	default:
		return nil
	}
}
