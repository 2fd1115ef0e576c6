package topology

import (
	"context"
	"errors"
	"time"

	"github.com/relex/slog-buffer/base"
)

// BufferSender sends items into a stage according to its whenFull policy, passing excess items to the next stage in
// case of overflow
//
// Send can be called concurrently by multiple producers.
type BufferSender[T base.Bufferable] struct {
	base     SenderAdapter[T]
	whenFull base.WhenFull
	overflow *BufferSender[T]
	usage    base.BufferUsage
}

// Send sends the item. Errors are returned from the stage as-is, without any retry.
func (s *BufferSender[T]) Send(ctx context.Context, item T) error {
	return s.SendWithReference(ctx, item, time.Time{})
}

// SendWithReference sends the item and records the duration since sentAt, unless it's zero
func (s *BufferSender[T]) SendWithReference(ctx context.Context, item T, sentAt time.Time) error {
	count := item.EventCount()
	size := item.SizeOf()

	switch s.whenFull {
	case base.WhenFullBlock:
		if err := s.base.send(ctx, item); err != nil {
			s.recordFailure(err, count, size)
			return err
		}
	case base.WhenFullDropNewest:
		sent, err := s.base.trySend(item)
		if err != nil {
			s.usage.IncrementDropped(count, size, false)
			return err
		}
		if !sent {
			s.usage.IncrementDropped(count, size, true)
			return nil
		}
	case base.WhenFullOverflow:
		sent, err := s.base.trySend(item)
		if err != nil {
			s.usage.IncrementDropped(count, size, false)
			return err
		}
		if !sent {
			return s.overflow.SendWithReference(ctx, item, sentAt)
		}
	}

	s.usage.IncrementReceived(count, size)
	if !sentAt.IsZero() {
		s.usage.EmitSendDuration(time.Since(sentAt))
	}
	return nil
}

func (s *BufferSender[T]) recordFailure(err error, count int, size int) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return // left to the caller
	}
	s.usage.IncrementDropped(count, size, false)
}

// Flush flushes this stage and all the following stages
func (s *BufferSender[T]) Flush() error {
	if err := s.base.flush(); err != nil {
		return err
	}
	if s.overflow != nil {
		return s.overflow.Flush()
	}
	return nil
}

// Close closes this stage and all the following stages; receivers get EOF after all items are received
func (s *BufferSender[T]) Close() error {
	err := s.base.close()
	if s.overflow != nil {
		if oerr := s.overflow.Close(); err == nil {
			err = oerr
		}
	}
	return err
}
