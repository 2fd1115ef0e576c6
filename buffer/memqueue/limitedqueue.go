// Package memqueue provides LimitedQueue, a bounded in-memory FIFO limited by both events and bytes
package memqueue

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/relex/gotils/channels"
	"github.com/relex/slog-buffer/base"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Send after the queue is closed
var ErrClosed = errors.New("queue closed")

type queuedItem[T base.Bufferable] struct {
	item   T
	events int64
	bytes  int64
}

// LimitedQueue is a FIFO queue for multiple producers and one consumer, limited by the total event count and the
// total estimated bytes of queued items
//
// The weights of an item are capped by the limits, so that an item larger than the queue can still pass alone.
type LimitedQueue[T base.Bufferable] struct {
	maxEvents   int64
	maxBytes    int64
	eventSlots  *semaphore.Weighted
	byteSlots   *semaphore.Weighted
	items       chan queuedItem[T]
	usedEvents  atomic.Int64
	usedBytes   atomic.Int64
	closeMutex  sync.RWMutex
	closed      bool
	closeSignal *channels.SignalAwaitable

	arrivalMutex sync.Mutex
	arrival      *channels.SignalAwaitable // created by the first waiting receiver, signalled by the next push or Close
}

// NewLimitedQueue creates a queue; maxBytes <= 0 means unlimited bytes
func NewLimitedQueue[T base.Bufferable](maxEvents int, maxBytes int64) *LimitedQueue[T] {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	if maxBytes <= 0 {
		maxBytes = math.MaxInt64
	}
	return &LimitedQueue[T]{
		maxEvents:   int64(maxEvents),
		maxBytes:    maxBytes,
		eventSlots:  semaphore.NewWeighted(int64(maxEvents)),
		byteSlots:   semaphore.NewWeighted(maxBytes),
		items:       make(chan queuedItem[T], maxEvents), // each item takes at least one event slot
		closeSignal: channels.NewSignalAwaitable(),
	}
}

func (q *LimitedQueue[T]) weigh(item T) queuedItem[T] {
	events := int64(item.EventCount())
	if events < 1 {
		events = 1
	} else if events > q.maxEvents {
		events = q.maxEvents
	}
	bytes := int64(item.SizeOf())
	if bytes < 0 {
		bytes = 0
	} else if bytes > q.maxBytes {
		bytes = q.maxBytes
	}
	return queuedItem[T]{item: item, events: events, bytes: bytes}
}

// Send waits until both limits have room for the item and enqueues it
func (q *LimitedQueue[T]) Send(ctx context.Context, item T) error {
	qi := q.weigh(item)
	if q.eventSlots.TryAcquire(qi.events) {
		if q.byteSlots.TryAcquire(qi.bytes) {
			return q.push(qi)
		}
		q.eventSlots.Release(qi.events)
	}
	if q.closeSignal.Peek() {
		return ErrClosed
	}
	return q.sendWaiting(ctx, qi)
}

// sendWaiting acquires slots in the order of waiting senders, until the context is done or the queue is closed
func (q *LimitedQueue[T]) sendWaiting(ctx context.Context, qi queuedItem[T]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.closeSignal.Channel():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := q.eventSlots.Acquire(ctx, qi.events); err != nil {
		return q.abortedError(err)
	}
	if err := q.byteSlots.Acquire(ctx, qi.bytes); err != nil {
		q.eventSlots.Release(qi.events)
		return q.abortedError(err)
	}
	return q.push(qi)
}

func (q *LimitedQueue[T]) abortedError(err error) error {
	if q.closeSignal.Peek() {
		return ErrClosed
	}
	return err
}

// TrySend enqueues the item if both limits have room, or returns false and leaves the item to the caller
func (q *LimitedQueue[T]) TrySend(item T) (bool, error) {
	qi := q.weigh(item)
	if !q.eventSlots.TryAcquire(qi.events) {
		return false, q.closedError()
	}
	if !q.byteSlots.TryAcquire(qi.bytes) {
		q.eventSlots.Release(qi.events)
		return false, q.closedError()
	}
	if err := q.push(qi); err != nil {
		return false, err
	}
	return true, nil
}

func (q *LimitedQueue[T]) closedError() error {
	if q.closeSignal.Peek() {
		return ErrClosed
	}
	return nil
}

func (q *LimitedQueue[T]) push(qi queuedItem[T]) error {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()
	if q.closed {
		q.byteSlots.Release(qi.bytes)
		q.eventSlots.Release(qi.events)
		return ErrClosed
	}
	q.usedEvents.Add(qi.events)
	q.usedBytes.Add(qi.bytes)
	q.items <- qi // never blocks as the slots are acquired
	q.signalArrival()
	return nil
}

// Arrival returns an Awaitable signalled on the next push or on Close
//
// Take it before checking the queue, or an item pushed in between may be missed.
func (q *LimitedQueue[T]) Arrival() channels.Awaitable {
	q.arrivalMutex.Lock()
	defer q.arrivalMutex.Unlock()
	if q.closeSignal.Peek() {
		return q.closeSignal
	}
	if q.arrival == nil {
		q.arrival = channels.NewSignalAwaitable()
	}
	return q.arrival
}

func (q *LimitedQueue[T]) signalArrival() {
	q.arrivalMutex.Lock()
	arrival := q.arrival
	q.arrival = nil
	q.arrivalMutex.Unlock()
	if arrival != nil {
		arrival.Signal()
	}
}

func (q *LimitedQueue[T]) pop(qi queuedItem[T]) T {
	q.usedEvents.Add(-qi.events)
	q.usedBytes.Add(-qi.bytes)
	q.byteSlots.Release(qi.bytes)
	q.eventSlots.Release(qi.events)
	return qi.item
}

// Recv waits for the next item. It returns io.EOF after the queue is closed and drained.
func (q *LimitedQueue[T]) Recv(ctx context.Context) (T, error) {
	var empty T
	select {
	case qi, ok := <-q.items:
		if !ok {
			return empty, io.EOF
		}
		return q.pop(qi), nil
	case <-ctx.Done():
		return empty, ctx.Err()
	}
}

// TryRecv returns the next item if there is any
func (q *LimitedQueue[T]) TryRecv() (T, bool) {
	var empty T
	select {
	case qi, ok := <-q.items:
		if !ok {
			return empty, false
		}
		return q.pop(qi), true
	default:
		return empty, false
	}
}

// AvailableCapacity returns the numbers of remaining event slots
func (q *LimitedQueue[T]) AvailableCapacity() int {
	return int(q.maxEvents - q.usedEvents.Load())
}

// Events returns the numbers of queued events
func (q *LimitedQueue[T]) Events() int64 {
	return q.usedEvents.Load()
}

// Bytes returns the total of estimated bytes of queued items
func (q *LimitedQueue[T]) Bytes() int64 {
	return q.usedBytes.Load()
}

// Drained checks whether the queue is closed and empty
func (q *LimitedQueue[T]) Drained() bool {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()
	return q.closed && len(q.items) == 0
}

// Close rejects further sends and wakes up pending senders. Queued items can still be received.
func (q *LimitedQueue[T]) Close() {
	q.closeMutex.Lock()
	defer q.closeMutex.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.closeSignal.Signal()
	close(q.items)
	q.signalArrival()
}
