package topology

import (
	"context"
	"io"
	"reflect"
	"sync"

	"github.com/relex/gotils/channels"
	"github.com/relex/slog-buffer/base"
)

// BufferReceiver receives items from the first stage and then the overflow stages, for one consumer
//
// Items from stages with acknowledgements need to be acknowledged through Ack in the order of delivery, together
// with items from other stages.
type BufferReceiver[T base.Bufferable] struct {
	base     ReceiverAdapter[T]
	overflow *BufferReceiver[T]
	usage    base.BufferUsage

	tracksAcks bool // whether any stage needs acknowledgements; set on the first receiver only
	ackMutex   sync.Mutex
	delivered  []base.Acknowledger // source of each delivered item not yet acknowledged, in order
}

// TryRecv returns the next item if any stage has one
func (r *BufferReceiver[T]) TryRecv() (T, bool, error) {
	item, acker, ok, err := r.tryRecv()
	if ok {
		r.trackDelivered(acker)
	}
	return item, ok, err
}

func (r *BufferReceiver[T]) tryRecv() (T, base.Acknowledger, bool, error) {
	item, ok, err := r.base.tryRecv()
	if err != nil {
		return item, nil, false, err
	}
	if ok {
		r.usage.IncrementSent(item.EventCount(), item.SizeOf())
		return item, r.base.acker, true, nil
	}
	if r.overflow != nil {
		return r.overflow.tryRecv()
	}
	return item, nil, false, nil
}

// Recv waits for the next item from any stage. It returns io.EOF after all stages are closed and drained.
func (r *BufferReceiver[T]) Recv(ctx context.Context) (T, error) {
	var empty T
	if r.overflow == nil {
		item, err := r.base.recv(ctx)
		if err != nil {
			return empty, err
		}
		r.usage.IncrementSent(item.EventCount(), item.SizeOf())
		r.trackDelivered(r.base.acker)
		return item, nil
	}

	for {
		arrivals := r.arrivals(nil)
		item, ok, err := r.TryRecv()
		if err != nil || ok {
			return item, err
		}
		if r.drained() {
			return empty, io.EOF
		}
		if err := waitForArrival(ctx, arrivals); err != nil {
			return empty, err
		}
	}
}

// arrivals collects the arrival signals of this and all overflow stages
func (r *BufferReceiver[T]) arrivals(list []channels.Awaitable) []channels.Awaitable {
	if a := r.base.arrival(); a != nil {
		list = append(list, a)
	}
	if r.overflow != nil {
		return r.overflow.arrivals(list)
	}
	return list
}

// waitForArrival waits until any of the arrivals is signalled or the context is done
func waitForArrival(ctx context.Context, arrivals []channels.Awaitable) error {
	cases := make([]reflect.SelectCase, 0, len(arrivals)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, a := range arrivals {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(a.Channel())})
	}
	if chosen, _, _ := reflect.Select(cases); chosen == 0 {
		return ctx.Err()
	}
	return nil
}

func (r *BufferReceiver[T]) drained() bool {
	if !r.base.drained() {
		return false
	}
	return r.overflow == nil || r.overflow.drained()
}

func (r *BufferReceiver[T]) trackDelivered(acker base.Acknowledger) {
	if !r.tracksAcks {
		return
	}
	r.ackMutex.Lock()
	defer r.ackMutex.Unlock()
	r.delivered = append(r.delivered, acker)
}

// Ack confirms the next n delivered items
func (r *BufferReceiver[T]) Ack(n int) {
	r.ackMutex.Lock()
	defer r.ackMutex.Unlock()
	if n > len(r.delivered) {
		n = len(r.delivered)
	}
	var current base.Acknowledger
	pending := 0
	for _, acker := range r.delivered[:n] {
		if acker != current {
			if pending > 0 {
				current.Ack(pending)
			}
			current = acker
			pending = 0
		}
		pending++
	}
	if pending > 0 {
		current.Ack(pending)
	}
	r.delivered = r.delivered[n:]
}

// Acknowledger returns the acknowledger of the stage with acknowledgements, or a passthrough one if none
func (r *BufferReceiver[T]) Acknowledger() base.Acknowledger {
	if r.base.hasAcks() {
		return r.base.acker
	}
	if r.overflow != nil {
		return r.overflow.Acknowledger()
	}
	return base.PassthroughAcknowledger{}
}
