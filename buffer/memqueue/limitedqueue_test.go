package memqueue

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/defs"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func testBatch(events ...string) base.RawEventBatch {
	batch := base.RawEventBatch{}
	for _, ev := range events {
		batch.Events = append(batch.Events, []byte(ev))
	}
	return batch
}

func TestLimitedQueueEventLimit(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](3, 0)
	assert.Equal(t, 3, q.AvailableCapacity())

	ok, err := q.TrySend(testBatch("a", "b"))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, q.AvailableCapacity())

	ok, err = q.TrySend(testBatch("c", "d"))
	assert.NoError(t, err)
	assert.False(t, ok, "two events over the remaining one slot")
	assert.Equal(t, 1, q.AvailableCapacity())

	ok, _ = q.TrySend(testBatch("e"))
	assert.True(t, ok)
	assert.Equal(t, 0, q.AvailableCapacity())

	item, received := q.TryRecv()
	assert.True(t, received)
	assert.Equal(t, testBatch("a", "b"), item)
	assert.Equal(t, 2, q.AvailableCapacity())

	item, received = q.TryRecv()
	assert.True(t, received)
	assert.Equal(t, testBatch("e"), item)
	_, received = q.TryRecv()
	assert.False(t, received)
}

func TestLimitedQueueByteLimit(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](100, 10)
	ok, _ := q.TrySend(testBatch("12345678"))
	assert.True(t, ok)
	ok, _ = q.TrySend(testBatch("123"))
	assert.False(t, ok)
	ok, _ = q.TrySend(testBatch("12"))
	assert.True(t, ok)
	assert.EqualValues(t, 10, q.Bytes())
	assert.EqualValues(t, 2, q.Events())
	assert.Equal(t, 98, q.AvailableCapacity())
}

func TestLimitedQueueOversizedItem(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](2, 4)
	ctx, cancel := context.WithTimeout(context.Background(), defs.TestReadTimeout)
	defer cancel()

	assert.NoError(t, q.Send(ctx, testBatch("a", "b", "c", "1234567890")))
	assert.Equal(t, 0, q.AvailableCapacity())
	item, err := q.Recv(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 4, item.EventCount())
	assert.Equal(t, 2, q.AvailableCapacity())
}

func TestLimitedQueueSendBlocks(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](1, 0)
	assert.NoError(t, q.Send(context.Background(), testBatch("first")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, q.Send(ctx, testBatch("late")), context.DeadlineExceeded)
	cancel()

	sent := make(chan error, 1)
	go func() {
		sent <- q.Send(context.Background(), testBatch("second"))
	}()
	select {
	case <-sent:
		assert.Fail(t, "send should block")
	case <-time.After(20 * time.Millisecond):
	}

	item, err := q.Recv(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, testBatch("first"), item)
	assert.NoError(t, <-sent)
	item, err = q.Recv(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, testBatch("second"), item)
}

func TestLimitedQueueSendWithRoom(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](2, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// room is taken without waiting, so a done context doesn't matter
	assert.NoError(t, q.Send(ctx, testBatch("first")))
	assert.NoError(t, q.Send(ctx, testBatch("second")))
	assert.ErrorIs(t, q.Send(ctx, testBatch("third")), context.Canceled)
	assert.EqualValues(t, 2, q.Events())

	q.Close()
	assert.ErrorIs(t, q.Send(context.Background(), testBatch("closed")), ErrClosed)
	_, _ = q.TryRecv()
	assert.ErrorIs(t, q.Send(context.Background(), testBatch("closed with room")), ErrClosed)
	assert.EqualValues(t, 1, q.Events())
}

func TestLimitedQueueArrival(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](2, 0)
	arrival := q.Arrival()
	assert.False(t, arrival.Peek())
	assert.Same(t, arrival, q.Arrival())

	assert.NoError(t, q.Send(context.Background(), testBatch("first")))
	assert.True(t, arrival.Wait(defs.TestReadTimeout))

	next := q.Arrival()
	assert.False(t, next.Peek())
	received := make(chan base.RawEventBatch, 1)
	go func() {
		next.WaitForever()
		item, _ := q.TryRecv()
		received <- item
	}()
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, q.Send(context.Background(), testBatch("second")))
	assert.Equal(t, testBatch("first"), <-received)

	last := q.Arrival()
	q.Close()
	assert.True(t, last.Peek())
	assert.True(t, q.Arrival().Peek())
}

func TestLimitedQueueOrderWithProducers(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](10, 0)
	const numProducers = 4
	const numItems = 200

	wg := sync.WaitGroup{}
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < numItems; i++ {
				assert.NoError(t, q.Send(context.Background(), testBatch(fmt.Sprintf("%d-%d", p, i))))
			}
		}(p)
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	last := make(map[string]int)
	total := 0
	for {
		item, err := q.Recv(context.Background())
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		p, seq, _ := strings.Cut(string(item.Events[0]), "-")
		i, serr := strconv.Atoi(seq)
		assert.NoError(t, serr)
		if prev, exists := last[p]; exists {
			assert.Equal(t, prev+1, i, "order of producer %s", p)
		}
		last[p] = i
		total++
	}
	assert.Equal(t, numProducers*numItems, total)
	assert.True(t, q.Drained())
	assert.Equal(t, 10, q.AvailableCapacity())
}

func TestLimitedQueueClose(t *testing.T) {
	q := NewLimitedQueue[base.RawEventBatch](1, 0)
	assert.NoError(t, q.Send(context.Background(), testBatch("kept")))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Send(context.Background(), testBatch("blocked"))
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()
	assert.ErrorIs(t, <-blocked, ErrClosed)

	ok, err := q.TrySend(testBatch("after"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, q.Drained())

	item, rerr := q.Recv(context.Background())
	assert.NoError(t, rerr)
	assert.Equal(t, testBatch("kept"), item)
	_, rerr = q.Recv(context.Background())
	assert.ErrorIs(t, rerr, io.EOF)
	assert.True(t, q.Drained())
}

func TestConfig(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, yaml.Unmarshal([]byte("type: memory\nmaxSize: 1MB\nwhenFull: overflow\n"), cfg))
	assert.NoError(t, cfg.VerifyConfig())
	assert.Equal(t, defs.MemoryBufferDefaultMaxEvents, cfg.MaxEvents)
	assert.EqualValues(t, 1024*1024, cfg.MaxSize.Bytes())
	assert.Equal(t, base.WhenFullOverflow, cfg.GetWhenFull())

	assert.Error(t, (&Config{MaxEvents: -1}).VerifyConfig())
}
