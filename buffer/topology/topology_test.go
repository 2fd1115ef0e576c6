package topology

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/base/bconfig"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/buffer/memqueue"
	"github.com/relex/slog-buffer/defs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	defs.EnableTestMode()
	os.Exit(m.Run())
}

type testUsage struct {
	mutex            sync.Mutex
	received         int
	receivedBytes    int
	sent             int
	droppedIntended  int
	droppedOtherwise int
	durations        int
}

func (u *testUsage) IncrementReceived(count int, bytes int) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.received += count
	u.receivedBytes += bytes
}

func (u *testUsage) IncrementSent(count int, bytes int) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.sent += count
}

func (u *testUsage) IncrementDropped(count int, bytes int, intentional bool) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if intentional {
		u.droppedIntended += count
	} else {
		u.droppedOtherwise += count
	}
}

func (u *testUsage) EmitSendDuration(elapsed time.Duration) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.durations++
}

func testEvent(i int) base.RawEventBatch {
	return base.NewRawEventBatch([]byte(fmt.Sprintf("event-%03d", i)))
}

func memoryStage(maxEvents int, whenFull base.WhenFull, usage base.BufferUsage) Stage[base.RawEventBatch] {
	queue := memqueue.NewLimitedQueue[base.RawEventBatch](maxEvents, 0)
	return Stage[base.RawEventBatch]{
		Sender:   InMemorySender(queue),
		Receiver: InMemoryReceiver(queue),
		WhenFull: whenFull,
		Usage:    usage,
	}
}

func openTestDiskBuffer(t *testing.T, fs fsys.Filesystem, dir string) *diskbuffer.Buffer[base.RawEventBatch] {
	cfg := &diskbuffer.Config{MaxSize: 1 * datasize.MB, MaxSegmentSize: 4 * datasize.KB, FlushInterval: time.Hour}
	require.NoError(t, cfg.VerifyConfig())
	buf, err := diskbuffer.Open[base.RawEventBatch](logger.Root(), fs, dir, cfg, diskbuffer.MsgpackCodec[base.RawEventBatch]{},
		promreg.NewMetricFactory("testtopo_", nil, nil))
	require.NoError(t, err)
	return buf
}

func diskStage(buf *diskbuffer.Buffer[base.RawEventBatch], whenFull base.WhenFull, usage base.BufferUsage) Stage[base.RawEventBatch] {
	return Stage[base.RawEventBatch]{
		Sender:   DiskV2Sender(buf.Writer()),
		Receiver: DiskV2Receiver[base.RawEventBatch](buf.Reader(), buf.Acker()),
		WhenFull: whenFull,
		Usage:    usage,
	}
}

func receiveTexts(t *testing.T, receiver *BufferReceiver[base.RawEventBatch]) []string {
	var texts []string
	for {
		item, ok, err := receiver.TryRecv()
		require.NoError(t, err)
		if !ok {
			return texts
		}
		texts = append(texts, string(item.Events[0]))
	}
}

func expectedEventTexts(from int, to int) []string {
	texts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		texts = append(texts, string(testEvent(i).Events[0]))
	}
	return texts
}

func TestBuilderValidation(t *testing.T) {
	noop := base.NoopBufferUsage{}

	_, _, err := NewBuilder[base.RawEventBatch]().Build()
	assert.ErrorIs(t, err, ErrEmptyTopology)

	_, _, err = NewBuilder[base.RawEventBatch]().
		AddStage(memoryStage(1, base.WhenFullOverflow, noop)).
		Build()
	assert.ErrorIs(t, err, ErrOverflowWhenLast)

	_, _, err = NewBuilder[base.RawEventBatch]().
		AddStage(memoryStage(1, base.WhenFullDropNewest, noop)).
		AddStage(memoryStage(1, base.WhenFullBlock, noop)).
		Build()
	assert.ErrorIs(t, err, ErrNextStageNotUsed)

	fs := fsys.NewMemoryFilesystem()
	disk1 := openTestDiskBuffer(t, fs, "/data/d1")
	defer disk1.Close()
	disk2 := openTestDiskBuffer(t, fs, "/data/d2")
	defer disk2.Close()
	_, _, err = NewBuilder[base.RawEventBatch]().
		AddStage(diskStage(disk1, base.WhenFullOverflow, noop)).
		AddStage(diskStage(disk2, base.WhenFullBlock, noop)).
		Build()
	assert.ErrorIs(t, err, ErrStackedAcks)

	_, _, err = NewBuilder[base.RawEventBatch]().
		AddStage(memoryStage(1, base.WhenFullOverflow, noop)).
		AddStage(memoryStage(1, base.WhenFullOverflow, noop)).
		AddStage(diskStage(disk1, base.WhenFullDropNewest, noop)).
		Build()
	assert.NoError(t, err)
}

func TestSenderBlock(t *testing.T) {
	usage := &testUsage{}
	sender, receiver, err := NewBuilder[base.RawEventBatch]().AddStage(memoryStage(1, base.WhenFullBlock, usage)).Build()
	require.NoError(t, err)

	assert.NoError(t, sender.Send(context.Background(), testEvent(0)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, sender.Send(ctx, testEvent(1)), context.DeadlineExceeded)
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- sender.Send(context.Background(), testEvent(1))
	}()
	item, rerr := receiver.Recv(context.Background())
	assert.NoError(t, rerr)
	assert.Equal(t, testEvent(0), item)
	assert.NoError(t, <-done)

	assert.Equal(t, 2, usage.received)
	assert.Zero(t, usage.droppedIntended)
	assert.Zero(t, usage.droppedOtherwise)
}

func TestSenderDropNewest(t *testing.T) {
	usage := &testUsage{}
	sender, receiver, err := NewBuilder[base.RawEventBatch]().AddStage(memoryStage(3, base.WhenFullDropNewest, usage)).Build()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.NoError(t, sender.Send(context.Background(), testEvent(i)))
	}
	assert.Equal(t, 3, usage.received)
	assert.Equal(t, 2, usage.droppedIntended)
	assert.Equal(t, 3*len("event-000"), usage.receivedBytes)
	assert.Equal(t, expectedEventTexts(0, 3), receiveTexts(t, receiver))
	assert.Equal(t, 3, usage.sent)
}

func TestSenderOverflow(t *testing.T) {
	firstUsage := &testUsage{}
	secondUsage := &testUsage{}
	lastUsage := &testUsage{}
	sender, receiver, err := NewBuilder[base.RawEventBatch]().
		AddStage(memoryStage(2, base.WhenFullOverflow, firstUsage)).
		AddStage(memoryStage(3, base.WhenFullOverflow, secondUsage)).
		AddStage(memoryStage(1, base.WhenFullDropNewest, lastUsage)).
		Build()
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		assert.NoError(t, sender.SendWithReference(context.Background(), testEvent(i), time.Now()))
	}
	assert.Equal(t, 2, firstUsage.received)
	assert.Equal(t, 3, secondUsage.received)
	assert.Equal(t, 1, lastUsage.received)
	assert.Equal(t, 2, lastUsage.droppedIntended)
	assert.Equal(t, 2, firstUsage.durations)
	assert.Equal(t, 1, lastUsage.durations)

	// the first stage is always read first
	assert.Equal(t, expectedEventTexts(0, 6), receiveTexts(t, receiver))

	assert.NoError(t, sender.Send(context.Background(), testEvent(100)))
	assert.Equal(t, expectedEventTexts(100, 101), receiveTexts(t, receiver))

	assert.NoError(t, sender.Close())
	_, rerr := receiver.Recv(context.Background())
	assert.ErrorIs(t, rerr, io.EOF)
}

func TestSenderOverflowToDisk(t *testing.T) {
	fs := fsys.NewMemoryFilesystem()
	disk := openTestDiskBuffer(t, fs, "/data/d1")
	sender, receiver, err := NewBuilder[base.RawEventBatch]().
		AddStage(memoryStage(2, base.WhenFullOverflow, nil)).
		AddStage(diskStage(disk, base.WhenFullBlock, nil)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, disk.Acker(), receiver.Acknowledger())

	for i := 0; i < 5; i++ {
		assert.NoError(t, sender.Send(context.Background(), testEvent(i)))
	}
	assert.EqualValues(t, 3, disk.PendingRecords())

	ctx, cancel := context.WithTimeout(context.Background(), defs.TestReadTimeout)
	defer cancel()
	var texts []string
	for i := 0; i < 5; i++ {
		item, rerr := receiver.Recv(ctx)
		require.NoError(t, rerr)
		texts = append(texts, string(item.Events[0]))
	}
	assert.Equal(t, expectedEventTexts(0, 5), texts)

	receiver.Ack(3) // two from memory and one from disk
	highest, ok := disk.Acker().HighestAcknowledged()
	assert.True(t, ok)
	assert.EqualValues(t, 0, highest)
	receiver.Ack(10)
	highest, _ = disk.Acker().HighestAcknowledged()
	assert.EqualValues(t, 2, highest)
	assert.Zero(t, disk.PendingRecords())

	assert.NoError(t, sender.Close())
	_, rerr := receiver.Recv(ctx)
	assert.ErrorIs(t, rerr, io.EOF)
	assert.NoError(t, disk.Close())
}

func TestReceiverWakesOnOverflowArrival(t *testing.T) {
	fs := fsys.NewMemoryFilesystem()
	disk := openTestDiskBuffer(t, fs, "/data/d1")
	first := memqueue.NewLimitedQueue[base.RawEventBatch](1, 0)
	second := memqueue.NewLimitedQueue[base.RawEventBatch](1, 0)
	sender, receiver, err := NewBuilder[base.RawEventBatch]().
		AddStage(Stage[base.RawEventBatch]{Sender: InMemorySender(first), Receiver: InMemoryReceiver(first), WhenFull: base.WhenFullOverflow}).
		AddStage(Stage[base.RawEventBatch]{Sender: InMemorySender(second), Receiver: InMemoryReceiver(second), WhenFull: base.WhenFullOverflow}).
		AddStage(diskStage(disk, base.WhenFullBlock, nil)).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), defs.TestReadTimeout)
	defer cancel()
	receiveLater := func(put func()) string {
		received := make(chan string, 1)
		go func() {
			item, rerr := receiver.Recv(ctx)
			assert.NoError(t, rerr)
			received <- string(item.Events[0])
		}()
		time.Sleep(20 * time.Millisecond)
		put()
		return <-received
	}

	// items put directly into overflow stages, bypassing the first stage
	assert.Equal(t, "event-001", receiveLater(func() {
		assert.NoError(t, second.Send(context.Background(), testEvent(1)))
	}))
	assert.Equal(t, "event-002", receiveLater(func() {
		_, werr := disk.Writer().WriteRecord(context.Background(), testEvent(2))
		assert.NoError(t, werr)
	}))
	receiver.Ack(2)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, rerr := receiver.Recv(shortCtx)
	shortCancel()
	assert.ErrorIs(t, rerr, context.DeadlineExceeded)

	closed := make(chan error, 1)
	go func() {
		_, cerr := receiver.Recv(ctx)
		closed <- cerr
	}()
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, sender.Close())
	assert.ErrorIs(t, <-closed, io.EOF)
	assert.NoError(t, disk.Close())
}

func TestSenderFlush(t *testing.T) {
	ffs := fsys.NewFaultFilesystem(fsys.NewMemoryFilesystem())
	disk := openTestDiskBuffer(t, ffs, "/data/d1")
	sender, _, err := NewBuilder[base.RawEventBatch]().
		AddStage(memoryStage(1, base.WhenFullOverflow, nil)).
		AddStage(diskStage(disk, base.WhenFullBlock, nil)).
		Build()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.NoError(t, sender.Send(context.Background(), testEvent(i)))
	}
	assert.NoError(t, sender.Flush())

	assert.NoError(t, sender.Send(context.Background(), testEvent(3)))
	ffs.DenyPermission("/data/**", fsys.FaultOpSync)
	assert.ErrorIs(t, sender.Flush(), os.ErrPermission, "flush reaches the disk stage")
	ffs.ClearFaults()
	assert.NoError(t, sender.Flush())
	assert.NoError(t, disk.Close())
}

func TestSenderDiskError(t *testing.T) {
	ffs := fsys.NewFaultFilesystem(fsys.NewMemoryFilesystem())
	disk := openTestDiskBuffer(t, ffs, "/data/d1")
	usage := &testUsage{}
	sender, _, err := NewBuilder[base.RawEventBatch]().
		AddStage(diskStage(disk, base.WhenFullBlock, usage)).
		Build()
	require.NoError(t, err)

	ffs.FillDisk("/data/d1/segments/*", 0)
	assert.Error(t, sender.Send(context.Background(), testEvent(0)))
	assert.Equal(t, 1, usage.droppedOtherwise)
	assert.Zero(t, usage.received)
	ffs.ClearFaults()

	// the failed segment is sealed and the next write goes to a new one
	assert.NoError(t, sender.Send(context.Background(), testEvent(1)))
	assert.Equal(t, 1, usage.received)
	assert.NoError(t, disk.Close())
}

func TestBuildFromConfig(t *testing.T) {
	fs := fsys.NewMemoryFilesystem()
	mfactory := promreg.NewMetricFactory("testtopo_", nil, nil)
	config := &bconfig.BufferConfig{
		ID: "b1",
		Stages: []bconfig.BufferStageConfigHolder{
			{Value: &memqueue.Config{MaxEvents: 2, WhenFull: base.WhenFullOverflow}},
			{Value: &diskbuffer.Config{MaxSize: 1 * datasize.MB, MaxSegmentSize: 4 * datasize.KB}},
		},
	}
	require.NoError(t, config.VerifyConfig())

	topo, err := BuildFromConfig[base.RawEventBatch](logger.Root(), fs, "/root", config,
		diskbuffer.MsgpackCodec[base.RawEventBatch]{}, mfactory)
	require.NoError(t, err)
	assert.Equal(t, "b1", topo.ID())

	for i := 0; i < 10; i++ {
		assert.NoError(t, topo.Sender().Send(context.Background(), testEvent(i)))
	}
	assert.NoError(t, topo.CloseSender())

	ctx, cancel := context.WithTimeout(context.Background(), defs.TestReadTimeout)
	defer cancel()
	var texts []string
	for {
		item, rerr := topo.Receiver().Recv(ctx)
		if rerr == io.EOF {
			break
		}
		require.NoError(t, rerr)
		texts = append(texts, string(item.Events[0]))
		topo.Receiver().Ack(1)
	}
	assert.Equal(t, expectedEventTexts(0, 10), texts)
	assert.NoError(t, topo.Close())

	labelNames := []string{"buffer", "stage"}
	assert.EqualValues(t, 2, mfactory.AddOrGetCounter("buffer_received_events_total", "", labelNames, []string{"b1", "0"}).Get())
	assert.EqualValues(t, 8, mfactory.AddOrGetCounter("buffer_received_events_total", "", labelNames, []string{"b1", "1"}).Get())
	assert.EqualValues(t, 8, mfactory.AddOrGetCounter("buffer_sent_events_total", "", labelNames, []string{"b1", "1"}).Get())
	assert.EqualValues(t, 0, mfactory.AddOrGetGauge("buffer_buffer_events", "", labelNames, []string{"b1", "1"}).Get())
	assert.EqualValues(t, 0, mfactory.AddOrGetGauge("buffer_disk_buffer_records", "", labelNames, []string{"b1", "1"}).Get())

	dirs, lerr := diskbuffer.ListDataDirs(logger.Root(), fs, "/root")
	assert.NoError(t, lerr)
	if assert.Len(t, dirs, 1) {
		assert.Equal(t, "b1", dirs[0].BufferID)
	}

	t.Run("invalid", func(t *testing.T) {
		config := &bconfig.BufferConfig{
			ID: "b2",
			Stages: []bconfig.BufferStageConfigHolder{
				{Value: &diskbuffer.Config{MaxSize: 1 * datasize.MB}},
				{Value: &diskbuffer.Config{MaxSize: 1 * datasize.MB}},
			},
		}
		require.NoError(t, config.VerifyConfig())
		_, err := BuildFromConfig[base.RawEventBatch](logger.Root(), fs, "/root", config,
			diskbuffer.MsgpackCodec[base.RawEventBatch]{}, mfactory)
		assert.ErrorIs(t, err, ErrStackedAcks)

		config.Stages = config.Stages[:1]
		config.Stages[0].Value.(*diskbuffer.Config).WhenFull = base.WhenFullOverflow
		_, err = BuildFromConfig[base.RawEventBatch](logger.Root(), fs, "/root", config,
			diskbuffer.MsgpackCodec[base.RawEventBatch]{}, mfactory)
		assert.ErrorIs(t, err, ErrOverflowWhenLast)

		// the failed build must have released the disk buffer
		config.Stages[0].Value.(*diskbuffer.Config).WhenFull = base.WhenFullBlock
		topo, err := BuildFromConfig[base.RawEventBatch](logger.Root(), fs, "/root", config,
			diskbuffer.MsgpackCodec[base.RawEventBatch]{}, mfactory)
		require.NoError(t, err)
		assert.NoError(t, topo.Close())
	})
}
