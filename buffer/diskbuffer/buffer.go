// Package diskbuffer provides a durable FIFO buffer of records in append-only segment files under a data dir
//
// Layout of data dir:
//
//	buffer.lock       exclusive lock held by the open buffer
//	ledger            two checksummed slots of buffer state, written alternately
//	segments/<N>.dat  segment files made of framed records
//
// Each record gets a monotonic ID from the writer. The reader delivers records in ID order, and segments are deleted
// after all of their records are acknowledged through Acker. Unacknowledged records are delivered again after restart.
package diskbuffer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
)

// Buffer is an opened disk buffer with one writer and one reader
type Buffer[T base.Bufferable] struct {
	logger   logger.Logger
	dataDir  string
	lock     io.Closer
	ledger   *Ledger
	acker    *Acker
	writer   *Writer[T]
	reader   *Reader[T]
	usage    *usageTracker
	stopping *channels.SignalAwaitable
	stopped  *channels.SignalAwaitable
	close    func() bool
	closeErr error
}

// Open opens or creates the buffer in dataDir, recovering from any previous shutdown or crash
//
// The config must have been verified
func Open[T base.Bufferable](parentLogger logger.Logger, fs fsys.Filesystem, dataDir string, config *Config,
	codec base.Codec[T], metricCreator promreg.MetricCreator,
) (*Buffer[T], error) {
	blogger := parentLogger.WithFields(logger.Fields{
		defs.LabelComponent: "DiskBuffer",
		defs.LabelDir:       dataDir,
	})
	segmentsDir := filepath.Join(dataDir, defs.SegmentsDirName)
	if err := fs.MkdirAll(segmentsDir); err != nil {
		return nil, fmt.Errorf("failed to create dir %s: %w", segmentsDir, err)
	}

	lock, lerr := fs.Lock(filepath.Join(dataDir, defs.LockFileName))
	if lerr != nil {
		if errors.Is(lerr, fsys.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrBufferLocked, dataDir)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", dataDir, lerr)
	}

	buf, err := openLocked(blogger, fs, dataDir, segmentsDir, config, codec, metricCreator)
	if err != nil {
		lock.Close()
		return nil, err
	}
	buf.lock = lock
	go buf.runFlusher(config.FlushInterval)
	return buf, nil
}

func openLocked[T base.Bufferable](blogger logger.Logger, fs fsys.Filesystem, dataDir string, segmentsDir string,
	config *Config, codec base.Codec[T], metricCreator promreg.MetricCreator,
) (*Buffer[T], error) {
	ledger, lerr := LoadLedger(blogger, fs, dataDir)
	if lerr != nil {
		return nil, lerr
	}

	maxPayload := int(config.MaxSegmentSize.Bytes()) - frameOverhead
	recovered, rerr := recoverLedger(blogger, fs, segmentsDir, ledger, maxPayload)
	if rerr != nil {
		ledger.Close()
		return nil, rerr
	}

	usage := newUsageTracker(int64(config.MaxSize.Bytes()), newDiskMetrics(metricCreator))
	acker := newAcker(blogger, ledger.AckedReadID(), func(nextAckedID base.RecordID, records int, bytes int64) {
		ledger.AdvanceAcked(nextAckedID)
		usage.release(records, bytes)
	})
	written := newNotifier()

	writer := newWriter(blogger, fs, segmentsDir, config, codec, ledger, acker, usage, written)
	if err := writer.open(recovered); err != nil {
		ledger.Close()
		return nil, err
	}
	reader := newReader(blogger, fs, segmentsDir, config, codec, ledger, acker, usage, written, writer.IsClosed)
	pendingBytes, perr := reader.open()
	if perr != nil {
		writer.Close()
		ledger.Close()
		return nil, perr
	}

	state := ledger.State()
	usage.add(int(state.NextWriteID-state.AckedReadID), pendingBytes)
	usage.metrics.segments.Set(int64(len(state.Segments)))
	blogger.Infof("opened segments=%d next=%d acked=%d pending=%d bytes=%d", len(state.Segments),
		state.NextWriteID, state.AckedReadID, state.NextWriteID-state.AckedReadID, pendingBytes)

	buf := &Buffer[T]{
		logger:   blogger,
		dataDir:  dataDir,
		ledger:   ledger,
		acker:    acker,
		writer:   writer,
		reader:   reader,
		usage:    usage,
		stopping: channels.NewSignalAwaitable(),
		stopped:  channels.NewSignalAwaitable(),
	}
	buf.close = util.NewRunOnce(buf.closeOnce)
	return buf, nil
}

// Writer returns the writer of this buffer, which may be used by multiple producers
func (buf *Buffer[T]) Writer() *Writer[T] {
	return buf.writer
}

// Reader returns the reader of this buffer, which should be used by one consumer
func (buf *Buffer[T]) Reader() *Reader[T] {
	return buf.reader
}

// Acker returns the acknowledger of records delivered by Reader
func (buf *Buffer[T]) Acker() *Acker {
	return buf.acker
}

// DataDir returns the path of data dir
func (buf *Buffer[T]) DataDir() string {
	return buf.dataDir
}

// PendingRecords returns the numbers of records written but not acknowledged
func (buf *Buffer[T]) PendingRecords() int64 {
	buf.acker.apply()
	return buf.usage.records.Load()
}

// PendingBytes returns the bytes of records written but not acknowledged, including framing
func (buf *Buffer[T]) PendingBytes() int64 {
	buf.acker.apply()
	return buf.usage.bytes.Load()
}

func (buf *Buffer[T]) runFlusher(interval time.Duration) {
	defer buf.stopped.Signal()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-buf.stopping.Channel():
			return
		case <-ticker.C:
			if err := buf.writer.Flush(); err != nil {
				buf.logger.Errorf("failed to flush: %s", err.Error())
			}
		}
	}
}

// Close flushes the writer, persists the ledger and releases the data dir
//
// Pending calls of Writer and Reader return ErrClosed
func (buf *Buffer[T]) Close() error {
	buf.close()
	return buf.closeErr
}

func (buf *Buffer[T]) closeOnce() {
	buf.stopping.Signal()
	buf.stopped.Wait(defs.BufferShutDownTimeout)

	var errs []error
	if err := buf.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	buf.acker.notifier.Notify() // wake up the writers waiting for space
	buf.reader.Close()
	buf.acker.apply()
	if err := buf.ledger.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := buf.lock.Close(); err != nil {
		errs = append(errs, err)
	}
	buf.closeErr = errors.Join(errs...)
	buf.logger.Info("closed")
}
