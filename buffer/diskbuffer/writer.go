package diskbuffer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
)

var frameBufferPool = util.NewBytesPool()

// Writer appends records to the active segment and rolls to new segments
//
// ID assignment and appending happen in one critical section, so a record either gets its ID with all of its bytes
// written, or nothing changes except the segment being sealed before the failed write.
type Writer[T base.Bufferable] struct {
	logger      logger.Logger
	fs          fsys.Filesystem
	segmentsDir string
	config      *Config
	ledger      *Ledger
	acker       *Acker
	usage       *usageTracker
	written     *notifier

	mutex        sync.Mutex
	encoder      payloadCodec[T]
	file         fsys.File
	activeID     uint64
	activeStart  base.RecordID
	activeLength int64
	sealed       bool // active segment sealed after an error; roll at next write
	dirty        bool // unsynced writes
	fatalErr     error
	closed       *atomic.Bool
}

func newWriter[T base.Bufferable](parentLogger logger.Logger, fs fsys.Filesystem, segmentsDir string, config *Config,
	codec base.Codec[T], ledger *Ledger, acker *Acker, usage *usageTracker, written *notifier,
) *Writer[T] {
	return &Writer[T]{
		logger:      parentLogger.WithField(defs.LabelPart, "writer"),
		fs:          fs,
		segmentsDir: segmentsDir,
		config:      config,
		ledger:      ledger,
		acker:       acker,
		usage:       usage,
		written:     written,
		encoder:     payloadCodec[T]{codec: codec, compression: config.Compression},
		closed:      &atomic.Bool{},
	}
}

// open prepares the writer's segment left by recovery
func (w *Writer[T]) open(recovered recoveryResult) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	state := w.ledger.State()
	seg, found := w.ledger.Segment(state.WriterSegmentID)
	if !found {
		return fmt.Errorf("BUG: writer's segment=%d not tracked after recovery", state.WriterSegmentID)
	}
	w.activeID = seg.ID
	w.activeStart = seg.Start
	if !recovered.activeExists {
		return nil // created at the first write
	}

	file, oerr := w.fs.OpenWritable(segmentPath(w.segmentsDir, seg.ID))
	if oerr != nil {
		return fmt.Errorf("failed to open segment=%d: %w", seg.ID, oerr)
	}
	if _, err := file.Seek(recovered.activeLength, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment=%d: %w", seg.ID, err)
	}
	w.file = file
	w.activeLength = recovered.activeLength
	w.logger.Infof("resume segment=%d start=%d length=%d", seg.ID, seg.Start, recovered.activeLength)
	return nil
}

// WriteRecord writes the item as a new record and returns its ID
//
// It blocks while the buffer is over its max size, until enough records are acknowledged or the context is done.
// Errors are returned as-is and nothing is retried.
func (w *Writer[T]) WriteRecord(ctx context.Context, item T) (base.RecordID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	frameBuf, frame, eerr := w.encodeFrame(item)
	if eerr != nil {
		return 0, eerr
	}
	defer frameBufferPool.Put(frameBuf)

	if err := w.usage.waitForSpace(ctx, int64(len(frame)), w.acker, w.closed); err != nil {
		return 0, err
	}
	return w.append(frame)
}

// TryWriteRecord writes the item unless the buffer is over its max size, in which case written=false is returned
// and the item is left to the caller
func (w *Writer[T]) TryWriteRecord(item T) (id base.RecordID, written bool, err error) {
	frameBuf, frame, eerr := w.encodeFrame(item)
	if eerr != nil {
		return 0, false, eerr
	}
	defer frameBufferPool.Put(frameBuf)

	w.acker.apply()
	if !w.usage.hasSpace(int64(len(frame))) {
		return 0, false, nil
	}
	id, err = w.append(frame)
	return id, err == nil, err
}

func (w *Writer[T]) encodeFrame(item T) (*[]byte, []byte, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	frameBuf := frameBufferPool.Get(frameOverhead + 1 + item.SizeOf())
	frame, err := w.encoder.encode(item, append((*frameBuf)[:0], 0, 0, 0, 0))
	if err != nil {
		frameBufferPool.Put(frameBuf)
		return nil, nil, fmt.Errorf("failed to encode record: %w", err)
	}
	payloadLength := len(frame) - frameHeaderSize
	if uint64(payloadLength) > w.config.MaxRecordSize.Bytes() {
		frameBufferPool.Put(frameBuf)
		return nil, nil, fmt.Errorf("%w: %d bytes > %d", ErrRecordTooLarge, payloadLength, w.config.MaxRecordSize.Bytes())
	}
	return frameBuf, sealFrame(frame), nil
}

// append writes a complete frame to the active segment, rolling first if needed
func (w *Writer[T]) append(frame []byte) (base.RecordID, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed.Load() {
		return 0, ErrClosed
	}
	if w.fatalErr != nil {
		return 0, w.fatalErr
	}
	if w.sealed || (w.activeLength > 0 && w.activeLength+int64(len(frame)) > int64(w.config.MaxSegmentSize.Bytes())) {
		if err := w.roll(); err != nil {
			return 0, err
		}
	}
	if w.file == nil {
		if err := w.createActive(); err != nil {
			return 0, err
		}
	}

	id := w.ledger.NextWriteID()
	if _, err := w.file.Write(frame); err != nil {
		w.sealAfterError(err)
		return 0, fmt.Errorf("failed to write record id=%d to segment=%d: %w", id, w.activeID, err)
	}
	if w.config.SyncMode == SyncAlways {
		if err := w.file.Sync(); err != nil {
			w.sealAfterError(err)
			return 0, fmt.Errorf("failed to sync record id=%d to segment=%d: %w", id, w.activeID, err)
		}
	} else {
		w.dirty = true
	}
	w.activeLength += int64(len(frame))
	w.ledger.AdvanceWrite(id+1, w.activeID)
	w.usage.add(1, int64(len(frame)))
	w.written.Notify()
	return id, nil
}

// sealAfterError seals the active segment before the failed write, which may have left partial bytes behind
func (w *Writer[T]) sealAfterError(cause error) {
	w.usage.metrics.ioErrorsTotal.Inc()
	w.logger.Errorf("seal segment=%d at length=%d after error: %s", w.activeID, w.activeLength, cause.Error())
	w.file.Close()
	w.file = nil
	w.dirty = false
	w.sealed = true
	w.ledger.SealSegment(w.activeID, w.activeLength)
	if err := w.ledger.Persist(); err != nil {
		w.logger.Errorf("failed to persist ledger: %s", err.Error())
	}
}

// roll seals the active segment and starts a new one
//
// The new segment is tracked in the ledger and the ledger is persisted before the file is created, so recovery always
// knows about segment files made by the writer.
func (w *Writer[T]) roll() error {
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			w.sealAfterError(err)
			return fmt.Errorf("failed to sync segment=%d: %w", w.activeID, err)
		}
		w.file.Close()
		w.file = nil
		w.dirty = false
	}
	if !w.sealed {
		w.ledger.SealSegment(w.activeID, w.activeLength)
	}

	nextID := w.ledger.NextWriteID()
	newSegment := SegmentInfo{ID: w.activeID + 1, Start: nextID}
	w.ledger.TrackSegment(newSegment)
	w.ledger.AdvanceWrite(nextID, newSegment.ID)
	w.activeID = newSegment.ID
	w.activeStart = newSegment.Start
	w.activeLength = 0
	w.sealed = false
	w.usage.metrics.segments.Inc()
	if err := w.ledger.Persist(); err != nil {
		w.usage.metrics.ioErrorsTotal.Inc()
		return fmt.Errorf("failed to persist ledger for new segment=%d: %w", newSegment.ID, err)
	}
	return w.createActive()
}

func (w *Writer[T]) createActive() error {
	path := segmentPath(w.segmentsDir, w.activeID)
	file, err := w.fs.OpenWritableAtomic(path)
	if err != nil {
		w.usage.metrics.ioErrorsTotal.Inc()
		if fsys.IsAlreadyExists(err) {
			w.fatalErr = fmt.Errorf("%w: %s", ErrSegmentExists, path)
			w.logger.Errorf("refuse to overwrite existing segment file, manual intervention required: %s", path)
			return w.fatalErr
		}
		return fmt.Errorf("failed to create segment=%d: %w", w.activeID, err)
	}
	w.file = file
	w.logger.Infof("start segment=%d start=%d", w.activeID, w.activeStart)
	return nil
}

// Flush syncs the active segment and persists the ledger
func (w *Writer[T]) Flush() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.flush()
}

func (w *Writer[T]) flush() error {
	if w.file != nil && w.dirty {
		if err := w.file.Sync(); err != nil {
			w.usage.metrics.ioErrorsTotal.Inc()
			return fmt.Errorf("failed to sync segment=%d: %w", w.activeID, err)
		}
		w.dirty = false
	}
	return w.ledger.Persist()
}

// Close flushes and closes the writer. Readers receive EOF after all records are read.
func (w *Writer[T]) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer w.written.Notify()
	err := w.flush()
	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		w.file = nil
	}
	return err
}

// IsClosed checks whether Close has been called
func (w *Writer[T]) IsClosed() bool {
	return w.closed.Load()
}
