package diskbuffer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
)

// Reader reads records in ID order and deletes segments once all of their records are acknowledged
//
// There must be only one consumer per buffer. The reader doesn't block the writer: it only reads records committed
// before the read starts, and committed bytes are never changed.
type Reader[T base.Bufferable] struct {
	logger      logger.Logger
	fs          fsys.Filesystem
	segmentsDir string
	ledger      *Ledger
	acker       *Acker
	usage       *usageTracker
	written     *notifier
	writerDone  func() bool

	mutex      sync.Mutex
	decoder    payloadCodec[T]
	frames     frameReader
	file       fsys.File
	segment    SegmentInfo // segment of the opened file
	offset     int64
	nextID     base.RecordID
	fatalErr   error
	tornLogged bool
	closed     bool
}

func newReader[T base.Bufferable](parentLogger logger.Logger, fs fsys.Filesystem, segmentsDir string, config *Config,
	codec base.Codec[T], ledger *Ledger, acker *Acker, usage *usageTracker, written *notifier, writerDone func() bool,
) *Reader[T] {
	maxPayload := int(config.MaxSegmentSize.Bytes()) - frameOverhead
	if int(config.MaxRecordSize.Bytes()) > maxPayload {
		maxPayload = int(config.MaxRecordSize.Bytes())
	}
	return &Reader[T]{
		logger:      parentLogger.WithField(defs.LabelPart, "reader"),
		fs:          fs,
		segmentsDir: segmentsDir,
		ledger:      ledger,
		acker:       acker,
		usage:       usage,
		written:     written,
		writerDone:  writerDone,
		decoder:     payloadCodec[T]{codec: codec},
		frames:      frameReader{maxPayload: maxPayload},
		nextID:      ledger.AckedReadID(),
	}
}

// open positions the reader at the first unacknowledged record and returns the bytes of records from there
func (r *Reader[T]) open() (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var pendingBytes int64
	for _, seg := range r.ledger.Segments() {
		if seg.End() <= r.nextID {
			continue
		}
		length := seg.Length
		if !seg.Sealed {
			stat, err := r.statSegment(seg.ID)
			if err != nil && !fsys.IsNotFound(err) {
				return 0, err
			}
			length = stat
		}
		if seg.Start < r.nextID {
			if err := r.openSegment(seg); err != nil {
				return 0, err
			}
			length -= r.offset
		}
		pendingBytes += length
	}
	r.ledger.AdvanceRead(r.nextID)
	return pendingBytes, nil
}

func (r *Reader[T]) statSegment(segmentID uint64) (int64, error) {
	file, err := r.fs.OpenReadable(segmentPath(r.segmentsDir, segmentID))
	if err != nil {
		return 0, err
	}
	defer file.Close()
	stat, serr := file.Stat()
	if serr != nil {
		return 0, serr
	}
	return stat.Size(), nil
}

// openSegment opens the segment file and skips to the frame of r.nextID
func (r *Reader[T]) openSegment(seg SegmentInfo) error {
	file, err := r.fs.OpenReadable(segmentPath(r.segmentsDir, seg.ID))
	if err != nil {
		r.usage.metrics.ioErrorsTotal.Inc()
		return fmt.Errorf("failed to open segment=%d: %w", seg.ID, err)
	}
	r.file = file
	r.segment = seg
	r.offset = 0

	skip := r.nextID - seg.Start
	if skip == 0 {
		return nil
	}
	scan, serr := scanFrames(file, -1, r.frames.maxPayload, skip)
	if serr != nil {
		r.usage.metrics.ioErrorsTotal.Inc()
		r.closeSegment()
		return fmt.Errorf("failed to scan segment=%d: %w", seg.ID, serr)
	}
	if scan.validCount < skip {
		r.fatalErr = &CorruptionError{SegmentID: seg.ID, Offset: scan.validLength, RecordID: seg.Start + scan.validCount,
			Reason: "bad frame before resume position: " + scan.stopStatus.String()}
		r.logger.Error(r.fatalErr.Error())
		r.closeSegment()
		return r.fatalErr
	}
	r.offset = scan.validLength
	return nil
}

func (r *Reader[T]) closeSegment() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

// ReadNext returns the next record, or false if all committed records have been read
//
// Errors are not retried. CorruptionError is fatal and returned again on any further call.
func (r *Reader[T]) ReadNext() (T, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var empty T
	if r.closed {
		return empty, false, ErrClosed
	}
	if r.fatalErr != nil {
		return empty, false, r.fatalErr
	}
	r.deleteAcknowledged()

	for {
		if r.nextID >= r.ledger.NextWriteID() {
			return empty, false, nil
		}
		if r.file == nil {
			seg, found := r.ledger.SegmentContaining(r.nextID)
			if !found {
				r.fatalErr = fmt.Errorf("BUG: no segment contains committed record id=%d", r.nextID)
				r.logger.Error(r.fatalErr.Error())
				return empty, false, r.fatalErr
			}
			if err := r.openSegment(seg); err != nil {
				return empty, false, err
			}
		}

		// refresh as the segment may be sealed by writer meanwhile
		seg, found := r.ledger.Segment(r.segment.ID)
		if !found {
			r.closeSegment()
			continue
		}
		r.segment = seg
		if r.nextID >= seg.End() {
			if !seg.Sealed {
				return empty, false, nil
			}
			r.closeSegment()
			continue
		}

		payload, size, status, err := r.frames.readFrame(r.file, r.offset)
		if err != nil {
			r.usage.metrics.ioErrorsTotal.Inc()
			return empty, false, fmt.Errorf("failed to read segment=%d offset=%d: %w", seg.ID, r.offset, err)
		}
		if status != frameValid {
			// only the last committed record of the writer's segment can be a torn write; once more records are
			// committed after it, it's corruption too
			if !seg.Sealed && r.nextID+1 == seg.End() {
				if !r.tornLogged {
					r.logger.Infof("stop at %s record id=%d at tail of segment=%d offset=%d", status, r.nextID, seg.ID, r.offset)
					r.tornLogged = true
				}
				return empty, false, nil
			}
			r.fatalErr = &CorruptionError{SegmentID: seg.ID, Offset: r.offset, RecordID: r.nextID, Reason: status.String() + " frame"}
			r.logger.Error(r.fatalErr.Error())
			return empty, false, r.fatalErr
		}

		item, derr := r.decoder.decode(payload)
		if derr != nil {
			r.fatalErr = &CorruptionError{SegmentID: seg.ID, Offset: r.offset, RecordID: r.nextID, Reason: derr.Error()}
			r.logger.Error(r.fatalErr.Error())
			return empty, false, r.fatalErr
		}
		r.tornLogged = false
		r.offset += size
		r.nextID++
		r.ledger.AdvanceRead(r.nextID)
		r.acker.trackDelivered(size)
		return item, true, nil
	}
}

// Read returns the next record, waiting for new records or until the context is done
//
// It returns io.EOF after the writer is closed and all records are read
func (r *Reader[T]) Read(ctx context.Context) (T, error) {
	var empty T
	for {
		written := r.written.Awaitable()
		acked := r.acker.awaitable()
		writerDone := r.writerDone()

		item, ok, err := r.ReadNext()
		if err != nil {
			return empty, err
		}
		if ok {
			return item, nil
		}
		if writerDone {
			return empty, io.EOF
		}

		select {
		case <-ctx.Done():
			return empty, ctx.Err()
		case <-written.Channel():
		case <-acked.Channel():
		}
	}
}

// Arrival returns an Awaitable signalled when more records are committed or the writer is closed
//
// Take it before ReadNext, or records committed in between may be missed.
func (r *Reader[T]) Arrival() channels.Awaitable {
	return r.written.Awaitable()
}

// Drained checks whether the writer is closed and all records have been read
func (r *Reader[T]) Drained() bool {
	writerDone := r.writerDone()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return writerDone && r.nextID >= r.ledger.NextWriteID()
}

// deleteAcknowledged deletes sealed segments which have been fully read and acknowledged, in order
func (r *Reader[T]) deleteAcknowledged() {
	deleted := false
	for _, seg := range r.ledger.Segments() {
		if !seg.Sealed || seg.End() > r.nextID {
			break
		}
		if seg.Count > 0 && !r.acker.IsAcknowledged(seg.End()-1) {
			break
		}
		if r.file != nil && r.segment.ID == seg.ID {
			r.closeSegment()
		}
		if err := r.fs.DeleteFile(segmentPath(r.segmentsDir, seg.ID)); err != nil && !fsys.IsNotFound(err) {
			r.usage.metrics.ioErrorsTotal.Inc()
			r.logger.Errorf("failed to delete segment=%d: %s", seg.ID, err.Error())
			break
		}
		r.logger.Infof("deleted segment=%d records=%d", seg.ID, seg.Count)
		r.ledger.UntrackSegment(seg.ID)
		r.usage.metrics.segments.Dec()
		deleted = true
	}
	if deleted {
		if err := r.ledger.Persist(); err != nil {
			r.usage.metrics.ioErrorsTotal.Inc()
			r.logger.Errorf("failed to persist ledger: %s", err.Error())
		}
	}
}

// DeleteAcknowledged deletes fully acknowledged segments without reading
func (r *Reader[T]) DeleteAcknowledged() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return
	}
	r.deleteAcknowledged()
}

// Close closes the opened segment
func (r *Reader[T]) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closeSegment()
	r.closed = true
	return nil
}
