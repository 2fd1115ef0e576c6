package diskbuffer

import (
	"context"
	"sync/atomic"

	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
)

type diskMetrics struct {
	ioErrorsTotal promext.RWCounter
	segments      promext.RWGauge
	bufferRecords promext.RWGauge
	bufferBytes   promext.RWGauge
}

func newDiskMetrics(metricCreator promreg.MetricCreator) diskMetrics {
	return diskMetrics{
		ioErrorsTotal: metricCreator.AddOrGetCounter("disk_io_errors_total", "Numbers of I/O errors in disk buffer operations", nil, nil),
		segments:      metricCreator.AddOrGetGauge("disk_segments", "Numbers of tracked segment files", nil, nil),
		bufferRecords: metricCreator.AddOrGetGauge("disk_buffer_records", "Numbers of unacknowledged records in disk buffer", nil, nil),
		bufferBytes:   metricCreator.AddOrGetGauge("disk_buffer_bytes", "Bytes of unacknowledged records in disk buffer, including framing", nil, nil),
	}
}

// usageTracker accounts unacknowledged records against the max size of buffer
type usageTracker struct {
	maxBytes int64
	records  atomic.Int64
	bytes    atomic.Int64
	metrics  diskMetrics
}

func newUsageTracker(maxBytes int64, metrics diskMetrics) *usageTracker {
	return &usageTracker{
		maxBytes: maxBytes,
		metrics:  metrics,
	}
}

func (u *usageTracker) add(records int, bytes int64) {
	u.records.Add(int64(records))
	u.bytes.Add(bytes)
	u.metrics.bufferRecords.Add(int64(records))
	u.metrics.bufferBytes.Add(bytes)
}

func (u *usageTracker) release(records int, bytes int64) {
	u.records.Add(-int64(records))
	u.bytes.Add(-bytes)
	u.metrics.bufferRecords.Sub(int64(records))
	u.metrics.bufferBytes.Sub(bytes)
}

// hasSpace checks whether a record of the given size can be added. An empty buffer always accepts one record.
func (u *usageTracker) hasSpace(size int64) bool {
	current := u.bytes.Load()
	return current == 0 || current+size <= u.maxBytes
}

func (u *usageTracker) waitForSpace(ctx context.Context, size int64, acker *Acker, closed *atomic.Bool) error {
	for {
		acked := acker.awaitable()
		acker.apply()
		if closed.Load() {
			return ErrClosed
		}
		if u.hasSpace(size) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-acked.Channel():
		}
	}
}
