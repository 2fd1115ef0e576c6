package diskbuffer

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync"
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
)

// Acker tracks ordered acknowledgements of records delivered by Reader
//
// Ack(n) confirms the next n delivered records. Acks are collected lock-free and applied lazily by whichever side
// queries the state next, i.e. the reader deleting segments or the writer waiting for space.
type Acker struct {
	logger   logger.Logger
	pending  *xsync.Counter // acks received but not applied
	baseID   base.RecordID  // first record not acknowledged when the buffer was opened
	acked    atomic.Uint64  // numbers of records acknowledged since baseID
	notifier *notifier

	mutex     sync.Mutex
	sizes     []int64 // frame sizes of delivered but unacknowledged records, in order
	delivered uint64  // numbers of records delivered since baseID
	onRelease func(nextAckedID base.RecordID, records int, bytes int64)
}

func newAcker(parentLogger logger.Logger, baseID base.RecordID,
	onRelease func(nextAckedID base.RecordID, records int, bytes int64),
) *Acker {
	return &Acker{
		logger:    parentLogger.WithField(defs.LabelPart, "acker"),
		pending:   new(xsync.Counter),
		baseID:    baseID,
		notifier:  newNotifier(),
		onRelease: onRelease,
	}
}

// Ack confirms the next n delivered records
func (acker *Acker) Ack(n int) {
	if n <= 0 {
		return
	}
	acker.pending.Add(int64(n))
	acker.notifier.Notify()
}

// IsAcknowledged checks whether the given record has been confirmed
func (acker *Acker) IsAcknowledged(id base.RecordID) bool {
	acker.apply()
	return id < acker.baseID+acker.acked.Load()
}

// HighestAcknowledged returns the ID of the last confirmed record, or false if none
func (acker *Acker) HighestAcknowledged() (base.RecordID, bool) {
	acker.apply()
	next := acker.baseID + acker.acked.Load()
	if next == 0 {
		return 0, false
	}
	return next - 1, true
}

// trackDelivered registers a record delivered by reader, in order
func (acker *Acker) trackDelivered(frameSize int64) {
	acker.mutex.Lock()
	defer acker.mutex.Unlock()
	acker.sizes = append(acker.sizes, frameSize)
	acker.delivered++
}

// apply moves pending acks into the acknowledged count and releases their bytes
func (acker *Acker) apply() {
	if acker.pending.Value() == 0 {
		return
	}
	acker.mutex.Lock()
	defer acker.mutex.Unlock()

	received := acker.pending.Value()
	if received <= 0 {
		return
	}
	acker.pending.Add(-received)

	acked := acker.acked.Load()
	count := uint64(received)
	if acked+count > acker.delivered {
		acker.logger.Errorf("BUG: acknowledged %d more records than delivered. stack=%s", acked+count-acker.delivered, util.Stack())
		count = acker.delivered - acked
	}
	if count == 0 {
		return
	}

	var bytes int64
	for _, size := range acker.sizes[:count] {
		bytes += size
	}
	acker.sizes = acker.sizes[count:]
	acker.acked.Store(acked + count)
	if acker.onRelease != nil {
		acker.onRelease(acker.baseID+acked+count, int(count), bytes)
	}
}

func (acker *Acker) awaitable() channels.Awaitable {
	return acker.notifier.Awaitable()
}
