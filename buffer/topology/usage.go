package topology

import (
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
)

// StageUsage is the Prometheus implementation of base.BufferUsage for one stage
//
// Counters are updated immediately, while the gauges of current usage are derived from received and sent items and
// written on UpdateGauges.
type StageUsage struct {
	receivedEventsTotal     promext.RWCounter
	receivedBytesTotal      promext.RWCounter
	sentEventsTotal         promext.RWCounter
	sentBytesTotal          promext.RWCounter
	droppedEventsIntended   promext.RWCounter
	droppedEventsUnintended promext.RWCounter
	droppedBytesIntended    promext.RWCounter
	droppedBytesUnintended  promext.RWCounter
	sendDurationTotal       promext.RWCounter
	sendTotal               promext.RWCounter
	bufferEvents            promext.RWGauge
	bufferBytes             promext.RWGauge
	pendingEvents           *xsync.Counter
	pendingBytes            *xsync.Counter
}

// NewStageUsage creates metrics under the given creator, which should carry labels of the buffer and stage
func NewStageUsage(metricCreator promreg.MetricCreator) *StageUsage {
	droppedEvents := metricCreator.AddOrGetCounterVec("dropped_events_total", "Numbers of events dropped by stage", []string{"intentional"}, nil)
	droppedBytes := metricCreator.AddOrGetCounterVec("dropped_bytes_total", "Estimated bytes of events dropped by stage", []string{"intentional"}, nil)
	return &StageUsage{
		receivedEventsTotal:     metricCreator.AddOrGetCounter("received_events_total", "Numbers of events accepted by stage", nil, nil),
		receivedBytesTotal:      metricCreator.AddOrGetCounter("received_bytes_total", "Estimated bytes of events accepted by stage", nil, nil),
		sentEventsTotal:         metricCreator.AddOrGetCounter("sent_events_total", "Numbers of events received from stage by consumer", nil, nil),
		sentBytesTotal:          metricCreator.AddOrGetCounter("sent_bytes_total", "Estimated bytes of events received from stage by consumer", nil, nil),
		droppedEventsIntended:   droppedEvents.WithLabelValues("true"),
		droppedEventsUnintended: droppedEvents.WithLabelValues("false"),
		droppedBytesIntended:    droppedBytes.WithLabelValues("true"),
		droppedBytesUnintended:  droppedBytes.WithLabelValues("false"),
		sendDurationTotal:       metricCreator.AddOrGetCounter("send_duration_microseconds_total", "Total time from reference points to completion of sends", nil, nil),
		sendTotal:               metricCreator.AddOrGetCounter("send_duration_count", "Numbers of sends with reference points", nil, nil),
		bufferEvents:            metricCreator.AddOrGetGauge("buffer_events", "Numbers of events in stage", nil, nil),
		bufferBytes:             metricCreator.AddOrGetGauge("buffer_bytes", "Estimated bytes of events in stage", nil, nil),
		pendingEvents:           new(xsync.Counter),
		pendingBytes:            new(xsync.Counter),
	}
}

// IncrementReceived counts events accepted by the stage
func (u *StageUsage) IncrementReceived(count int, bytes int) {
	u.receivedEventsTotal.Add(uint64(count))
	u.receivedBytesTotal.Add(uint64(bytes))
	u.pendingEvents.Add(int64(count))
	u.pendingBytes.Add(int64(bytes))
}

// IncrementSent counts events delivered to the consumer
func (u *StageUsage) IncrementSent(count int, bytes int) {
	u.sentEventsTotal.Add(uint64(count))
	u.sentBytesTotal.Add(uint64(bytes))
	u.pendingEvents.Add(-int64(count))
	u.pendingBytes.Add(-int64(bytes))
}

// IncrementDropped counts dropped events
func (u *StageUsage) IncrementDropped(count int, bytes int, intentional bool) {
	if intentional {
		u.droppedEventsIntended.Add(uint64(count))
		u.droppedBytesIntended.Add(uint64(bytes))
	} else {
		u.droppedEventsUnintended.Add(uint64(count))
		u.droppedBytesUnintended.Add(uint64(bytes))
	}
}

// EmitSendDuration records the duration of one send
func (u *StageUsage) EmitSendDuration(elapsed time.Duration) {
	u.sendDurationTotal.Add(uint64(elapsed.Microseconds()))
	u.sendTotal.Inc()
}

// UpdateGauges writes current usage into gauges
//
// Items left over from a previous run of a disk buffer aren't counted, as they were never received in this process.
func (u *StageUsage) UpdateGauges() {
	u.bufferEvents.Set(max(u.pendingEvents.Value(), 0))
	u.bufferBytes.Set(max(u.pendingBytes.Value(), 0))
}
