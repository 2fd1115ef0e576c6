package test

import (
	"runtime"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/util"
)

type costSnapshot struct {
	realTime      time.Time
	userTime      time.Duration
	systemTime    time.Duration
	numHeapAllocs uint64
	gcCPUFraction float64
}

func takeCostSnapshot() costSnapshot {
	runtime.GC()
	userTime, systemTime, err := util.ProcessCPUTimes()
	if err != nil {
		logger.Panic("failed to get resource usage: ", err)
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return costSnapshot{
		realTime:      time.Now(),
		userTime:      userTime,
		systemTime:    systemTime,
		numHeapAllocs: memStats.Mallocs,
		gcCPUFraction: memStats.GCCPUFraction,
	}
}

// CostReport contains CPU and memory costs over a period
type CostReport struct {
	RealTime      time.Duration
	UserTime      time.Duration
	SystemTime    time.Duration
	NumHeapAllocs uint64
	GCCPUFraction float64
}

// CostTracker tracks CPU usage and memory allocations since its creation
type CostTracker struct {
	start costSnapshot
}

// StartCostTracking creates a CostTracker
func StartCostTracking() *CostTracker {
	return &CostTracker{start: takeCostSnapshot()}
}

// Report returns the costs since the tracker was created
func (ct *CostTracker) Report() CostReport {
	end := takeCostSnapshot()
	return CostReport{
		RealTime:      end.realTime.Sub(ct.start.realTime),
		UserTime:      end.userTime - ct.start.userTime,
		SystemTime:    end.systemTime - ct.start.systemTime,
		NumHeapAllocs: end.numHeapAllocs - ct.start.numHeapAllocs,
		GCCPUFraction: end.gcCPUFraction,
	}
}
