// Package test provides benchmarks and end-to-end tests of buffers built from configuration
package test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/buffer/topology"
	"github.com/relex/slog-buffer/run"
	"golang.org/x/sync/errgroup"
)

// BenchmarkParams defines the load of a buffer benchmark
type BenchmarkParams struct {
	ConfigFile string
	BufferID   string
	RootPath   string // override root path of disk stages; "tmp" for a temporary dir removed after
	NumEvents  int
	EventSize  int
	BatchSize  int
	Producers  int
}

// LoadResult is the outcome of sending generated events through a buffer and receiving them all
type LoadResult struct {
	NumSent       int // events accepted by Send, including those dropped by policy
	NumReceived   int
	NumDuplicates int
	NumMissing    int
	NumDropped    int // events dropped by stages according to metrics
	BytesReceived int64
}

type benchmarkMetric struct {
	fmt string
	val float64
}

// RunBenchmarkBuffer benchmarks a configured buffer with concurrent producers and one consumer
func RunBenchmarkBuffer(params BenchmarkParams) error {
	config, err := run.LoadConfigFile(params.ConfigFile)
	if err != nil {
		return err
	}
	switch params.RootPath {
	case "":
	case "tmp":
		dir, terr := os.MkdirTemp("", "slogbuffer-bench-")
		if terr != nil {
			return terr
		}
		defer os.RemoveAll(dir)
		config.RootPath = dir
	default:
		config.RootPath = params.RootPath
	}

	loader := run.NewLoader(config, fsys.NewOSFilesystem(), "benchbuffer_")
	costTracker := StartCostTracking()
	result, lerr := RunBufferLoad(logger.Root(), loader, params)
	if lerr != nil {
		return lerr
	}
	reportBenchmarkResult("BenchmarkBuffer", params, result, costTracker.Report())
	logger.Info(promext.DumpMetrics("", true, true, loader.MetricFactory))
	return nil
}

// RunBufferLoad launches the buffer from loader, sends generated events and receives all of them until the buffer is
// drained, then closes the buffer
//
// Each event starts with a 10-digit sequence number, used to verify the received events.
func RunBufferLoad(parentLogger logger.Logger, loader *run.Loader, params BenchmarkParams) (LoadResult, error) {
	result := LoadResult{}
	topo, terr := loader.LaunchBuffer(parentLogger, params.BufferID)
	if terr != nil {
		return result, terr
	}
	defer topo.Close()

	batchSize := max(params.BatchSize, 1)
	numProducers := max(params.Producers, 1)
	numBatches := (params.NumEvents + batchSize - 1) / batchSize
	filler := make([]byte, max(params.EventSize-10, 0))
	for i := range filler {
		filler[i] = 'x'
	}

	received := make([]bool, params.NumEvents)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- receiveAll(topo.Receiver(), received, &result)
	}()

	var numSent atomic.Int64
	producers, pctx := errgroup.WithContext(context.Background())
	for p := 0; p < numProducers; p++ {
		producerIndex := p
		producers.Go(func() error {
			for b := producerIndex; b < numBatches; b += numProducers {
				first := b * batchSize
				last := min(first+batchSize, params.NumEvents)
				events := make([][]byte, 0, last-first)
				for i := first; i < last; i++ {
					event := make([]byte, 0, 10+len(filler))
					event = append(event, fmt.Sprintf("%010d", i)...)
					events = append(events, append(event, filler...))
				}
				if err := topo.Sender().Send(pctx, base.NewRawEventBatch(events...)); err != nil {
					return fmt.Errorf("producer[%d]: %w", producerIndex, err)
				}
				numSent.Add(int64(len(events)))
			}
			return nil
		})
	}
	perr := producers.Wait()
	if cerr := topo.CloseSender(); cerr != nil && perr == nil {
		perr = cerr
	}
	if err := <-consumerDone; err != nil {
		return result, err
	}
	if perr != nil {
		return result, perr
	}

	result.NumSent = int(numSent.Load())
	for _, ok := range received {
		if !ok {
			result.NumMissing++
		}
	}
	bufConfig, _ := loader.FindBuffer(params.BufferID) // found by LaunchBuffer
	result.NumDropped = countDroppedEvents(loader.MetricFactory, topo.ID(), len(bufConfig.Stages))
	return result, nil
}

func receiveAll(receiver *topology.BufferReceiver[base.RawEventBatch], received []bool, result *LoadResult) error {
	for {
		batch, err := receiver.Recv(context.Background())
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, event := range batch.Events {
			result.NumReceived++
			result.BytesReceived += int64(len(event))
			seq, perr := strconv.Atoi(string(event[:min(10, len(event))]))
			if perr != nil || seq < 0 || seq >= len(received) {
				return fmt.Errorf("invalid event received: %q", event)
			}
			if received[seq] {
				result.NumDuplicates++
			}
			received[seq] = true
		}
		receiver.Ack(1)
	}
}

func countDroppedEvents(mfactory *promreg.MetricFactory, bufferID string, numStages int) int {
	total := uint64(0)
	labelNames := []string{"buffer", "stage", "intentional"}
	for i := 0; i < numStages; i++ {
		for _, intentional := range []string{"true", "false"} {
			total += mfactory.AddOrGetCounter("buffer_dropped_events_total", "", labelNames,
				[]string{bufferID, strconv.Itoa(i), intentional}).Get()
		}
	}
	return int(total)
}

func reportBenchmarkResult(title string, params BenchmarkParams, result LoadResult, report CostReport) {
	totalBytes := float64(params.NumEvents) * float64(params.EventSize)
	metrics := []benchmarkMetric{
		{fmt: "%.0f event/sec", val: float64(params.NumEvents) / report.RealTime.Seconds()},
		{fmt: "%.0f MB/sec", val: totalBytes / 1048576 / report.RealTime.Seconds()},
		{fmt: "%0.2f alloc/event", val: float64(report.NumHeapAllocs) / float64(params.NumEvents)},
		{fmt: "%0.2f%% user", val: 100.0 * report.UserTime.Seconds() / report.RealTime.Seconds()},
		{fmt: "%0.2f%% sys", val: 100.0 * report.SystemTime.Seconds() / report.RealTime.Seconds()},
		{fmt: "%0.2f%% gc", val: 100.0 * report.GCCPUFraction},
		{fmt: "%.02f sec", val: report.RealTime.Seconds()},
		{fmt: "%.0f received", val: float64(result.NumReceived)},
		{fmt: "%.0f dropped", val: float64(result.NumDropped)},
		{fmt: "%.0f duplicates", val: float64(result.NumDuplicates)},
	}
	if result.NumReceived+result.NumDropped != params.NumEvents {
		logger.Errorf("numbers of received and dropped events don't match: %d + %d, should be %d",
			result.NumReceived, result.NumDropped, params.NumEvents)
	}
	printBenchmarkMetrics(title, metrics)
}

func printBenchmarkMetrics(title string, metrics []benchmarkMetric) {
	sb := make([]byte, 0, 200)
	sb = append(sb, fmt.Sprintf("%s:", title)...)
	for _, m := range metrics {
		sb = append(sb, fmt.Sprintf("\t"+m.fmt, m.val)...)
	}
	fmt.Println(string(sb))
}
