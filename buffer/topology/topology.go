package topology

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/base/bconfig"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/buffer/memqueue"
	"github.com/relex/slog-buffer/defs"
)

// Topology is a buffer built from BufferConfig, which owns the resources of all of its stages
type Topology[T base.Bufferable] struct {
	logger      logger.Logger
	id          string
	sender      *BufferSender[T]
	receiver    *BufferReceiver[T]
	diskBuffers []*diskbuffer.Buffer[T]
	usages      []*StageUsage
	stopping    *channels.SignalAwaitable
	stopped     *channels.SignalAwaitable
}

// BuildFromConfig creates all the stages of a verified buffer config and chains them
//
// Disk stages store data under a dir made from rootPath and the buffer ID
func BuildFromConfig[T base.Bufferable](parentLogger logger.Logger, fs fsys.Filesystem, rootPath string,
	config *bconfig.BufferConfig, codec base.Codec[T], metricCreator promreg.MetricCreator,
) (*Topology[T], error) {
	tlogger := parentLogger.WithFields(logger.Fields{
		defs.LabelComponent: "BufferTopology",
		defs.LabelBuffer:    config.ID,
	})
	topo := &Topology[T]{
		logger:   tlogger,
		id:       config.ID,
		stopping: channels.NewSignalAwaitable(),
		stopped:  channels.NewSignalAwaitable(),
	}

	numDiskStages := 0
	for _, holder := range config.Stages {
		if _, ok := holder.Value.(*diskbuffer.Config); ok {
			numDiskStages++
		}
	}
	if numDiskStages > 1 {
		return nil, fmt.Errorf("%d disk stages: %w", numDiskStages, ErrStackedAcks)
	}

	builder := NewBuilder[T]()
	for i, holder := range config.Stages {
		stageMetricCreator := metricCreator.AddOrGetPrefix("buffer_", []string{defs.LabelBuffer, defs.LabelStage}, []string{config.ID, strconv.Itoa(i)})
		usage := NewStageUsage(stageMetricCreator)
		topo.usages = append(topo.usages, usage)

		switch stageConfig := holder.Value.(type) {
		case *memqueue.Config:
			queue := memqueue.NewLimitedQueue[T](stageConfig.MaxEvents, int64(stageConfig.MaxSize.Bytes()))
			builder.AddStage(Stage[T]{
				Sender:   InMemorySender(queue),
				Receiver: InMemoryReceiver(queue),
				WhenFull: stageConfig.WhenFull,
				Usage:    usage,
			})
		case *diskbuffer.Config:
			dataDir, derr := diskbuffer.MakeDataDir(tlogger, fs, rootPath, config.ID)
			if derr != nil {
				topo.closeDiskBuffers()
				return nil, fmt.Errorf("stage[%d]: failed to create data dir: %w", i, derr)
			}
			buf, oerr := diskbuffer.Open(tlogger.WithField(defs.LabelStage, i), fs, dataDir, stageConfig, codec, stageMetricCreator)
			if oerr != nil {
				topo.closeDiskBuffers()
				return nil, fmt.Errorf("stage[%d]: %w", i, oerr)
			}
			topo.diskBuffers = append(topo.diskBuffers, buf)
			builder.AddStage(Stage[T]{
				Sender:   DiskV2Sender(buf.Writer()),
				Receiver: DiskV2Receiver[T](buf.Reader(), buf.Acker()),
				WhenFull: stageConfig.WhenFull,
				Usage:    usage,
			})
		default:
			topo.closeDiskBuffers()
			return nil, fmt.Errorf("stage[%d]: unsupported config type %T", i, holder.Value)
		}
	}

	sender, receiver, err := builder.Build()
	if err != nil {
		topo.closeDiskBuffers()
		return nil, err
	}
	topo.sender = sender
	topo.receiver = receiver
	go topo.runGaugeUpdater()
	tlogger.Infof("built with %d stages", len(config.Stages))
	return topo, nil
}

// ID returns the buffer ID
func (topo *Topology[T]) ID() string {
	return topo.id
}

// Sender returns the sender of the first stage
func (topo *Topology[T]) Sender() *BufferSender[T] {
	return topo.sender
}

// Receiver returns the receiver reading all stages
func (topo *Topology[T]) Receiver() *BufferReceiver[T] {
	return topo.receiver
}

func (topo *Topology[T]) runGaugeUpdater() {
	defer topo.stopped.Signal()
	ticker := time.NewTicker(defs.MetricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-topo.stopping.Channel():
			topo.updateGauges()
			return
		case <-ticker.C:
			topo.updateGauges()
		}
	}
}

func (topo *Topology[T]) updateGauges() {
	for _, usage := range topo.usages {
		usage.UpdateGauges()
	}
}

// CloseSender closes all stages for sending. The receiver gets EOF after all items are received.
func (topo *Topology[T]) CloseSender() error {
	return topo.sender.Close()
}

// Close closes all stages and releases their resources. Items not received yet are kept in disk stages.
func (topo *Topology[T]) Close() error {
	topo.stopping.Signal()
	topo.stopped.Wait(defs.BufferShutDownTimeout)

	err := topo.sender.Close()
	if derr := topo.closeDiskBuffers(); err == nil {
		err = derr
	}
	topo.logger.Info("closed")
	return err
}

func (topo *Topology[T]) closeDiskBuffers() error {
	var errs []error
	for _, buf := range topo.diskBuffers {
		if err := buf.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	topo.diskBuffers = nil
	return errors.Join(errs...)
}
