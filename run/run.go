// Package run loads buffer configuration and runs a buffer as a standalone relay
package run

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/defs"
)

// Run relays lines from input to output through the buffer of the given ID, until input ends or stopped by signals
//
// Events left in disk stages at stop are kept for the next run.
func Run(configFile string, bufferID string, batchSize int, input io.Reader, output io.Writer) {
	loader, loaderErr := NewLoaderFromConfigFile(configFile, "slogbuffer_")
	if loaderErr != nil {
		logger.Fatal(loaderErr)
	}
	RegisterMetricDump(loader)

	runLogger := logger.WithField(defs.LabelComponent, "Launcher")

	topo, topoErr := loader.LaunchBuffer(logger.Root(), bufferID)
	if topoErr != nil {
		logger.Fatal(topoErr)
	}
	relay := NewRelay(logger.Root(), topo.Sender(), topo.Receiver(), batchSize)

	inputCtx, cancelInput := context.WithCancel(context.Background())
	defer cancelInput()
	outputCtx, cancelOutput := context.WithCancel(context.Background())
	defer cancelOutput()

	inputEnded := channels.NewSignalAwaitable()
	go func() {
		defer inputEnded.Signal()
		if _, err := relay.RunInput(inputCtx, input); err != nil {
			runLogger.Error("input stopped: ", err)
		}
	}()

	outputEnded := channels.NewSignalAwaitable()
	go func() {
		defer outputEnded.Signal()
		if _, err := relay.RunOutput(outputCtx, output); err != nil {
			runLogger.Error("output stopped: ", err)
		}
	}()

	sigChan := make(chan os.Signal, 10)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGTERM)

	// wait for shutdown signal or end of input
	select {
	case s := <-sigChan:
		runLogger.Infof("received %s, shutting down", s)
		cancelInput()
	case <-inputEnded.Channel():
		runLogger.Info("input ended, draining")
	}

	if err := topo.CloseSender(); err != nil {
		runLogger.Error("failed to close buffer for sending: ", err)
	}

	// wait for output to drain, or stop at the next signal
	select {
	case s := <-sigChan:
		runLogger.Infof("received %s, stopping output", s)
		cancelOutput()
		<-outputEnded.Channel()
	case <-outputEnded.Channel():
	}

	if err := topo.Close(); err != nil {
		runLogger.Error("failed to close buffer: ", err)
	}
	runLogger.Info("clean exit")
}
