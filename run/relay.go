package run

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/topology"
	"github.com/relex/slog-buffer/defs"
)

// Relay passes lines from an input stream to an output stream through a buffer
//
// Each input line is an event. Events are acknowledged after being written and flushed to the output, so that
// unwritten events in disk stages are delivered again after restart.
type Relay struct {
	logger    logger.Logger
	sender    *topology.BufferSender[base.RawEventBatch]
	receiver  *topology.BufferReceiver[base.RawEventBatch]
	batchSize int
}

// NewRelay creates a Relay over the sender and receiver of a buffer
func NewRelay(parentLogger logger.Logger, sender *topology.BufferSender[base.RawEventBatch],
	receiver *topology.BufferReceiver[base.RawEventBatch], batchSize int,
) *Relay {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Relay{
		logger:    parentLogger.WithField(defs.LabelComponent, "Relay"),
		sender:    sender,
		receiver:  receiver,
		batchSize: batchSize,
	}
}

// RunInput reads lines from input and sends them in batches, until EOF or error
//
// It doesn't close the sender.
func (relay *Relay) RunInput(ctx context.Context, input io.Reader) (int, error) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), defs.RelayMaxLineLength)

	numLines := 0
	batch := make([][]byte, 0, relay.batchSize)
	sendBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := relay.sender.Send(ctx, base.NewRawEventBatch(batch...)); err != nil {
			return err
		}
		relayInputLinesCounter.Add(float64(len(batch)))
		numLines += len(batch)
		batch = make([][]byte, 0, relay.batchSize)
		return nil
	}

	for scanner.Scan() {
		batch = append(batch, bytes.Clone(scanner.Bytes()))
		if len(batch) < relay.batchSize {
			continue
		}
		if err := sendBatch(); err != nil {
			return numLines, fmt.Errorf("failed to send: %w", err)
		}
	}
	if err := sendBatch(); err != nil {
		return numLines, fmt.Errorf("failed to send: %w", err)
	}
	if err := scanner.Err(); err != nil {
		return numLines, fmt.Errorf("failed to read input: %w", err)
	}
	relay.logger.Infof("input ended after %d lines", numLines)
	return numLines, nil
}

// RunOutput writes received events to output, one line each, until all stages are closed and drained
func (relay *Relay) RunOutput(ctx context.Context, output io.Writer) (int, error) {
	writer := bufio.NewWriter(output)
	numLines := 0
	for {
		batch, err := relay.receiver.Recv(ctx)
		if errors.Is(err, io.EOF) {
			relay.logger.Infof("output ended after %d lines", numLines)
			return numLines, nil
		}
		if err != nil {
			return numLines, err
		}
		for _, event := range batch.Events {
			writer.Write(event)
			writer.WriteByte('\n')
		}
		if err := writer.Flush(); err != nil {
			return numLines, fmt.Errorf("failed to write output: %w", err)
		}
		relay.receiver.Ack(1)
		relayOutputLinesCounter.Add(float64(len(batch.Events)))
		numLines += len(batch.Events)
	}
}
