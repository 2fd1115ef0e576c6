package topology

import (
	"errors"
	"fmt"

	"github.com/relex/slog-buffer/base"
)

// Errors of invalid topology
var (
	ErrEmptyTopology    = errors.New("no stage in topology")
	ErrOverflowWhenLast = errors.New("the last stage cannot overflow")
	ErrNextStageNotUsed = errors.New("stage followed by another stage must overflow")
	ErrStackedAcks      = errors.New("more than one stage with acknowledgements")
)

// Stage defines one stage for Builder
type Stage[T base.Bufferable] struct {
	Sender   SenderAdapter[T]
	Receiver ReceiverAdapter[T]
	WhenFull base.WhenFull
	Usage    base.BufferUsage // optional
}

// Builder assembles stages in order, from the stage receiving all items to the last overflow stage
type Builder[T base.Bufferable] struct {
	stages []Stage[T]
}

// NewBuilder creates an empty Builder
func NewBuilder[T base.Bufferable]() *Builder[T] {
	return &Builder[T]{}
}

// AddStage appends a stage after the existing ones
func (b *Builder[T]) AddStage(stage Stage[T]) *Builder[T] {
	b.stages = append(b.stages, stage)
	return b
}

// Validate checks the stages without building
func (b *Builder[T]) Validate() error {
	if len(b.stages) == 0 {
		return ErrEmptyTopology
	}
	numAcks := 0
	for i, stage := range b.stages {
		last := i == len(b.stages)-1
		switch {
		case last && stage.WhenFull == base.WhenFullOverflow:
			return fmt.Errorf("stage[%d]: %w", i, ErrOverflowWhenLast)
		case !last && stage.WhenFull != base.WhenFullOverflow:
			return fmt.Errorf("stage[%d] with whenFull=%s: %w", i, stage.WhenFull, ErrNextStageNotUsed)
		}
		if stage.Receiver.hasAcks() {
			numAcks++
		}
	}
	if numAcks > 1 {
		return ErrStackedAcks
	}
	return nil
}

// Build chains the stages and returns the sender and the receiver of the whole topology
func (b *Builder[T]) Build() (*BufferSender[T], *BufferReceiver[T], error) {
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}

	var sender *BufferSender[T]
	var receiver *BufferReceiver[T]
	tracksAcks := false
	for i := len(b.stages) - 1; i >= 0; i-- {
		stage := b.stages[i]
		usage := stage.Usage
		if usage == nil {
			usage = base.NoopBufferUsage{}
		}
		sender = &BufferSender[T]{
			base:     stage.Sender,
			whenFull: stage.WhenFull,
			overflow: sender,
			usage:    usage,
		}
		receiver = &BufferReceiver[T]{
			base:     stage.Receiver,
			overflow: receiver,
			usage:    usage,
		}
		tracksAcks = tracksAcks || stage.Receiver.hasAcks()
	}
	receiver.tracksAcks = tracksAcks
	return sender, receiver, nil
}
