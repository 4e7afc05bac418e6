package memory

import (
	"context"

	"github.com/parley-agent/parley/internal/llm"
)

// Buffer retains raw turns up to an optional cap, evicting the oldest
// first. A cap of 0 means unbounded.
type Buffer struct {
	turns    []Turn
	maxTurns int
}

// NewBuffer creates a buffer memory.
func NewBuffer(maxTurns int) *Buffer {
	return &Buffer{maxTurns: maxTurns}
}

func (b *Buffer) Kind() Kind { return KindBuffer }

// Append records turns, then trims from the front if over the cap.
// The newest turns are never dropped.
func (b *Buffer) Append(_ context.Context, turns ...Turn) error {
	b.turns = append(b.turns, turns...)
	if b.maxTurns > 0 && len(b.turns) > b.maxTurns {
		b.turns = b.turns[len(b.turns)-b.maxTurns:]
	}
	return nil
}

func (b *Buffer) Context(_ context.Context) ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, len(b.turns))
	for _, t := range b.turns {
		msgs = append(msgs, t.Message())
	}
	return msgs, nil
}

func (b *Buffer) Turns() []Turn {
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}
