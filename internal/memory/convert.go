package memory

import (
	"context"
	"fmt"
)

// Convert builds a memory of toKind from the contents of from.
//
// buffer → summary: the full buffer is replayed into the new summary
// memory, condensing eagerly if it exceeds the tail bound.
//
// summary → buffer: only the retained raw tail is replayed. Condensed
// history cannot be reconstructed; callers switching away from summary
// memory accept that loss.
func Convert(ctx context.Context, from Memory, toKind Kind, opts Options) (Memory, error) {
	if from.Kind() == toKind {
		return from, nil
	}

	to, err := New(toKind, opts)
	if err != nil {
		return nil, err
	}

	turns := from.Turns()
	if len(turns) == 0 {
		return to, nil
	}
	if err := to.Append(ctx, turns...); err != nil {
		return nil, fmt.Errorf("convert memory to %s: %w", toKind, err)
	}
	return to, nil
}
