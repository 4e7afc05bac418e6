package agent

import (
	"fmt"

	"github.com/parley-agent/parley/internal/memory"
)

// IterationBudgetError is returned when the reasoning loop exhausts
// its round-trip budget without producing a final answer. The session
// memory is left untouched; nothing from the aborted exchange is
// committed. Trace carries the uncommitted turns (the user message and
// every tool round-trip) so callers can see how the budget was spent
// before deciding to retry.
type IterationBudgetError struct {
	Iterations int
	Trace      []memory.Turn
}

func (e *IterationBudgetError) Error() string {
	return fmt.Sprintf("no final answer after %d reasoning iterations", e.Iterations)
}
