package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-agent/parley/internal/llm"
	"github.com/parley-agent/parley/internal/prompts"
)

const defaultSummaryTail = 6

// Summary retains a rolling condensed summary plus a bounded tail of
// recent raw turns. When the tail outgrows its bound, the oldest turns
// are folded into the summary via a reasoning-engine call.
type Summary struct {
	summary   string
	tail      []Turn
	tailMax   int
	condenser llm.Client
	model     string
}

// NewSummary creates a summary memory. condenser performs the
// condensation calls using model.
func NewSummary(tailMax int, condenser llm.Client, model string) *Summary {
	if tailMax <= 0 {
		tailMax = defaultSummaryTail
	}
	return &Summary{tailMax: tailMax, condenser: condenser, model: model}
}

func (s *Summary) Kind() Kind { return KindSummary }

// Append records turns, then re-condenses if the tail exceeds its
// bound. On condensation failure the turns are kept in the tail and
// the error is reported; nothing is lost.
func (s *Summary) Append(ctx context.Context, turns ...Turn) error {
	s.tail = append(s.tail, turns...)
	if len(s.tail) <= s.tailMax {
		return nil
	}
	return s.condense(ctx)
}

// condense folds the oldest tail turns into the summary, keeping a
// recent window raw. Keeping half the bound avoids condensing on every
// subsequent append.
func (s *Summary) condense(ctx context.Context) error {
	keep := s.tailMax / 2
	if keep < 1 {
		keep = 1
	}
	fold := s.tail[:len(s.tail)-keep]

	if s.condenser == nil {
		return fmt.Errorf("condense memory: no reasoning engine configured")
	}

	resp, err := s.condenser.Chat(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{{
			Role:    "user",
			Content: prompts.CondensePrompt(s.summary, renderTurns(fold)),
		}},
	})
	if err != nil {
		return fmt.Errorf("condense memory: %w", err)
	}

	s.summary = strings.TrimSpace(resp.Message.Content)
	s.tail = append([]Turn(nil), s.tail[len(s.tail)-keep:]...)
	return nil
}

// Context returns the summary (as a system message) followed by the
// raw tail.
func (s *Summary) Context(_ context.Context) ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, len(s.tail)+1)
	if s.summary != "" {
		msgs = append(msgs, llm.Message{
			Role:    "system",
			Content: "Summary of the conversation so far:\n" + s.summary,
		})
	}
	for _, t := range s.tail {
		msgs = append(msgs, t.Message())
	}
	return msgs, nil
}

// Turns returns only the retained raw tail. Condensed history is not
// reconstructable.
func (s *Summary) Turns() []Turn {
	out := make([]Turn, len(s.tail))
	copy(out, s.tail)
	return out
}

// SummaryText returns the current condensed summary. Empty until the
// first condensation.
func (s *Summary) SummaryText() string { return s.summary }
