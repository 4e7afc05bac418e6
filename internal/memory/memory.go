// Package memory provides conversation memory strategies.
//
// Two interchangeable representations exist: Buffer keeps raw turns up
// to a cap, Summary keeps a rolling condensed summary plus a bounded
// tail of recent raw turns. Both satisfy the Memory interface so a
// session can swap strategies mid-conversation.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-agent/parley/internal/llm"
)

// Kind identifies a memory strategy.
type Kind string

const (
	KindBuffer  Kind = "buffer"
	KindSummary Kind = "summary"
)

// ParseKind validates a strategy name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBuffer, KindSummary:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown memory kind %q", s)
	}
}

// Turn is one conversation turn. Tool turns carry the originating
// call ID; assistant turns may carry the tool calls they requested.
type Turn struct {
	Role       string         `json:"role"` // user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Message converts the turn to its wire representation.
func (t Turn) Message() llm.Message {
	return llm.Message{
		Role:       t.Role,
		Content:    t.Content,
		ToolCalls:  t.ToolCalls,
		ToolCallID: t.ToolCallID,
	}
}

// Memory is a conversation memory strategy. Implementations are not
// safe for concurrent use; the session's execution lock serializes
// access.
type Memory interface {
	// Kind reports which strategy this is.
	Kind() Kind

	// Append records turns. Summary memory may call the reasoning
	// engine to re-condense; a condensation failure keeps the turns
	// and reports the error.
	Append(ctx context.Context, turns ...Turn) error

	// Context returns the messages to include in a reasoning call,
	// oldest first.
	Context(ctx context.Context) ([]llm.Message, error)

	// Turns returns a copy of the retained raw turns, oldest first.
	Turns() []Turn
}

// Options configures memory construction.
type Options struct {
	MaxTurns    int        // buffer cap; 0 means unbounded
	SummaryTail int        // summary raw-tail bound
	Condenser   llm.Client // reasoning engine used for condensation
	Model       string     // model used for condensation calls
}

// New constructs a memory of the given kind.
func New(kind Kind, opts Options) (Memory, error) {
	switch kind {
	case KindBuffer:
		return NewBuffer(opts.MaxTurns), nil
	case KindSummary:
		return NewSummary(opts.SummaryTail, opts.Condenser, opts.Model), nil
	default:
		return nil, fmt.Errorf("unknown memory kind %q", kind)
	}
}

// renderTurns renders turns as "role: content" lines for condensation
// prompts. Tool traces are included so summaries capture actions taken.
func renderTurns(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		switch {
		case len(t.ToolCalls) > 0:
			for _, tc := range t.ToolCalls {
				fmt.Fprintf(&sb, "%s: [called %s]\n", t.Role, tc.Function.Name)
			}
			if t.Content != "" {
				fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
			}
		case t.Role == "tool":
			fmt.Fprintf(&sb, "tool result: %s\n", t.Content)
		default:
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
	}
	return sb.String()
}
