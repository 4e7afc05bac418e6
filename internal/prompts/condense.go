package prompts

import (
	"fmt"
	"strings"
)

// condenseTemplate is the prompt sent to an LLM to condense a conversation
// into a running summary. The single format verb is the conversation text.
const condenseTemplate = `Summarize this conversation concisely. Focus on:
1. Key topics discussed
2. Decisions made or preferences expressed
3. Actions taken (tool calls and their outcomes)
4. Any open items or things to remember

Keep the summary under 400 words. Use bullet points.

Conversation:
%s

Summary:`

// priorSummarySection is prepended to the conversation text when a prior
// summary exists, so the condenser folds old and new context together.
const priorSummarySection = `[Summary of earlier conversation]
%s

[Recent messages]
`

// CondensePrompt returns the fully interpolated condensation prompt.
// priorSummary may be empty on the first condensation.
func CondensePrompt(priorSummary, conversationText string) string {
	var sb strings.Builder
	if priorSummary != "" {
		sb.WriteString(fmt.Sprintf(priorSummarySection, priorSummary))
	}
	sb.WriteString(conversationText)
	return fmt.Sprintf(condenseTemplate, sb.String())
}
