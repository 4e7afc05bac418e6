// Package agent implements the core agent execution loop: one exchange
// from user message through reasoning and tool dispatch to final reply.
package agent

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/llm"
	"github.com/parley-agent/parley/internal/memory"
	"github.com/parley-agent/parley/internal/prompts"
	"github.com/parley-agent/parley/internal/session"
	"github.com/parley-agent/parley/internal/tools"
	"github.com/parley-agent/parley/internal/usage"
)

// Request is one inbound exchange. Temperature, Tools, and Model are
// ephemeral overrides: they apply to this exchange only unless Persist
// is set, in which case they are written back to the session
// configuration.
type Request struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
	Persist     bool     `json:"persist,omitempty"`
}

// Usage carries token accounting for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of a completed exchange.
type Result struct {
	SessionID  string `json:"session_id"`
	Reply      string `json:"reply"`
	Model      string `json:"model"`
	Iterations int    `json:"iterations"`
	Usage      Usage  `json:"usage"`
}

// Loop orchestrates exchanges. It is safe for concurrent use; the
// per-session execution lock serializes exchanges on one session while
// unrelated sessions proceed in parallel.
type Loop struct {
	logger        *slog.Logger
	sessions      *session.Store
	registry      *tools.Registry
	engine        llm.Client
	bus           *events.Bus
	usage         *usage.Store
	maxIterations int
}

// Config wires a Loop's collaborators. Bus and Usage are optional.
type Config struct {
	Sessions      *session.Store
	Registry      *tools.Registry
	Engine        llm.Client
	Bus           *events.Bus
	Usage         *usage.Store
	MaxIterations int
}

// New creates an agent loop.
func New(cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &Loop{
		logger:        logger.With("component", "agent"),
		sessions:      cfg.Sessions,
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		bus:           cfg.Bus,
		usage:         cfg.Usage,
		maxIterations: cfg.MaxIterations,
	}
}

// Run executes one exchange. The session's memory is committed only
// when the exchange completes: a cancelled or failed exchange leaves
// memory exactly as it was.
func (l *Loop) Run(ctx context.Context, req *Request) (*Result, error) {
	requestID := uuid.NewString()
	started := time.Now()

	sess, created := l.sessions.ResolveOrCreate(req.SessionID)
	if created {
		l.bus.Publish(events.Event{
			Source: events.SourceSession,
			Kind:   events.KindSessionCreated,
			Data:   map[string]any{"session_id": sess.ID},
		})
	}

	sess.Lock()
	defer sess.Unlock()

	// Overrides shadow the session configuration for this exchange;
	// with Persist they are written back. The execution lock is held,
	// so the write cannot interleave with a config update.
	cfg := sess.Config
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.Tools != nil {
		cfg.Tools = req.Tools
	}
	if req.Persist {
		sess.Config.Model = cfg.Model
		sess.Config.Temperature = cfg.Temperature
		sess.Config.Tools = slices.Clone(cfg.Tools)
	}

	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestStart,
		Data:   map[string]any{"request_id": requestID, "session_id": sess.ID},
	})
	l.logger.Info("exchange started",
		"request_id", requestID,
		"session_id", sess.ID,
		"model", cfg.Model,
		"tools", len(cfg.Tools),
	)

	resolved, err := l.registry.Resolve(cfg.Tools)
	if err != nil {
		return nil, err
	}

	history, err := sess.Memory.Context(ctx)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: prompts.SystemPrompt(time.Now(), cfg.Tools),
	})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	toolDefs := tools.Definitions(resolved)

	// Scratch trace for atomic commit: the user turn plus everything
	// the exchange produces. Nothing touches session memory until the
	// final answer is in hand.
	trace := []memory.Turn{{Role: "user", Content: req.Message, Timestamp: started}}

	var totals Usage
	var reply string
	iterations := 0
	dispatched := false
	nudged := false

	for iter := 1; iter <= l.maxIterations; iter++ {
		iterations = iter
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindLLMCall,
			Data:   map[string]any{"request_id": requestID, "iter": iter, "model": cfg.Model},
		})

		resp, err := l.engine.Chat(ctx, &llm.ChatRequest{
			Model:       cfg.Model,
			Messages:    messages,
			Tools:       toolDefs,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			l.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindRequestFailed,
				Data:   map[string]any{"request_id": requestID, "session_id": sess.ID, "error": err.Error()},
			})
			return nil, err
		}

		totals.PromptTokens += resp.InputTokens
		totals.CompletionTokens += resp.OutputTokens

		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindLLMResponse,
			Data: map[string]any{
				"request_id": requestID,
				"iter":       iter,
				"model":      cfg.Model,
				"tokens_in":  resp.InputTokens,
				"tokens_out": resp.OutputTokens,
				"tool_calls": len(resp.Message.ToolCalls),
			},
		})

		if !resp.HasToolCalls() {
			reply = strings.TrimSpace(resp.Message.Content)
			if reply != "" {
				break
			}
			// An empty answer right after tool work usually means the
			// model stopped one step short. Nudge it once for a
			// user-visible response before giving up.
			if dispatched && !nudged && iter < l.maxIterations {
				nudged = true
				messages = append(messages, llm.Message{Role: "user", Content: prompts.EmptyResponseNudge})
				continue
			}
			reply = prompts.EmptyResponseFallback
			break
		}

		assistantTurn := memory.Turn{
			Role:      "assistant",
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
			Timestamp: time.Now(),
		}
		messages = append(messages, resp.Message)
		trace = append(trace, assistantTurn)

		// No reasoning step remains to consume tool results on the
		// final iteration, and some tools are non-idempotent. Leave
		// the requested calls undispatched.
		if iter == l.maxIterations {
			break
		}

		// Tool dispatch is sequential in the order the engine
		// requested: later calls in the same turn may depend on
		// earlier results.
		dispatched = true
		toolCtx := tools.WithSessionID(ctx, sess.ID)
		for _, call := range resp.Message.ToolCalls {
			observation := l.dispatch(toolCtx, requestID, call)
			toolMsg := llm.Message{
				Role:       "tool",
				Content:    observation,
				ToolCallID: call.ID,
			}
			messages = append(messages, toolMsg)
			trace = append(trace, memory.Turn{
				Role:       "tool",
				Content:    observation,
				ToolCallID: call.ID,
				Timestamp:  time.Now(),
			})
		}
	}

	if reply == "" {
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindRequestFailed,
			Data:   map[string]any{"request_id": requestID, "session_id": sess.ID, "error": "iteration budget exceeded"},
		})
		l.logger.Warn("iteration budget exceeded",
			"request_id", requestID,
			"session_id", sess.ID,
			"iterations", iterations,
		)
		return nil, &IterationBudgetError{Iterations: iterations, Trace: trace}
	}

	trace = append(trace, memory.Turn{Role: "assistant", Content: reply, Timestamp: time.Now()})
	if err := sess.Memory.Append(ctx, trace...); err != nil {
		// The turns are retained even when condensation fails; the
		// exchange itself succeeded.
		l.logger.Warn("memory condensation failed", "session_id", sess.ID, "error", err)
	}
	if err := l.sessions.Touch(sess.ID); err != nil {
		l.logger.Warn("touch failed", "session_id", sess.ID, "error", err)
	}

	totals.TotalTokens = totals.PromptTokens + totals.CompletionTokens
	l.recordUsage(ctx, requestID, sess.ID, cfg.Model, totals)

	elapsed := time.Since(started)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"request_id": requestID,
			"session_id": sess.ID,
			"iterations": iterations,
			"tokens_in":  totals.PromptTokens,
			"tokens_out": totals.CompletionTokens,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
	l.logger.Info("exchange complete",
		"request_id", requestID,
		"session_id", sess.ID,
		"iterations", iterations,
		"total_tokens", totals.TotalTokens,
		"elapsed", elapsed,
	)

	return &Result{
		SessionID:  sess.ID,
		Reply:      reply,
		Model:      cfg.Model,
		Iterations: iterations,
		Usage:      totals,
	}, nil
}

// dispatch invokes one tool call and converts any fault into an
// observation string for the reasoning engine. Tool failures never
// abort the exchange; the engine sees the error and can recover or
// apologize. The loop never retries here: some tools are
// non-idempotent.
func (l *Loop) dispatch(ctx context.Context, requestID string, call llm.ToolCall) string {
	name := call.Function.Name
	started := time.Now()

	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"request_id": requestID, "tool": name},
	})

	result, err := l.registry.Invoke(ctx, name, call.Function.Arguments)
	ok := err == nil
	if err != nil {
		l.logger.Warn("tool call failed", "request_id", requestID, "tool", name, "error", err)
		result = "Error: " + err.Error()
	}

	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolDone,
		Data: map[string]any{
			"request_id":  requestID,
			"tool":        name,
			"ok":          ok,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})
	return result
}

func (l *Loop) recordUsage(ctx context.Context, requestID, sessionID, model string, totals Usage) {
	if l.usage == nil {
		return
	}
	provider := "ollama"
	if strings.HasPrefix(model, "claude-") {
		provider = "anthropic"
	}
	err := l.usage.Record(ctx, usage.Record{
		RequestID:        requestID,
		SessionID:        sessionID,
		Model:            model,
		Provider:         provider,
		PromptTokens:     totals.PromptTokens,
		CompletionTokens: totals.CompletionTokens,
	})
	if err != nil {
		l.logger.Warn("usage record failed", "request_id", requestID, "error", err)
	}
}
