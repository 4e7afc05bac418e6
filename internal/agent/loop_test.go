package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/llm"
	"github.com/parley-agent/parley/internal/memory"
	"github.com/parley-agent/parley/internal/prompts"
	"github.com/parley-agent/parley/internal/session"
	"github.com/parley-agent/parley/internal/tools"
)

// scriptedEngine returns canned responses in order, then repeats the
// last one. It records every request it sees.
type scriptedEngine struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	requests  []*llm.ChatRequest
	err       error
}

func (e *scriptedEngine) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	idx := len(e.requests) - 1
	if idx >= len(e.responses) {
		idx = len(e.responses) - 1
	}
	return e.responses[idx], nil
}

func (e *scriptedEngine) Ping(context.Context) error { return nil }

func (e *scriptedEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func finalAnswer(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: text},
		Done:         true,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func toolCallResponse(id, name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{llm.NewToolCall(id, name, args)},
		},
		Done:         true,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func testLoop(t *testing.T, engine llm.Client, maxIter int) (*Loop, *session.Store, *tools.Registry) {
	t.Helper()

	store := session.NewStore(session.StoreConfig{
		TTL:           time.Hour,
		SweepInterval: time.Hour,
		Defaults: session.Config{
			Model:       "qwen3:4b",
			Temperature: 0.7,
			Tools:       []string{"echo"},
			MemoryKind:  memory.KindBuffer,
		},
		MemoryOpts: memory.Options{MaxTurns: 100},
	}, nil)

	registry := tools.NewRegistry(nil)
	registry.MustRegister(&tools.Tool{
		Name:        "echo",
		Description: "Echo the input.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return "echo: " + text, nil
		},
	})

	loop := New(Config{
		Sessions:      store,
		Registry:      registry,
		Engine:        engine,
		MaxIterations: maxIter,
	}, nil)
	return loop, store, registry
}

func TestRunSimpleExchange(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{finalAnswer("4")}}
	loop, store, _ := testLoop(t, engine, 10)

	result, err := loop.Run(context.Background(), &Request{Message: "2+2?"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.SessionID == "" {
		t.Error("expected a generated session identity")
	}
	if result.Reply != "4" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}

	// The exchange is committed: user turn and assistant turn.
	snap, err := store.Snapshot(result.SessionID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.History) != 2 {
		t.Fatalf("expected 2 turns committed, got %d", len(snap.History))
	}
	if snap.History[0].Role != "user" || snap.History[0].Content != "2+2?" {
		t.Errorf("unexpected first turn: %+v", snap.History[0])
	}
}

func TestRunFollowUpSeesPriorTurns(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{finalAnswer("4"), finalAnswer("8")}}
	loop, _, _ := testLoop(t, engine, 10)

	first, err := loop.Run(context.Background(), &Request{Message: "2+2?"})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	_, err = loop.Run(context.Background(), &Request{Message: "double it", SessionID: first.SessionID})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	// The second engine request must contain the first exchange.
	second := engine.requests[1]
	var sawFirstQuestion bool
	for _, m := range second.Messages {
		if m.Content == "2+2?" {
			sawFirstQuestion = true
		}
	}
	if !sawFirstQuestion {
		t.Error("follow-up request must include the first turn in context")
	}
}

func TestRunToolDispatch(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "echo", map[string]any{"text": "hello"}),
		finalAnswer("The echo said hello."),
	}}
	loop, store, _ := testLoop(t, engine, 10)

	result, err := loop.Run(context.Background(), &Request{Message: "echo hello"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", result.Iterations)
	}

	// The second engine request carries the tool result.
	second := engine.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.Content != "echo: hello" {
		t.Errorf("expected tool observation fed back, got %+v", last)
	}
	if last.ToolCallID != "toolu_1" {
		t.Errorf("expected tool call ID carried through, got %q", last.ToolCallID)
	}

	// Tool trace is committed to memory with the exchange.
	snap, _ := store.Snapshot(result.SessionID)
	roles := make([]string, len(snap.History))
	for i, turn := range snap.History {
		roles[i] = turn.Role
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("expected roles %v, got %v", want, roles)
		}
	}
}

func TestRunUnknownToolBecomesObservation(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "upper", map[string]any{}),
		finalAnswer("Sorry, I can't do that."),
	}}
	loop, _, _ := testLoop(t, engine, 10)

	result, err := loop.Run(context.Background(), &Request{Message: "shout"})
	if err != nil {
		t.Fatalf("unknown tool must not be fatal: %v", err)
	}
	if result.Reply != "Sorry, I can't do that." {
		t.Errorf("unexpected reply: %q", result.Reply)
	}

	second := engine.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("expected unknown-tool observation, got %+v", last)
	}
}

func TestRunIterationBudget(t *testing.T) {
	// The engine never produces a final answer.
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "echo", map[string]any{"text": "again"}),
	}}
	loop, store, _ := testLoop(t, engine, 3)

	sess, _ := store.ResolveOrCreate("looping")
	_ = sess

	_, err := loop.Run(context.Background(), &Request{Message: "loop forever", SessionID: "looping"})
	var budget *IterationBudgetError
	if !errors.As(err, &budget) {
		t.Fatalf("expected IterationBudgetError, got %v", err)
	}
	if budget.Iterations != 3 {
		t.Errorf("expected 3 iterations reported, got %d", budget.Iterations)
	}
	if engine.calls() != 3 {
		t.Errorf("expected exactly 3 reasoning invocations, got %d", engine.calls())
	}

	// Nothing is committed from a failed exchange.
	snap, _ := store.Snapshot("looping")
	if len(snap.History) != 0 {
		t.Errorf("failed exchange must not touch memory, got %d turns", len(snap.History))
	}
}

func TestRunEngineFailureLeavesMemoryUntouched(t *testing.T) {
	engine := &scriptedEngine{err: errors.New("connection refused")}
	loop, store, _ := testLoop(t, engine, 10)

	store.ResolveOrCreate("conv")
	_, err := loop.Run(context.Background(), &Request{Message: "hi", SessionID: "conv"})
	if err == nil {
		t.Fatal("expected engine failure to surface")
	}

	snap, _ := store.Snapshot("conv")
	if len(snap.History) != 0 {
		t.Errorf("failed exchange must not touch memory, got %d turns", len(snap.History))
	}
}

func TestRunEphemeralOverridesDoNotPersist(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{finalAnswer("ok")}}
	loop, store, _ := testLoop(t, engine, 10)

	temp := 0.1
	result, err := loop.Run(context.Background(), &Request{
		Message:     "hi",
		Temperature: &temp,
		Model:       "claude-sonnet-4-20250514",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The override reached the engine.
	if engine.requests[0].Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected model override in request, got %q", engine.requests[0].Model)
	}
	if engine.requests[0].Temperature != 0.1 {
		t.Errorf("expected temperature override, got %v", engine.requests[0].Temperature)
	}

	// The session configuration is unchanged.
	snap, _ := store.Snapshot(result.SessionID)
	if snap.Config.Model != "qwen3:4b" {
		t.Errorf("override leaked into session config: %q", snap.Config.Model)
	}
	if snap.Config.Temperature != 0.7 {
		t.Errorf("override leaked into session config: %v", snap.Config.Temperature)
	}
}

func TestRunPersistentOverridesUpdateConfig(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{finalAnswer("ok")}}
	loop, store, _ := testLoop(t, engine, 10)

	temp := 0.2
	result, err := loop.Run(context.Background(), &Request{
		Message:     "hi",
		Temperature: &temp,
		Model:       "claude-sonnet-4-20250514",
		Persist:     true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	snap, err := store.Snapshot(result.SessionID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Config.Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected persisted model override, got %q", snap.Config.Model)
	}
	if snap.Config.Temperature != 0.2 {
		t.Errorf("expected persisted temperature override, got %v", snap.Config.Temperature)
	}
}

func TestRunSerializesExchangesPerSession(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{finalAnswer("ok")}}
	loop, store, _ := testLoop(t, engine, 10)

	store.ResolveOrCreate("shared")

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loop.Run(context.Background(), &Request{Message: "hi", SessionID: "shared"}); err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()

	// Each exchange commits a user and assistant turn; serialization
	// means none are lost or interleaved.
	snap, _ := store.Snapshot("shared")
	if len(snap.History) != n*2 {
		t.Errorf("expected %d turns, got %d", n*2, len(snap.History))
	}
	for i, turn := range snap.History {
		wantRole := "user"
		if i%2 == 1 {
			wantRole = "assistant"
		}
		if turn.Role != wantRole {
			t.Fatalf("turn %d: expected role %s, got %s", i, wantRole, turn.Role)
		}
	}
}

func TestRunPublishesEvents(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "echo", map[string]any{"text": "hi"}),
		finalAnswer("done"),
	}}
	loop, _, _ := testLoop(t, engine, 10)
	bus := events.New()
	loop.bus = bus

	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	if _, err := loop.Run(context.Background(), &Request{Message: "hi"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	kinds := map[string]bool{}
	for {
		select {
		case e := <-ch:
			kinds[e.Kind] = true
			if e.Kind == events.KindRequestComplete {
				for _, want := range []string{
					events.KindRequestStart,
					events.KindLLMCall,
					events.KindLLMResponse,
					events.KindToolCall,
					events.KindToolDone,
				} {
					if !kinds[want] {
						t.Errorf("missing event kind %s", want)
					}
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatal("did not observe request_complete event")
		}
	}
}

func TestRunEmptyFinalAnswerUsesFallback(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{finalAnswer("")}}
	loop, _, _ := testLoop(t, engine, 10)

	result, err := loop.Run(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Reply == "" {
		t.Error("expected fallback reply for empty engine content")
	}
	// Without prior tool work there is nothing to nudge about.
	if engine.calls() != 1 {
		t.Errorf("expected a single reasoning call, got %d", engine.calls())
	}
}

func TestRunNudgesEmptyAnswerAfterToolWork(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "echo", map[string]any{"text": "hi"}),
		finalAnswer(""),
		finalAnswer("The echo said hi."),
	}}
	loop, _, _ := testLoop(t, engine, 10)

	result, err := loop.Run(context.Background(), &Request{Message: "echo hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Reply != "The echo said hi." {
		t.Errorf("expected the post-nudge answer, got %q", result.Reply)
	}
	if engine.calls() != 3 {
		t.Fatalf("expected 3 reasoning calls (tool, empty, recovery), got %d", engine.calls())
	}

	// The nudge reaches the engine as a user message in the third call.
	third := engine.requests[2]
	found := false
	for _, msg := range third.Messages {
		if msg.Role == "user" && msg.Content == prompts.EmptyResponseNudge {
			found = true
			break
		}
	}
	if !found {
		t.Error("nudge message missing from the third reasoning call")
	}
}

func TestRunFallsBackWhenNudgeFails(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "echo", map[string]any{"text": "hi"}),
		finalAnswer(""),
	}}
	loop, _, _ := testLoop(t, engine, 10)

	result, err := loop.Run(context.Background(), &Request{Message: "echo hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Reply != prompts.EmptyResponseFallback {
		t.Errorf("expected fallback after failed nudge, got %q", result.Reply)
	}
	// Tool call, empty answer, nudged retry, still empty: one nudge only.
	if engine.calls() != 3 {
		t.Errorf("expected 3 reasoning calls, got %d", engine.calls())
	}
}

func TestRunSkipsDispatchOnFinalIteration(t *testing.T) {
	engine := &scriptedEngine{responses: []*llm.ChatResponse{
		toolCallResponse("toolu_1", "send", map[string]any{}),
	}}
	loop, store, registry := testLoop(t, engine, 1)

	sent := 0
	registry.MustRegister(&tools.Tool{
		Name:        "send",
		Description: "Send something once.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, map[string]any) (string, error) {
			sent++
			return "sent", nil
		},
	})

	store.ResolveOrCreate("final")
	_, err := loop.Run(context.Background(), &Request{
		Message:   "send it",
		SessionID: "final",
		Tools:     []string{"send"},
	})

	var budget *IterationBudgetError
	if !errors.As(err, &budget) {
		t.Fatalf("expected IterationBudgetError, got %v", err)
	}
	if sent != 0 {
		t.Errorf("tool dispatched on the final iteration: %d calls", sent)
	}

	// The error trace shows the turns the budget was spent on.
	if len(budget.Trace) != 2 {
		t.Fatalf("expected user + assistant turns in trace, got %d", len(budget.Trace))
	}
	if budget.Trace[0].Role != "user" || budget.Trace[0].Content != "send it" {
		t.Errorf("unexpected first trace turn: %+v", budget.Trace[0])
	}
	if budget.Trace[1].Role != "assistant" || len(budget.Trace[1].ToolCalls) != 1 {
		t.Errorf("expected the undispatched tool request in trace, got %+v", budget.Trace[1])
	}
}
