package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vtcode/vtcode/internal/domain/entity"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"go.uber.org/zap"
)

// scriptedLLM returns canned responses in order, then a plain text answer.
type scriptedLLM struct {
	responses []*LLMResponse
	calls     int
}

func (s *scriptedLLM) Generate(_ context.Context, _ *LLMRequest) (*LLMResponse, error) {
	if s.calls < len(s.responses) {
		resp := s.responses[s.calls]
		s.calls++
		return resp, nil
	}
	s.calls++
	return &LLMResponse{Content: "all done", ModelUsed: "test-model", TokensUsed: 10}, nil
}

func toolCallResponse(calls ...entity.ToolCall) *LLMResponse {
	return &LLMResponse{ToolCalls: calls, ModelUsed: "test-model", TokensUsed: 20}
}

func testRunLoop(t *testing.T, llm LLMClient, exec ToolExecutor) (*RunLoop, *SessionState) {
	t.Helper()
	registry := testRegistry(t)
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	pipeline := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, nil, AutoApprover{},
		NewDecisionLedger(nil), NewToolResultCache(time.Minute, 100), nil, cfg, zap.NewNop(),
	)

	loopCfg := DefaultRunLoopConfig()
	loopCfg.Model = "test-model"
	loopCfg.ToolRepeatLimit = 2
	loopCfg.MaxToolLoops = 10
	loop := NewRunLoop(llm, registry, pipeline, nil, loopCfg, zap.NewNop())
	return loop, NewSessionState("s1")
}

func drain(ch chan entity.AgentEvent) []entity.AgentEvent {
	var events []entity.AgentEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunLoop_PureTextTurn(t *testing.T) {
	llm := &scriptedLLM{}
	loop, state := testRunLoop(t, llm, newFakeExecutor())

	eventCh := make(chan entity.AgentEvent, 64)
	done := make(chan []entity.AgentEvent, 1)
	go func() { done <- drain(eventCh) }()

	result := loop.RunTurn(context.Background(), state, "hello", eventCh)
	events := <-done

	if result.State != StateDone || result.FinalContent != "all done" {
		t.Fatalf("result = %+v", result)
	}

	history := state.History()
	if len(history) != 2 || history[0].Role != entity.RoleUser || history[1].Role != entity.RoleAssistant {
		t.Fatalf("history = %+v", history)
	}

	sawDone := false
	for _, ev := range events {
		if ev.Type == entity.EventDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("no done event emitted")
	}
}

func TestRunLoop_ToolCallsThenAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolCallResponse(
			entity.ToolCall{ID: "c1", Name: "read_file", Arguments: `{"path":"a.go"}`},
			entity.ToolCall{ID: "c2", Name: "grep_file", Arguments: `{"pattern":"x","path":"."}`},
		),
	}}
	loop, state := testRunLoop(t, llm, newFakeExecutor())

	eventCh := make(chan entity.AgentEvent, 64)
	go drain(eventCh)

	result := loop.RunTurn(context.Background(), state, "inspect the repo", eventCh)

	if result.State != StateDone {
		t.Fatalf("result = %+v", result)
	}
	if err := entity.ValidateHistory(state.History()); err != nil {
		t.Fatalf("history invariant: %v", err)
	}

	// Exactly one ToolResponse per tool_call, in emission order.
	var responded []string
	for _, m := range state.History() {
		if m.IsToolResponse() {
			responded = append(responded, m.ToolCallID)
		}
	}
	if len(responded) != 2 || responded[0] != "c1" || responded[1] != "c2" {
		t.Errorf("responses = %v", responded)
	}
}

func TestRunLoop_RepeatLimitGuards(t *testing.T) {
	repeated := entity.ToolCall{ID: "r", Name: "read_file", Arguments: `{"path":"same.go"}`}
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolCallResponse(entity.ToolCall{ID: "r1", Name: repeated.Name, Arguments: repeated.Arguments}),
		toolCallResponse(entity.ToolCall{ID: "r2", Name: repeated.Name, Arguments: repeated.Arguments}),
		toolCallResponse(entity.ToolCall{ID: "r3", Name: repeated.Name, Arguments: repeated.Arguments}),
		toolCallResponse(entity.ToolCall{ID: "r4", Name: repeated.Name, Arguments: repeated.Arguments}),
	}}
	loop, state := testRunLoop(t, llm, newFakeExecutor())

	eventCh := make(chan entity.AgentEvent, 64)
	go drain(eventCh)

	result := loop.RunTurn(context.Background(), state, "loop forever", eventCh)

	if result.State != StateRepeatGuarded {
		t.Fatalf("state = %v, want repeat_guarded", result.State)
	}
	// ToolRepeatLimit is 2: third identical call trips the guard.
	if llm.calls > 3 {
		t.Errorf("llm called %d times; loop not broken promptly", llm.calls)
	}
	found := false
	for _, w := range state.Warnings() {
		if strings.Contains(w, "identical arguments") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", state.Warnings())
	}
}

func TestRunLoop_StopSignalCancelsTurn(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolCallResponse(entity.ToolCall{ID: "c1", Name: "bash", Arguments: `{"command":"sleep"}`}),
	}}
	loop, state := testRunLoop(t, llm, newFakeExecutor())

	// Stop is already queued before the turn starts, so the first steering
	// poll sees it before any LLM request.
	state.Steering().Push(entity.SteeringSignal{Kind: entity.SteerStop})

	eventCh := make(chan entity.AgentEvent, 64)
	go drain(eventCh)

	result := loop.RunTurn(context.Background(), state, "do work", eventCh)
	if result.State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", result.State)
	}
}

func TestRunLoop_StopBetweenSequentialCalls(t *testing.T) {
	exec := newFakeExecutor()
	var state *SessionState

	// The first bash call pushes Stop mid-turn; the second must not begin.
	stopper := &scriptedExecutor{fn: func(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
		state.Steering().Push(entity.SteeringSignal{Kind: entity.SteerStop})
		return exec.Execute(ctx, name, args)
	}}

	llm := &scriptedLLM{responses: []*LLMResponse{
		toolCallResponse(
			entity.ToolCall{ID: "c1", Name: "bash", Arguments: `{"command":"first"}`},
			entity.ToolCall{ID: "c2", Name: "bash", Arguments: `{"command":"second"}`},
		),
	}}
	loop, st := testRunLoop(t, llm, stopper)
	state = st

	eventCh := make(chan entity.AgentEvent, 64)
	go drain(eventCh)

	result := loop.RunTurn(context.Background(), state, "two commands", eventCh)

	if result.State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", result.State)
	}
	if exec.callCount("bash") != 1 {
		t.Errorf("second call began after stop: %d executions", exec.callCount("bash"))
	}
	// The unstarted call still received a response (cancelled).
	responses := 0
	for _, m := range state.History() {
		if m.IsToolResponse() {
			responses++
		}
	}
	if responses != 2 {
		t.Errorf("responses = %d, want 2 (cancelled calls still recorded)", responses)
	}
}

func TestRunLoop_PromptDeniedByGate(t *testing.T) {
	llm := &scriptedLLM{}
	registry := testRegistry(t)
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	pipeline := NewPipeline(
		&fakePreflight{registry: registry}, registry, newFakeExecutor(), nil, AutoApprover{},
		nil, nil, nil, cfg, zap.NewNop(),
	)
	gate := &fakeGate{promptResult: HookUserPromptResult{Allow: false, BlockReason: "off limits"}}
	loop := NewRunLoop(llm, registry, pipeline, gate, DefaultRunLoopConfig(), zap.NewNop())
	state := NewSessionState("s1")

	eventCh := make(chan entity.AgentEvent, 64)
	go drain(eventCh)

	result := loop.RunTurn(context.Background(), state, "forbidden request", eventCh)

	if result.FinalContent != "off limits" {
		t.Errorf("result = %+v", result)
	}
	if len(state.History()) != 0 {
		t.Errorf("denied prompt was appended: %+v", state.History())
	}
	if llm.calls != 0 {
		t.Error("LLM called for a denied prompt")
	}
}

func TestRunLoop_TextualToolDetector(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		{Content: `CALL read_file {"path":"a.go"}`, ModelUsed: "test-model", TokensUsed: 5},
	}}
	exec := newFakeExecutor()
	loop, state := testRunLoop(t, llm, exec)
	loop.SetTextualToolDetector(detectorFunc(func(text string) *entity.ToolCall {
		if strings.HasPrefix(text, "CALL read_file") {
			return &entity.ToolCall{ID: "detected-1", Name: "read_file", Arguments: `{"path":"a.go"}`}
		}
		return nil
	}))

	eventCh := make(chan entity.AgentEvent, 64)
	go drain(eventCh)

	result := loop.RunTurn(context.Background(), state, "read it", eventCh)

	if result.State != StateDone {
		t.Fatalf("result = %+v", result)
	}
	if exec.callCount("read_file") != 1 {
		t.Errorf("detected textual call not executed: %d", exec.callCount("read_file"))
	}
	if err := entity.ValidateHistory(state.History()); err != nil {
		t.Errorf("history invariant: %v", err)
	}
}

// fakeGate is a scripted LifecycleGate.
type fakeGate struct {
	promptResult HookUserPromptResult
	preResult    HookPreToolResult
}

func (g *fakeGate) PreTool(_ context.Context, _ string, _ map[string]interface{}) HookPreToolResult {
	return g.preResult
}
func (g *fakeGate) PostTool(_ context.Context, _ string, _ map[string]interface{}, _ string) HookPostToolResult {
	return HookPostToolResult{}
}
func (g *fakeGate) UserPrompt(_ context.Context, _ string) HookUserPromptResult {
	return g.promptResult
}
func (g *fakeGate) SessionStart(_ context.Context) []string { return nil }
func (g *fakeGate) SessionEnd(_ context.Context)            {}

// detectorFunc adapts a function to TextualToolDetector.
type detectorFunc func(text string) *entity.ToolCall

func (f detectorFunc) Detect(text string) *entity.ToolCall { return f(text) }
