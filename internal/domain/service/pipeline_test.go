package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vtcode/vtcode/internal/domain/entity"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"go.uber.org/zap"
)

// fakeTool is a minimal registrable tool for pipeline tests.
type fakeTool struct {
	name string
	kind domaintool.Kind
}

func (t *fakeTool) Name() string                 { return t.name }
func (t *fakeTool) Description() string          { return "test tool" }
func (t *fakeTool) Kind() domaintool.Kind        { return t.kind }
func (t *fakeTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (t *fakeTool) Execute(_ context.Context, _ map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Output: "unused", Success: true}, nil
}

// fakePreflight passes calls through with registry-based classification.
type fakePreflight struct {
	registry *domaintool.Registry
	failWith error
}

func (f *fakePreflight) Validate(name string, args map[string]interface{}) (*PreflightResult, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	_, normalized := f.registry.Resolve(name)
	return &PreflightResult{
		NormalizedToolName: normalized,
		ReadOnly:           f.registry.IsReadOnly(normalized, args),
		Args:               args,
	}, nil
}

// fakeExecutor counts executions and returns scripted results.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]*domaintool.Result
	errs    map[string]error
	delay   map[string]time.Duration
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		calls:   make(map[string]int),
		results: make(map[string]*domaintool.Result),
		errs:    make(map[string]error),
		delay:   make(map[string]time.Duration),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	f.mu.Lock()
	f.calls[name]++
	delay := f.delay[name]
	result := f.results[name]
	err := f.errs[name]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &domaintool.Result{Output: "ok:" + name, Success: true}
	}
	return result, nil
}

func (f *fakeExecutor) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func testRegistry(t *testing.T) *domaintool.Registry {
	t.Helper()
	registry := domaintool.NewRegistry()
	regs := []*domaintool.Registration{
		{Tool: &fakeTool{name: "read_file", kind: domaintool.KindRead}, ReadOnlyHint: true, PlanModeAllowed: true, Capability: domaintool.CapFileReading},
		{Tool: &fakeTool{name: "grep_file", kind: domaintool.KindSearch}, ReadOnlyHint: true, PlanModeAllowed: true, Capability: domaintool.CapCodeSearch},
		{Tool: &fakeTool{name: "write_file", kind: domaintool.KindEdit}, Capability: domaintool.CapEditing},
		{Tool: &fakeTool{name: "bash", kind: domaintool.KindExecute}, Capability: domaintool.CapBash},
	}
	for _, reg := range regs {
		if err := registry.Register(reg); err != nil {
			t.Fatal(err)
		}
	}
	return registry
}

func testPipeline(t *testing.T, registry *domaintool.Registry, exec *fakeExecutor, cfg PipelineConfig) *Pipeline {
	t.Helper()
	return NewPipeline(
		&fakePreflight{registry: registry},
		registry,
		exec,
		nil,
		AutoApprover{},
		NewDecisionLedger(nil),
		NewToolResultCache(time.Minute, 100),
		nil,
		cfg,
		zap.NewNop(),
	)
}

func mustArgs(t *testing.T, v map[string]interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestPipeline_ReadonlyCacheExecutesOnce(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := testPipeline(t, registry, exec, cfg)

	call := entity.ToolCall{ID: "c1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a.go"})}

	first := p.Run(context.Background(), 1, call)
	if first.Status != OutcomeSuccess {
		t.Fatalf("first run failed: %+v", first)
	}
	call.ID = "c2"
	second := p.Run(context.Background(), 1, call)
	if second.Status != OutcomeSuccess || !second.Cached {
		t.Fatalf("second run not cached: %+v", second)
	}
	if got := exec.callCount("read_file"); got != 1 {
		t.Errorf("executor ran %d times, want 1", got)
	}
	if second.CallID != "c2" {
		t.Errorf("cached outcome call id = %q", second.CallID)
	}
}

func TestPipeline_MutatingCallsNotCached(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := testPipeline(t, registry, exec, cfg)

	call := entity.ToolCall{ID: "c1", Name: "write_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a", "content": "b"})}
	p.Run(context.Background(), 1, call)
	p.Run(context.Background(), 1, call)

	if got := exec.callCount("write_file"); got != 2 {
		t.Errorf("executor ran %d times, want 2 (no caching for mutating tools)", got)
	}
}

func TestPipeline_DeniedBody(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.DefaultPolicy = PolicyDeny
	p := testPipeline(t, registry, exec, cfg)

	call := entity.ToolCall{ID: "c1", Name: "bash", Arguments: mustArgs(t, map[string]interface{}{"command": "ls"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Status != OutcomeFailure || outcome.Err.Kind != KindPolicy {
		t.Fatalf("outcome = %+v", outcome)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(outcome.ResponseBody()), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if !strings.Contains(body["error"], "Tool 'bash' denied by policy") {
		t.Errorf("body = %q", body["error"])
	}
	if exec.callCount("bash") != 0 {
		t.Error("executor ran for a denied call")
	}
}

func TestPipeline_RateLimitHaltsTurn(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	exec.errs["bash"] = errors.New("provider replied: rate limit exceeded")
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := testPipeline(t, registry, exec, cfg)

	state := NewSessionState("s1")
	state.Append(entity.AssistantToolCalls("", []entity.ToolCall{
		{ID: "c1", Name: "bash", Arguments: mustArgs(t, map[string]interface{}{"command": "ls"})},
		{ID: "c2", Name: "bash", Arguments: mustArgs(t, map[string]interface{}{"command": "pwd"})},
	}))

	calls := state.History()[0].ToolCalls
	outcomes := p.ExecuteCalls(context.Background(), 1, calls, state, nil)

	if outcomes[0].Err == nil || outcomes[0].Err.Kind != KindRateLimited {
		t.Fatalf("first outcome = %+v", outcomes[0])
	}
	if !state.ToolLoopLimitHit() {
		t.Error("tool_loop_limit_hit not set")
	}
	if exec.callCount("bash") != 1 {
		t.Errorf("second call executed despite halt: %d runs", exec.callCount("bash"))
	}
	if len(state.Warnings()) == 0 {
		t.Error("no warning appended")
	}
	// Both calls still received responses.
	responses := 0
	for _, m := range state.History() {
		if m.IsToolResponse() {
			responses++
		}
	}
	if responses != 2 {
		t.Errorf("responses = %d, want 2", responses)
	}
}

func TestPipeline_ParallelReadonlyPreservesOrder(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	exec.delay["read_file"] = 80 * time.Millisecond
	exec.results["read_file"] = &domaintool.Result{Output: "slow", Success: true}
	exec.results["grep_file"] = &domaintool.Result{Output: "fast", Success: true}
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := testPipeline(t, registry, exec, cfg)

	state := NewSessionState("s1")
	calls := []entity.ToolCall{
		{ID: "slow-1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a"})},
		{ID: "fast-1", Name: "grep_file", Arguments: mustArgs(t, map[string]interface{}{"pattern": "x", "path": "."})},
	}
	state.Append(entity.AssistantToolCalls("", calls))

	start := time.Now()
	p.ExecuteCalls(context.Background(), 1, calls, state, nil)
	elapsed := time.Since(start)

	// Concurrency check: both ran within well under the serial sum.
	if elapsed > 160*time.Millisecond {
		t.Logf("elapsed %v; possibly serial, not failing on timing alone", elapsed)
	}

	var ids []string
	for _, m := range state.History() {
		if m.IsToolResponse() {
			ids = append(ids, m.ToolCallID)
		}
	}
	if len(ids) != 2 || ids[0] != "slow-1" || ids[1] != "fast-1" {
		t.Errorf("response order = %v, want [slow-1 fast-1]", ids)
	}

	if err := entity.ValidateHistory(state.History()); err != nil {
		t.Errorf("history invariant violated: %v", err)
	}
}

func TestPipeline_MixedCallsRunSequential(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := testPipeline(t, registry, exec, cfg)

	calls := []entity.ToolCall{
		{ID: "c1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a"})},
		{ID: "c2", Name: "write_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a", "content": "x"})},
	}
	if p.canRunParallel(calls) {
		t.Error("mixed readonly/mutating calls must not run parallel")
	}
}

func TestPipeline_TimeoutOutcome(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	exec.delay["bash"] = 500 * time.Millisecond
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	cfg.ToolTimeout = 50 * time.Millisecond
	p := testPipeline(t, registry, exec, cfg)

	call := entity.ToolCall{ID: "c1", Name: "bash", Arguments: mustArgs(t, map[string]interface{}{"command": "sleep"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Status != OutcomeTimeout {
		t.Fatalf("status = %v, want timeout", outcome.Status)
	}
	if outcome.TimeoutMS != 50 {
		t.Errorf("timeout_ms = %d", outcome.TimeoutMS)
	}
	if !strings.Contains(outcome.ResponseBody(), "timed out after 50 ms") {
		t.Errorf("body = %s", outcome.ResponseBody())
	}
}

func TestPipeline_TransientRetries(t *testing.T) {
	registry := testRegistry(t)

	var attempts atomic.Int32
	flaky := &scriptedExecutor{fn: func(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &domaintool.Result{Output: "recovered", Success: true}, nil
	}}

	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	cfg.MaxToolRetries = 3
	cfg.RetryBaseWait = time.Millisecond
	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, flaky, nil, AutoApprover{},
		NewDecisionLedger(nil), nil, nil, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "bash", Arguments: mustArgs(t, map[string]interface{}{"command": "ls"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Status != OutcomeSuccess {
		t.Fatalf("outcome = %+v", outcome)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPipeline_ValidationNeverRetries(t *testing.T) {
	registry := testRegistry(t)
	pf := &fakePreflight{registry: registry, failWith: errors.New("Tool preflight validation failed for 'bash': Missing required argument: command")}

	var attempts atomic.Int32
	exec := &scriptedExecutor{fn: func(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
		attempts.Add(1)
		return &domaintool.Result{Success: true}, nil
	}}

	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := NewPipeline(pf, registry, exec, nil, AutoApprover{}, nil, nil, nil, cfg, zap.NewNop())

	outcome := p.Run(context.Background(), 1, entity.ToolCall{ID: "c1", Name: "bash", Arguments: "{}"})
	if outcome.Status != OutcomeFailure || outcome.Err.Kind != KindValidation {
		t.Fatalf("outcome = %+v", outcome)
	}
	if attempts.Load() != 0 {
		t.Error("executor ran despite validation failure")
	}
}

func TestPipeline_MalformedArgumentsAreValidationFailures(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	p := testPipeline(t, registry, exec, cfg)

	outcome := p.Run(context.Background(), 1, entity.ToolCall{ID: "c1", Name: "bash", Arguments: "{not json"})
	if outcome.Status != OutcomeFailure || outcome.Err.Kind != KindValidation {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestPipeline_DenialRecordedInLedger(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	ledger := NewDecisionLedger(nil)
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = true

	denier := approverFunc(func(ctx context.Context, req ApprovalRequest) PermissionResult {
		return PermDenied
	})
	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, nil, denier,
		ledger, nil, nil, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "write_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a", "content": "x"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Err == nil || outcome.Err.Kind != KindPolicy {
		t.Fatalf("outcome = %+v", outcome)
	}
	entries := ledger.Entries()
	if len(entries) != 1 || entries[0].Decision != DecisionDenied {
		t.Errorf("ledger entries = %+v", entries)
	}
}

func TestPipeline_SessionApprovalShortCircuits(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	ledger := NewDecisionLedger(nil)
	cfg := DefaultPipelineConfig()

	var prompts atomic.Int32
	approver := approverFunc(func(ctx context.Context, req ApprovalRequest) PermissionResult {
		prompts.Add(1)
		return PermApprovedSession
	})
	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, nil, approver,
		ledger, nil, nil, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "write_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a", "content": "x"})}
	p.Run(context.Background(), 1, call)
	call.ID = "c2"
	p.Run(context.Background(), 1, call)

	if got := prompts.Load(); got != 1 {
		t.Errorf("prompted %d times, want 1 (session approval cached)", got)
	}
	if exec.callCount("write_file") != 2 {
		t.Errorf("executor runs = %d, want 2", exec.callCount("write_file"))
	}
}

func TestPipeline_ExitUnwindsTurn(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()

	exiter := approverFunc(func(ctx context.Context, req ApprovalRequest) PermissionResult {
		return PermExit
	})
	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, nil, exiter,
		nil, nil, nil, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "write_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a", "content": "x"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Status != OutcomeCancelled || !IsUnwind(outcome) {
		t.Fatalf("outcome = %+v", outcome)
	}
}

// gateFunc adapts a scripted pre-tool verdict to LifecycleGate.
type gateFunc struct {
	pre HookPreToolResult
}

func (g *gateFunc) PreTool(_ context.Context, _ string, _ map[string]interface{}) HookPreToolResult {
	return g.pre
}
func (g *gateFunc) PostTool(_ context.Context, _ string, _ map[string]interface{}, _ string) HookPostToolResult {
	return HookPostToolResult{}
}
func (g *gateFunc) UserPrompt(_ context.Context, _ string) HookUserPromptResult {
	return HookUserPromptResult{Allow: true}
}
func (g *gateFunc) SessionStart(_ context.Context) []string { return nil }
func (g *gateFunc) SessionEnd(_ context.Context)            {}

func TestPipeline_HookAskForcesPrompt(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = true

	var prompts atomic.Int32
	approver := approverFunc(func(ctx context.Context, req ApprovalRequest) PermissionResult {
		prompts.Add(1)
		if req.Reason != "confirm" {
			t.Errorf("reason = %q, want confirm", req.Reason)
		}
		return PermApproved
	})
	gate := &gateFunc{pre: HookPreToolResult{Decision: HookAsk, Reason: "confirm"}}

	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, gate, approver,
		nil, nil, nil, cfg, zap.NewNop(),
	)

	// read_file is readonly and would auto-approve under prompt policy;
	// the hook's ask decision still forces the prompt.
	call := entity.ToolCall{ID: "c1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Status != OutcomeSuccess {
		t.Fatalf("outcome = %+v", outcome)
	}
	if prompts.Load() != 1 {
		t.Errorf("prompted %d times, want 1", prompts.Load())
	}
}

func TestPipeline_HookDenyBlocksBeforePermission(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false
	gate := &gateFunc{pre: HookPreToolResult{Decision: HookDeny, Reason: "nope"}}

	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, gate, AutoApprover{},
		nil, nil, nil, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Err == nil || outcome.Err.Kind != KindPolicy {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !strings.Contains(outcome.ResponseBody(), "denied by policy") {
		t.Errorf("body = %s", outcome.ResponseBody())
	}
	if exec.callCount("read_file") != 0 {
		t.Error("executor ran despite hook deny")
	}
}

// scriptedExecutor delegates to a function.
type scriptedExecutor struct {
	fn func(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error)
}

func (s *scriptedExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	return s.fn(ctx, name, args)
}

// approverFunc adapts a function to the Approver interface.
type approverFunc func(ctx context.Context, req ApprovalRequest) PermissionResult

func (f approverFunc) RequestApproval(ctx context.Context, req ApprovalRequest) PermissionResult {
	return f(ctx, req)
}

// spoolerFunc adapts a function to the OutputSpooler interface.
type spoolerFunc func(content, toolName string) (string, bool, error)

func (f spoolerFunc) SpoolIfLarge(content, toolName string) (string, bool, error) {
	return f(content, toolName)
}

func TestPipeline_SpoolsOversizeOutput(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	exec.results["read_file"] = &domaintool.Result{Output: strings.Repeat("x", 100), Success: true}
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false

	spooled := false
	spooler := spoolerFunc(func(content, toolName string) (string, bool, error) {
		if len(content) > 50 {
			spooled = true
			return "[preview] full output in /tmp/spool", true, nil
		}
		return content, false, nil
	})

	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, nil, AutoApprover{},
		nil, nil, spooler, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "big"})}
	outcome := p.Run(context.Background(), 1, call)

	if !spooled || !outcome.Spooled {
		t.Fatalf("output not spooled: %+v", outcome)
	}
	if !strings.Contains(outcome.Output, "[preview]") {
		t.Errorf("output = %q", outcome.Output)
	}
}

func TestPipeline_SpoolErrorIsFatalToCall(t *testing.T) {
	registry := testRegistry(t)
	exec := newFakeExecutor()
	cfg := DefaultPipelineConfig()
	cfg.HumanInTheLoop = false

	spooler := spoolerFunc(func(content, toolName string) (string, bool, error) {
		return "", false, fmt.Errorf("disk full")
	})
	p := NewPipeline(
		&fakePreflight{registry: registry}, registry, exec, nil, AutoApprover{},
		nil, nil, spooler, cfg, zap.NewNop(),
	)

	call := entity.ToolCall{ID: "c1", Name: "read_file", Arguments: mustArgs(t, map[string]interface{}{"path": "a"})}
	outcome := p.Run(context.Background(), 1, call)

	if outcome.Status != OutcomeFailure || outcome.Err.Kind != KindPermanent {
		t.Fatalf("outcome = %+v", outcome)
	}
}
