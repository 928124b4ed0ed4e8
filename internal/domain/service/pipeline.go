package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vtcode/vtcode/internal/domain/entity"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"go.uber.org/zap"
)

// PreflightResult is the validated, normalized view of a tool call.
type PreflightResult struct {
	NormalizedToolName string
	ReadOnly           bool
	Args               map[string]interface{}
}

// Preflighter validates a tool call before any executor runs.
// Implemented by the infrastructure tool layer.
type Preflighter interface {
	Validate(name string, args map[string]interface{}) (*PreflightResult, error)
}

// ToolExecutor resolves and runs a validated tool call.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error)
}

// OutputSpooler replaces oversize tool output with a preview + pointer.
// Implemented by the spool infrastructure.
type OutputSpooler interface {
	// SpoolIfLarge returns the (possibly replaced) content and whether the
	// original was spooled to a file.
	SpoolIfLarge(content, toolName string) (string, bool, error)
}

// DefaultPolicy is the tool approval policy when no prior decision applies.
type DefaultPolicy string

const (
	PolicyAllow  DefaultPolicy = "allow"
	PolicyPrompt DefaultPolicy = "prompt"
	PolicyDeny   DefaultPolicy = "deny"
)

// PipelineConfig controls approval, retries, timeouts, and parallelism.
type PipelineConfig struct {
	DefaultPolicy   DefaultPolicy
	HumanInTheLoop  bool
	Autonomous      bool // bypass HITL for non-mutating tools
	FullAuto        bool // bypass HITL for mutating tools too
	MaxToolRetries  int
	RetryBaseWait   time.Duration
	MaxRetryDelay   time.Duration
	ToolTimeout     time.Duration
	MaxParallelTools int
	ParallelToolUse  bool // provider config permits parallel tool use
	ContextTag       string
	// MaxOutputChars caps inline (non-spooled) tool output embedded in the
	// transcript. Spooled output is already a preview.
	MaxOutputChars int
}

// DefaultPipelineConfig returns production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		DefaultPolicy:    PolicyPrompt,
		HumanInTheLoop:   true,
		MaxToolRetries:   2,
		RetryBaseWait:    time.Second,
		MaxRetryDelay:    15 * time.Second,
		ToolTimeout:      60 * time.Second,
		MaxParallelTools: 4,
		ParallelToolUse:  true,
		MaxOutputChars:   32000,
	}
}

// Pipeline runs tool calls through preflight, hooks, permission, execution,
// spooling, and outcome classification.
type Pipeline struct {
	preflight Preflighter
	registry  *domaintool.Registry
	executor  ToolExecutor
	gate      LifecycleGate // nil when no hooks configured
	approver  Approver
	ledger    *DecisionLedger
	cache     *ToolResultCache
	spooler   OutputSpooler // nil disables spooling
	config    PipelineConfig
	logger    *zap.Logger
}

// NewPipeline assembles a tool execution pipeline.
func NewPipeline(
	preflight Preflighter,
	registry *domaintool.Registry,
	executor ToolExecutor,
	gate LifecycleGate,
	approver Approver,
	ledger *DecisionLedger,
	cache *ToolResultCache,
	spooler OutputSpooler,
	config PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if approver == nil {
		approver = AutoApprover{}
	}
	if config.MaxParallelTools <= 0 {
		config.MaxParallelTools = 4
	}
	if config.RetryBaseWait <= 0 {
		config.RetryBaseWait = time.Second
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = 15 * time.Second
	}
	return &Pipeline{
		preflight: preflight,
		registry:  registry,
		executor:  executor,
		gate:      gate,
		approver:  approver,
		ledger:    ledger,
		cache:     cache,
		spooler:   spooler,
		config:    config,
		logger:    logger,
	}
}

// callPlan is the per-call context threaded through the pipeline stages.
type callPlan struct {
	call     entity.ToolCall
	args     map[string]interface{}
	name     string
	digest   string
	readOnly bool
}

// unwindError marks permission results that abort the turn loop.
type unwindError struct {
	result PermissionResult
}

func (e *unwindError) Error() string {
	return fmt.Sprintf("turn unwound: %s", e.result)
}

// IsUnwind reports whether an outcome carries an Exit/Interrupted unwind.
func IsUnwind(o *ToolPipelineOutcome) bool {
	if o == nil || o.Err == nil {
		return false
	}
	var unwind *unwindError
	return errors.As(o.Err, &unwind)
}

// ExecuteCalls runs every tool call from one assistant response, appends the
// ToolResponses to the session state in emission order, and returns the
// outcomes. Parallel execution applies only when all calls are readonly, the
// provider permits parallel tool use, and more than one call was emitted.
func (p *Pipeline) ExecuteCalls(
	ctx context.Context,
	turn int,
	calls []entity.ToolCall,
	state *SessionState,
	emit func(entity.AgentEvent),
) []*ToolPipelineOutcome {
	outcomes := make([]*ToolPipelineOutcome, len(calls))

	if p.canRunParallel(calls) {
		p.runParallel(ctx, turn, calls, outcomes)
	} else {
		p.runSequential(ctx, turn, calls, outcomes, state)
	}

	// Responses always append in the order the model emitted the calls,
	// regardless of completion order.
	for i, outcome := range outcomes {
		call := calls[i]
		p.recordOutcome(ctx, turn, call, outcome, state, emit)
	}
	return outcomes
}

func (p *Pipeline) canRunParallel(calls []entity.ToolCall) bool {
	if len(calls) < 2 || !p.config.ParallelToolUse {
		return false
	}
	for _, call := range calls {
		args, err := call.ParseArguments()
		if err != nil {
			return false
		}
		if !p.registry.IsReadOnly(call.Name, args) {
			return false
		}
	}
	return true
}

func (p *Pipeline) runParallel(ctx context.Context, turn int, calls []entity.ToolCall, outcomes []*ToolPipelineOutcome) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.config.MaxParallelTools)

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c entity.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx] = p.cancelledOutcome(c)
				return
			}
			outcomes[idx] = p.Run(ctx, turn, c)
		}(i, call)
	}
	wg.Wait()
}

func (p *Pipeline) runSequential(
	ctx context.Context,
	turn int,
	calls []entity.ToolCall,
	outcomes []*ToolPipelineOutcome,
	state *SessionState,
) {
	halted := false
	for i, call := range calls {
		if halted || state.ToolLoopLimitHit() {
			outcomes[i] = p.haltedOutcome(call)
			continue
		}
		if signal, ok := state.Steering().Poll(); ok && signal.Kind == entity.SteerStop {
			outcomes[i] = p.cancelledOutcome(call)
			halted = true
			continue
		}
		if ctx.Err() != nil {
			outcomes[i] = p.cancelledOutcome(call)
			halted = true
			continue
		}

		outcome := p.Run(ctx, turn, call)
		outcomes[i] = outcome

		if outcome.Err != nil && outcome.Err.Kind.HaltsTurn() {
			state.MarkToolLoopLimitHit()
			state.PushWarning(fmt.Sprintf(
				"Tool '%s' %s; halting further tool calls this turn.",
				outcome.ToolName, outcome.Err.Kind,
			))
		}
		if outcome.Status == OutcomeCancelled || IsUnwind(outcome) {
			halted = true
		}
	}
}

// Run executes one tool call through the full pipeline.
func (p *Pipeline) Run(ctx context.Context, turn int, call entity.ToolCall) *ToolPipelineOutcome {
	start := time.Now()

	args, err := call.ParseArguments()
	if err != nil {
		return p.failureOutcome(call, &ClassifiedError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("invalid tool arguments for '%s'", call.Name),
			Cause:   err,
		}, start)
	}

	pre, err := p.preflight.Validate(call.Name, args)
	if err != nil {
		kind := KindValidation
		if isPlanModeDenial(err) {
			kind = KindPolicy
		}
		return p.failureOutcome(call, &ClassifiedError{
			Kind:    kind,
			Message: err.Error(),
			Cause:   err,
		}, start)
	}

	plan := &callPlan{
		call:     call,
		args:     pre.Args,
		name:     pre.NormalizedToolName,
		digest:   ArgsDigest(pre.Args),
		readOnly: pre.ReadOnly,
	}

	// Cache lookup for readonly calls; the executor runs at most once for
	// identical calls within the TTL.
	if plan.readOnly && p.cache != nil {
		if cached, hit := p.cache.Get(plan.name, plan.digest, p.config.ContextTag); hit {
			p.logger.Debug("Tool cache hit", zap.String("tool", plan.name))
			cached.CallID = call.ID
			cached.Elapsed = time.Since(start)
			return cached
		}
	}

	// PreToolUse hook.
	hookResult := HookPreToolResult{Decision: HookContinue}
	if p.gate != nil {
		hookResult = p.gate.PreTool(ctx, plan.name, plan.args)
		if hookResult.Decision == HookDeny {
			reason := hookResult.Reason
			if reason == "" {
				reason = "blocked by lifecycle hook"
			}
			return p.deniedOutcome(plan, reason, start)
		}
	}

	// Permission flow.
	perm := p.resolvePermission(ctx, turn, plan, hookResult)
	switch perm {
	case PermDenied:
		return p.deniedOutcome(plan, "denied by user", start)
	case PermExit, PermInterrupted:
		outcome := p.cancelledOutcome(call)
		outcome.Err = &ClassifiedError{
			Kind:    KindCancelled,
			Message: perm.String(),
			Cause:   &unwindError{result: perm},
		}
		return outcome
	}

	// Execute with timeout and retries.
	outcome := p.executeWithRetries(ctx, plan, start)

	// Insert into the result cache; readonly outcomes only.
	if outcome.Status == OutcomeSuccess && plan.readOnly && p.cache != nil {
		p.cache.Put(plan.name, plan.digest, p.config.ContextTag, *outcome)
	}

	return outcome
}

// resolvePermission walks hook verdicts, cached approvals, default policy,
// and HITL to a final permission result, recording decisions in the ledger.
func (p *Pipeline) resolvePermission(ctx context.Context, turn int, plan *callPlan, hook HookPreToolResult) PermissionResult {
	record := func(decision Decision) {
		if p.ledger != nil {
			p.ledger.Record(turn, plan.name, plan.digest, decision)
		}
	}

	if hook.Decision == HookAllow {
		record(DecisionApproved)
		return PermApproved
	}

	if p.ledger != nil {
		if prior, ok := p.ledger.PriorApproval(plan.name, plan.digest); ok {
			record(prior)
			return PermApproved
		}
	}

	mutating := !plan.readOnly
	needsPrompt := hook.Decision == HookAsk

	if !needsPrompt {
		switch p.config.DefaultPolicy {
		case PolicyAllow:
			record(DecisionApproved)
			return PermApproved
		case PolicyDeny:
			record(DecisionDenied)
			return PermDenied
		}

		if !p.config.HumanInTheLoop {
			record(DecisionApproved)
			return PermApproved
		}
		if p.config.FullAuto {
			record(DecisionApproved)
			return PermApproved
		}
		if p.config.Autonomous && !mutating {
			record(DecisionApproved)
			return PermApproved
		}
		if !mutating {
			// Read-only calls under prompt policy auto-approve; only
			// sensitive (mutating) tools reach the user.
			record(DecisionApproved)
			return PermApproved
		}
	}

	result := p.approver.RequestApproval(ctx, ApprovalRequest{
		ToolName:   plan.name,
		Args:       plan.args,
		ArgsDigest: plan.digest,
		Reason:     hook.Reason,
	})
	switch result {
	case PermApproved:
		record(DecisionApproved)
	case PermApprovedSession:
		record(DecisionApprovedSession)
	case PermApprovedPermanent:
		record(DecisionApprovedPermanent)
	case PermDenied:
		record(DecisionDenied)
	}
	return result
}

func (p *Pipeline) executeWithRetries(ctx context.Context, plan *callPlan, start time.Time) *ToolPipelineOutcome {
	var lastErr *ClassifiedError

	attempts := p.config.MaxToolRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.config.RetryBaseWait << (attempt - 1)
			if delay > p.config.MaxRetryDelay {
				delay = p.config.MaxRetryDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return p.cancelledOutcome(plan.call)
			}
			p.logger.Debug("Retrying tool call",
				zap.String("tool", plan.name),
				zap.Int("attempt", attempt+1),
			)
		}

		outcome := p.executeOnce(ctx, plan, start)
		if outcome.Err == nil || !outcome.Err.Kind.IsRetryable() {
			return outcome
		}
		lastErr = outcome.Err
	}

	return &ToolPipelineOutcome{
		Status:   OutcomeFailure,
		Err:      lastErr,
		ToolName: plan.name,
		CallID:   plan.call.ID,
		Elapsed:  time.Since(start),
	}
}

func (p *Pipeline) executeOnce(ctx context.Context, plan *callPlan, start time.Time) *ToolPipelineOutcome {
	execCtx := ctx
	var cancel context.CancelFunc
	if p.config.ToolTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, p.config.ToolTimeout)
		defer cancel()
	}

	result, err := p.executor.Execute(execCtx, plan.name, plan.args)
	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &ToolPipelineOutcome{
			Status:    OutcomeTimeout,
			Err:       &ClassifiedError{Kind: KindTimeout, Message: "tool execution timed out"},
			TimeoutMS: p.config.ToolTimeout.Milliseconds(),
			ToolName:  plan.name,
			CallID:    plan.call.ID,
			Elapsed:   elapsed,
		}
	}
	if ctx.Err() != nil {
		return p.cancelledOutcome(plan.call)
	}

	if err != nil {
		classified := Classify(err)
		outcome := &ToolPipelineOutcome{
			Status:   OutcomeFailure,
			Err:      classified,
			ToolName: plan.name,
			CallID:   plan.call.ID,
			Elapsed:  elapsed,
		}
		if result != nil {
			outcome.ModifiedFiles = result.ModifiedFiles
		}
		return outcome
	}

	if !result.Success {
		classified := Classify(fmt.Errorf("%s", firstNonEmptyString(result.Error, "tool reported failure")))
		return &ToolPipelineOutcome{
			Status:        OutcomeFailure,
			Err:           classified,
			ToolName:      plan.name,
			CallID:        plan.call.ID,
			Elapsed:       elapsed,
			ModifiedFiles: result.ModifiedFiles,
		}
	}

	// The spooled file becomes the source of truth for oversize output;
	// below-threshold output is capped inline instead.
	spooled := false
	if p.spooler != nil {
		replaced, sp, spoolErr := p.spooler.SpoolIfLarge(result.Output, plan.name)
		if spoolErr != nil {
			// Filesystem errors during spooling are fatal to the call.
			return &ToolPipelineOutcome{
				Status:   OutcomeFailure,
				Err:      &ClassifiedError{Kind: KindPermanent, Message: "failed to spool tool output", Cause: spoolErr},
				ToolName: plan.name,
				CallID:   plan.call.ID,
				Elapsed:  elapsed,
			}
		}
		if sp {
			result.Output = replaced
			spooled = true
		}
	}
	if !spooled {
		result.Output = truncateOutput(result.Output, p.config.MaxOutputChars)
	}

	payload, err := result.MarshalJSON()
	if err != nil {
		return &ToolPipelineOutcome{
			Status:   OutcomeFailure,
			Err:      &ClassifiedError{Kind: KindPermanent, Message: "failed to serialize tool output", Cause: err},
			ToolName: plan.name,
			CallID:   plan.call.ID,
			Elapsed:  elapsed,
		}
	}

	return &ToolPipelineOutcome{
		Status:         OutcomeSuccess,
		Output:         string(payload),
		Stdout:         result.Stdout,
		ModifiedFiles:  result.ModifiedFiles,
		CommandSuccess: result.Success,
		HasMore:        result.HasMore,
		ToolName:       plan.name,
		CallID:         plan.call.ID,
		Elapsed:        elapsed,
		Spooled:        spooled,
	}
}

// recordOutcome appends the ToolResponse and side effects for one call.
func (p *Pipeline) recordOutcome(
	ctx context.Context,
	turn int,
	call entity.ToolCall,
	outcome *ToolPipelineOutcome,
	state *SessionState,
	emit func(entity.AgentEvent),
) {
	if outcome == nil {
		outcome = p.cancelledOutcome(call)
	}

	state.RecordTool(outcome.ToolName)
	state.ExtendModifiedFiles(outcome.ModifiedFiles)

	body := outcome.ResponseBody()

	// PostToolUse hook (skipped for cancelled calls; nothing executed).
	if p.gate != nil && outcome.Status != OutcomeCancelled {
		post := p.gate.PostTool(ctx, outcome.ToolName, nil, body)
		if post.BlockReason != "" {
			state.PushWarning(post.BlockReason)
		}
	}

	state.PushToolResult(callIDOrName(call, outcome), outcome.ToolName, body)

	if outcome.Err != nil && outcome.Err.Kind.HaltsTurn() && !state.ToolLoopLimitHit() {
		state.MarkToolLoopLimitHit()
		state.PushWarning(fmt.Sprintf(
			"Tool '%s' %s; halting further tool calls this turn.",
			outcome.ToolName, outcome.Err.Kind,
		))
	}

	if emit != nil {
		emit(entity.AgentEvent{
			Type: entity.EventToolResult,
			ToolCall: &entity.ToolCallEvent{
				ID:       call.ID,
				Name:     outcome.ToolName,
				Output:   body,
				Success:  outcome.Status == OutcomeSuccess,
				Duration: outcome.Elapsed,
			},
		})
	}
}

func callIDOrName(call entity.ToolCall, outcome *ToolPipelineOutcome) string {
	if call.ID != "" {
		return call.ID
	}
	return outcome.CallID
}

func (p *Pipeline) failureOutcome(call entity.ToolCall, err *ClassifiedError, start time.Time) *ToolPipelineOutcome {
	name := call.Name
	if p.registry != nil {
		_, name = p.registry.Resolve(call.Name)
	}
	return &ToolPipelineOutcome{
		Status:   OutcomeFailure,
		Err:      err,
		ToolName: name,
		CallID:   call.ID,
		Elapsed:  time.Since(start),
	}
}

func (p *Pipeline) deniedOutcome(plan *callPlan, reason string, start time.Time) *ToolPipelineOutcome {
	return &ToolPipelineOutcome{
		Status: OutcomeFailure,
		Err: &ClassifiedError{
			Kind:    KindPolicy,
			Message: fmt.Sprintf("Tool '%s' denied by policy: %s", plan.name, reason),
		},
		Output:   DeniedByPolicyBody(plan.name, reason),
		ToolName: plan.name,
		CallID:   plan.call.ID,
		Elapsed:  time.Since(start),
	}
}

func (p *Pipeline) cancelledOutcome(call entity.ToolCall) *ToolPipelineOutcome {
	name := call.Name
	if p.registry != nil {
		_, name = p.registry.Resolve(call.Name)
	}
	return &ToolPipelineOutcome{
		Status:   OutcomeCancelled,
		ToolName: name,
		CallID:   call.ID,
	}
}

func (p *Pipeline) haltedOutcome(call entity.ToolCall) *ToolPipelineOutcome {
	name := call.Name
	if p.registry != nil {
		_, name = p.registry.Resolve(call.Name)
	}
	return &ToolPipelineOutcome{
		Status: OutcomeFailure,
		Err: &ClassifiedError{
			Kind:    KindPolicy,
			Message: fmt.Sprintf("Tool '%s' denied by policy: tool calls halted for the remainder of this turn", name),
		},
		Output:   DeniedByPolicyBody(name, "tool calls halted for the remainder of this turn"),
		ToolName: name,
		CallID:   call.ID,
	}
}

func isPlanModeDenial(err error) bool {
	return err != nil && strings.Contains(err.Error(), domaintool.PlanModeDeniedContext)
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
