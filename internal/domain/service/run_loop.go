package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vtcode/vtcode/internal/domain/entity"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"go.uber.org/zap"
)

// RunLoopConfig bounds the turn state machine.
type RunLoopConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxToolLoops    int // upper bound on tool-call iterations per turn
	ToolRepeatLimit int // per-turn repeat threshold for identical (tool,args)
	MaxLLMRetries   int
	RetryBaseWait   time.Duration
}

// DefaultRunLoopConfig returns production defaults.
func DefaultRunLoopConfig() RunLoopConfig {
	return RunLoopConfig{
		MaxToolLoops:    24,
		ToolRepeatLimit: 3,
		MaxLLMRetries:   3,
		RetryBaseWait:   2 * time.Second,
	}
}

// TurnResult summarizes one completed turn.
type TurnResult struct {
	FinalContent  string
	State         TurnState
	TotalSteps    int
	TotalTokens   int
	ModelUsed     string
	ModifiedFiles []string
	Warnings      []string
}

// RunLoop is the turn-driven state machine alternating LLM calls with tool
// executions. It is the single owner of session-state mutation; steering
// signals are the only concurrent input.
type RunLoop struct {
	llm      LLMClient
	registry *domaintool.Registry
	pipeline *Pipeline
	gate     LifecycleGate // nil when no hooks configured
	detector TextualToolDetector
	config   RunLoopConfig
	logger   *zap.Logger

	turn int
}

// NewRunLoop creates a run loop.
func NewRunLoop(
	llm LLMClient,
	registry *domaintool.Registry,
	pipeline *Pipeline,
	gate LifecycleGate,
	config RunLoopConfig,
	logger *zap.Logger,
) *RunLoop {
	if config.MaxToolLoops <= 0 {
		config.MaxToolLoops = 24
	}
	if config.ToolRepeatLimit <= 0 {
		config.ToolRepeatLimit = 3
	}
	if config.MaxLLMRetries <= 0 {
		config.MaxLLMRetries = 3
	}
	if config.RetryBaseWait <= 0 {
		config.RetryBaseWait = 2 * time.Second
	}
	return &RunLoop{
		llm:      llm,
		registry: registry,
		pipeline: pipeline,
		gate:     gate,
		config:   config,
		logger:   logger,
	}
}

// SetTextualToolDetector installs a detector for tool calls embedded in
// plain text. Nil (the default) disables the translation.
func (r *RunLoop) SetTextualToolDetector(d TextualToolDetector) {
	r.detector = d
}

// RunTurn processes one user input: appends the user message (after the
// UserPromptSubmit hook), then loops LLM requests and tool executions until
// Done, Cancelled, or RepeatGuarded termination. Events stream to eventCh.
func (r *RunLoop) RunTurn(
	ctx context.Context,
	state *SessionState,
	userInput string,
	eventCh chan<- entity.AgentEvent,
) *TurnResult {
	r.turn++
	state.ResetTurn()

	machine := NewTurnMachine(r.logger)
	repeats := NewRepeatCounter()
	result := &TurnResult{State: StateDone}

	defer func() {
		result.ModifiedFiles = state.ModifiedFiles()
		result.Warnings = state.Warnings()
		if eventCh != nil {
			close(eventCh)
		}
	}()

	// UserPromptSubmit hook gates the prompt before anything is appended.
	if r.gate != nil {
		promptOutcome := r.gate.UserPrompt(ctx, userInput)
		for _, note := range promptOutcome.Messages {
			r.emit(eventCh, entity.AgentEvent{Type: entity.EventWarning, Content: note})
		}
		if !promptOutcome.Allow {
			reason := promptOutcome.BlockReason
			if reason == "" {
				reason = "Prompt blocked by lifecycle hook."
			}
			_ = machine.Transition(StateDone)
			result.FinalContent = reason
			r.emit(eventCh, entity.AgentEvent{Type: entity.EventError, Error: reason})
			return result
		}
		for _, extra := range promptOutcome.AdditionalContext {
			state.Append(entity.SystemMessage(extra))
		}
	}

	state.Append(entity.UserMessage(userInput))

	for step := 1; step <= r.config.MaxToolLoops; step++ {
		machine.SetStep(step)

		if stop := r.observeSteering(state, machine, eventCh); stop {
			result.State = StateCancelled
			return r.finish(result, machine, state)
		}
		if ctx.Err() != nil {
			_ = machine.Transition(StateCancelled)
			result.State = StateCancelled
			return r.finish(result, machine, state)
		}

		_ = machine.Transition(StatePreparingRequest)

		req := &LLMRequest{
			Messages:    sanitizeMessages(state.History()),
			Tools:       r.registry.Definitions(r.registry.ActiveCapability()),
			Model:       r.config.Model,
			MaxTokens:   r.config.MaxTokens,
			Temperature: r.config.Temperature,
		}

		_ = machine.Transition(StateAwaitingResponse)
		resp, err := r.callLLMWithRetry(ctx, req, step, eventCh)
		if err != nil {
			if ctx.Err() != nil || state.Steering().Stopped() {
				_ = machine.Transition(StateCancelled)
				result.State = StateCancelled
				return r.finish(result, machine, state)
			}
			_ = machine.Transition(StateDone)
			result.FinalContent = fmt.Sprintf("Error: %v", err)
			r.emit(eventCh, entity.AgentEvent{
				Type:  entity.EventError,
				Error: fmt.Sprintf("LLM error at step %d (after %d retries): %v", step, r.config.MaxLLMRetries, err),
			})
			return r.finish(result, machine, state)
		}

		result.TotalSteps = step
		result.TotalTokens += resp.TokensUsed
		result.ModelUsed = resp.ModelUsed
		machine.AddTokens(resp.TokensUsed)
		machine.SetModel(resp.ModelUsed)

		r.emit(eventCh, entity.AgentEvent{
			Type: entity.EventStepDone,
			StepInfo: &entity.StepInfo{
				Step:       step,
				TokensUsed: resp.TokensUsed,
				ModelUsed:  resp.ModelUsed,
				State:      string(machine.State()),
			},
		})

		calls := resp.ToolCalls

		if len(calls) == 0 {
			_ = machine.Transition(StateHandlingText)

			// Some models emit tool calls as plain text; translate when a
			// detector is installed, otherwise the text is the answer.
			if r.detector != nil {
				if detected := r.detector.Detect(resp.Content); detected != nil {
					calls = []entity.ToolCall{*detected}
				}
			}

			if len(calls) == 0 {
				content := stripReasoningTags(resp.Content)
				msg := entity.AssistantMessage(content)
				if resp.Reasoning != "" && resp.Reasoning != content {
					msg.Reasoning = stripReasoningTags(resp.Reasoning)
				}
				state.Append(msg)
				_ = machine.Transition(StateDone)
				result.FinalContent = content
				r.emit(eventCh, entity.AgentEvent{Type: entity.EventDone, Content: content})
				return r.finish(result, machine, state)
			}
			_ = machine.Transition(StateHandlingToolCalls)
		} else {
			_ = machine.Transition(StateHandlingToolCalls)
		}

		// The assistant message carrying the calls is appended before any
		// execution so tool responses always have their antecedent.
		state.Append(entity.AssistantToolCalls(resp.Content, calls))

		for _, call := range calls {
			r.emit(eventCh, entity.AgentEvent{
				Type: entity.EventToolCall,
				ToolCall: &entity.ToolCallEvent{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				},
			})
		}

		outcomes := r.pipeline.ExecuteCalls(ctx, r.turn, calls, state, func(ev entity.AgentEvent) {
			r.emit(eventCh, ev)
		})

		for _, outcome := range outcomes {
			machine.RecordToolExec(outcome.ToolName)
			if outcome.Status == OutcomeCancelled && IsUnwind(outcome) {
				_ = machine.Transition(StateCancelled)
				result.State = StateCancelled
				return r.finish(result, machine, state)
			}
		}

		// Turn balancer: repeat limits and loop budget.
		verdict := r.balanceTurn(calls, outcomes, repeats, state, step)
		switch verdict {
		case StateRepeatGuarded:
			_ = machine.Transition(StateRepeatGuarded)
			_ = machine.Transition(StateDone)
			result.State = StateRepeatGuarded
			result.FinalContent = "Stopped: repeated tool calls detected."
			r.emit(eventCh, entity.AgentEvent{Type: entity.EventDone, Content: result.FinalContent})
			return r.finish(result, machine, state)
		case StateDone:
			_ = machine.Transition(StateDone)
			result.FinalContent = "Stopped: tool loop limit reached."
			state.PushWarning(fmt.Sprintf("Turn ended after %d tool loops.", r.config.MaxToolLoops))
			r.emit(eventCh, entity.AgentEvent{Type: entity.EventDone, Content: result.FinalContent})
			return r.finish(result, machine, state)
		}

		if state.Steering().Stopped() {
			_ = machine.Transition(StateCancelled)
			result.State = StateCancelled
			return r.finish(result, machine, state)
		}
	}

	_ = machine.Transition(StateDone)
	result.FinalContent = "Stopped: tool loop limit reached."
	state.PushWarning(fmt.Sprintf("Turn ended after %d tool loops.", r.config.MaxToolLoops))
	return r.finish(result, machine, state)
}

// balanceTurn inspects per-call repeat counts and the step budget. It
// returns StateRepeatGuarded to break a loop, StateDone when the loop budget
// is exhausted, or the zero value to continue.
func (r *RunLoop) balanceTurn(
	calls []entity.ToolCall,
	outcomes []*ToolPipelineOutcome,
	repeats *RepeatCounter,
	state *SessionState,
	step int,
) TurnState {
	for i, call := range calls {
		args, err := call.ParseArguments()
		if err != nil {
			continue
		}
		name := call.Name
		if outcomes[i] != nil && outcomes[i].ToolName != "" {
			name = outcomes[i].ToolName
		}
		count := repeats.Record(name, ArgsDigest(args))
		if count > r.config.ToolRepeatLimit {
			state.PushWarning(fmt.Sprintf(
				"Tool '%s' was called %d times with identical arguments this turn; breaking the loop.",
				name, count,
			))
			state.MarkToolLoopLimitHit()
			return StateRepeatGuarded
		}
	}

	if step >= r.config.MaxToolLoops {
		return StateDone
	}
	return ""
}

// observeSteering drains the inbox at a polling point. Pause blocks until
// Resume or Stop; InjectInput appends to the history. Returns true on Stop.
func (r *RunLoop) observeSteering(state *SessionState, machine *TurnMachine, eventCh chan<- entity.AgentEvent) bool {
	inbox := state.Steering()
	for {
		signal, ok := inbox.Poll()
		if !ok {
			return false
		}
		switch signal.Kind {
		case entity.SteerStop:
			_ = machine.Transition(StateCancelled)
			return true
		case entity.SteerInjectInput:
			if signal.Text != "" {
				state.Append(entity.UserMessage(signal.Text))
			}
		case entity.SteerPause:
			r.logger.Info("Turn paused; waiting for resume")
			for {
				inbox.Wait()
				next, ok := inbox.Poll()
				if !ok {
					continue
				}
				if next.Kind == entity.SteerResume {
					r.logger.Info("Turn resumed")
					break
				}
				if next.Kind == entity.SteerStop {
					_ = machine.Transition(StateCancelled)
					return true
				}
				// Pause admits only Resume and Stop; anything else waits.
			}
		}
	}
}

func (r *RunLoop) callLLMWithRetry(
	ctx context.Context,
	req *LLMRequest,
	step int,
	eventCh chan<- entity.AgentEvent,
) (*LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxLLMRetries; attempt++ {
		if attempt > 0 {
			delay := r.config.RetryBaseWait * time.Duration(1<<(attempt-1))
			r.logger.Warn("Retrying LLM call",
				zap.Int("step", step),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := r.llm.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		classified := Classify(err)
		if !classified.Kind.IsRetryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *RunLoop) finish(result *TurnResult, machine *TurnMachine, state *SessionState) *TurnResult {
	snap := machine.Snapshot()
	r.logger.Info("Turn finished",
		zap.String("state", string(result.State)),
		zap.Int("steps", snap.Step),
		zap.Int("tokens", snap.TokensUsed),
		zap.Int("tools", snap.ToolsExecuted),
		zap.Int("modified_files", len(state.ModifiedFiles())),
	)
	return result
}

func (r *RunLoop) emit(ch chan<- entity.AgentEvent, event entity.AgentEvent) {
	if ch == nil {
		return
	}
	event.Timestamp = time.Now()
	select {
	case ch <- event:
	default:
		r.logger.Warn("Event channel full, dropping event", zap.String("type", string(event.Type)))
	}
}
