package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TurnState represents the discrete states of a turn's state machine.
type TurnState string

const (
	StateAwaitingPrompt    TurnState = "awaiting_prompt"
	StatePreparingRequest  TurnState = "preparing_request"
	StateAwaitingResponse  TurnState = "awaiting_response"
	StateHandlingText      TurnState = "handling_text"
	StateHandlingToolCalls TurnState = "handling_tool_calls"
	StateRepeatGuarded     TurnState = "repeat_guarded"
	StateDone              TurnState = "done"
	StateCancelled         TurnState = "cancelled"
)

// validTransitions defines the allowed turn-state transitions.
var validTransitions = map[TurnState]map[TurnState]bool{
	StateAwaitingPrompt: {
		StatePreparingRequest: true,
		StateDone:             true, // prompt denied by hook
		StateCancelled:        true, // stop queued before the first request
	},
	StatePreparingRequest: {
		StateAwaitingResponse: true,
		StateCancelled:        true,
	},
	StateAwaitingResponse: {
		StateHandlingText:      true,
		StateHandlingToolCalls: true,
		StateDone:              true,
		StateCancelled:         true,
	},
	StateHandlingText: {
		StateHandlingToolCalls: true, // textual tool call detected
		StateDone:              true,
		StateCancelled:         true,
	},
	StateHandlingToolCalls: {
		StatePreparingRequest: true,
		StateRepeatGuarded:    true,
		StateDone:             true,
		StateCancelled:        true,
	},
	StateRepeatGuarded: {
		StatePreparingRequest: true,
		StateDone:             true,
	},
	// Terminal states
	StateDone:      {},
	StateCancelled: {},
}

// TurnSnapshot captures the turn's runtime state at a point in time.
type TurnSnapshot struct {
	State         TurnState     `json:"state"`
	Step          int           `json:"step"`
	TokensUsed    int           `json:"tokens_used"`
	ToolsExecuted int           `json:"tools_executed"`
	Elapsed       time.Duration `json:"elapsed"`
	ModelUsed     string        `json:"model_used,omitempty"`
	LastTool      string        `json:"last_tool,omitempty"`
}

// TurnMachine manages state transitions for one turn. Thread-safe; multiple
// goroutines may read state concurrently.
type TurnMachine struct {
	mu            sync.RWMutex
	state         TurnState
	step          int
	tokensUsed    int
	toolsExecuted int
	startTime     time.Time
	modelUsed     string
	lastTool      string
	logger        *zap.Logger

	listeners []func(from, to TurnState, snap TurnSnapshot)
}

// NewTurnMachine creates a turn machine starting in AwaitingPrompt.
func NewTurnMachine(logger *zap.Logger) *TurnMachine {
	return &TurnMachine{
		state:     StateAwaitingPrompt,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state.
func (m *TurnMachine) State() TurnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns a copy of the current runtime state.
func (m *TurnMachine) Snapshot() TurnSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *TurnMachine) snapshotLocked() TurnSnapshot {
	return TurnSnapshot{
		State:         m.state,
		Step:          m.step,
		TokensUsed:    m.tokensUsed,
		ToolsExecuted: m.toolsExecuted,
		Elapsed:       time.Since(m.startTime),
		ModelUsed:     m.modelUsed,
		LastTool:      m.lastTool,
	}
}

// Transition attempts to move to a new state; invalid transitions error.
func (m *TurnMachine) Transition(to TurnState) error {
	m.mu.Lock()
	from := m.state

	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		m.mu.Unlock()
		err := fmt.Errorf("invalid turn transition: %s -> %s", from, to)
		m.logger.Error("Turn machine violation", zap.Error(err))
		return err
	}

	m.state = to
	snap := m.snapshotLocked()
	listeners := make([]func(from, to TurnState, snap TurnSnapshot), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Debug("Turn transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("step", snap.Step),
	)

	for _, fn := range listeners {
		fn(from, to, snap)
	}
	return nil
}

// OnTransition registers a listener called on every state change.
func (m *TurnMachine) OnTransition(fn func(from, to TurnState, snap TurnSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetStep updates the current loop iteration.
func (m *TurnMachine) SetStep(step int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = step
}

// AddTokens increments the token counter.
func (m *TurnMachine) AddTokens(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokensUsed += n
}

// RecordToolExec records a tool execution.
func (m *TurnMachine) RecordToolExec(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolsExecuted++
	m.lastTool = toolName
}

// SetModel records the model identifier.
func (m *TurnMachine) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelUsed = model
}

// IsTerminal reports whether the machine reached Done or Cancelled.
func (m *TurnMachine) IsTerminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateDone || m.state == StateCancelled
}
