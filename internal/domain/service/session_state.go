package service

import (
	"github.com/vtcode/vtcode/internal/domain/entity"
)

// SessionState is the mutable per-session record. Mutations are confined to
// the run loop (single owner); the steering inbox is the only concurrent
// producer.
type SessionState struct {
	SessionID string

	workingHistory  []entity.Message
	modifiedFiles   map[string]bool
	toolCallCounts  map[string]int
	warnings        []string
	steering        *SteeringInbox
	toolLoopLimited bool
}

// NewSessionState creates session state with an empty history.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		modifiedFiles:  make(map[string]bool),
		toolCallCounts: make(map[string]int),
		steering:       NewSteeringInbox(),
	}
}

// Steering returns the session's steering inbox.
func (s *SessionState) Steering() *SteeringInbox {
	return s.steering
}

// History returns the working history. Callers must treat the slice as
// read-only; entries are never mutated after append.
func (s *SessionState) History() []entity.Message {
	return s.workingHistory
}

// Append adds a message to the working history.
func (s *SessionState) Append(msg entity.Message) {
	s.workingHistory = append(s.workingHistory, msg)
}

// ReplaceHistory swaps the whole history. Used only by the context-manager
// collaborator's compaction, which replaces whole entries.
func (s *SessionState) ReplaceHistory(messages []entity.Message) {
	s.workingHistory = messages
}

// PushToolResult appends the ToolResponse for a successful or failed call.
func (s *SessionState) PushToolResult(callID, toolName, contentJSON string) {
	s.Append(entity.ToolResponse(callID, toolName, contentJSON))
}

// PushToolError appends a ToolResponse carrying a structured error body.
func (s *SessionState) PushToolError(callID, toolName, errorBody string) {
	s.Append(entity.ToolResponse(callID, toolName, errorBody))
}

// RecordTool increments the per-session call counter for a tool.
func (s *SessionState) RecordTool(name string) {
	s.toolCallCounts[name]++
}

// ToolCallCount returns how many times a tool has been called this session.
func (s *SessionState) ToolCallCount(name string) int {
	return s.toolCallCounts[name]
}

// ExtendModifiedFiles merges executor-reported paths into the modified set.
// Failures extend the set too: edits may partially apply before an error.
func (s *SessionState) ExtendModifiedFiles(paths []string) {
	for _, p := range paths {
		if p != "" {
			s.modifiedFiles[p] = true
		}
	}
}

// ModifiedFiles returns the paths modified so far this session.
func (s *SessionState) ModifiedFiles() []string {
	files := make([]string, 0, len(s.modifiedFiles))
	for p := range s.modifiedFiles {
		files = append(files, p)
	}
	return files
}

// PushWarning records a user-visible warning.
func (s *SessionState) PushWarning(text string) {
	s.warnings = append(s.warnings, text)
}

// Warnings returns accumulated warnings.
func (s *SessionState) Warnings() []string {
	return s.warnings
}

// MarkToolLoopLimitHit halts further tool calls for the remainder of the
// turn.
func (s *SessionState) MarkToolLoopLimitHit() {
	s.toolLoopLimited = true
}

// ToolLoopLimitHit reports whether further tool calls are halted.
func (s *SessionState) ToolLoopLimitHit() bool {
	return s.toolLoopLimited
}

// ResetTurn clears per-turn flags at a turn boundary.
func (s *SessionState) ResetTurn() {
	s.toolLoopLimited = false
}
