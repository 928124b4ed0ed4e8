package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// commandResult captures the raw observable outcome of one hook process.
type commandResult struct {
	exitCode       int
	exited         bool
	stdout         string
	stderr         string
	timedOut       bool
	timeoutSeconds int
}

// EventPayload is the JSON context written to a hook's standard input.
type EventPayload struct {
	HookEventName EventName              `json:"hook_event_name"`
	SessionID     string                 `json:"session_id,omitempty"`
	Workspace     string                 `json:"workspace,omitempty"`
	ToolName      string                 `json:"tool_name,omitempty"`
	ToolArgs      map[string]interface{} `json:"tool_args,omitempty"`
	Prompt        string                 `json:"prompt,omitempty"`
	ToolOutput    string                 `json:"tool_output,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Runner spawns hook commands with the event payload on stdin.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a hook runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// forwardedEnv lists variables always passed through to hook processes on
// top of the inherited environment.
var forwardedEnv = []string{"TZ", "LANG", "PATH"}

func (r *Runner) run(ctx context.Context, cfg CommandConfig, payload EventPayload) commandResult {
	timeout := cfg.Timeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, cfg.Command, cfg.Args...)

	input, err := json.Marshal(payload)
	if err == nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	cmd.Env = os.Environ()
	for _, key := range forwardedEnv {
		if value, ok := os.LookupEnv(key); ok {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := commandResult{
		stdout:         stdout.String(),
		stderr:         stderr.String(),
		timeoutSeconds: int(timeout / time.Second),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.timedOut = true
		r.logger.Warn("Hook command timed out",
			zap.String("command", cfg.Command),
			zap.Duration("timeout", timeout),
		)
		return result
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.exited = true
			result.exitCode = exitErr.ExitCode()
		} else {
			// Spawn failure (binary missing, permission). Surface via stderr.
			result.exited = true
			result.exitCode = -1
			if result.stderr == "" {
				result.stderr = runErr.Error()
			}
		}
	} else {
		result.exited = true
		result.exitCode = 0
	}

	r.logger.Debug("Hook command finished",
		zap.String("command", cfg.Command),
		zap.Int("exit_code", result.exitCode),
		zap.Duration("elapsed", elapsed),
		zap.Bool("timed_out", result.timedOut),
	)
	return result
}
