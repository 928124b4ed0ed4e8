package tool

import (
	"context"
	"fmt"
	"time"

	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"go.uber.org/zap"
)

// Executor resolves validated calls against the registry and runs them.
// It implements the run loop's ToolExecutor contract.
type Executor struct {
	registry *domaintool.Registry
	logger   *zap.Logger
}

// NewExecutor creates a tool executor over the registry.
func NewExecutor(registry *domaintool.Registry, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Execute runs a tool by canonical name. Preflight has already normalized
// the name and validated the arguments.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	registration, resolved := e.registry.Resolve(name)
	if registration == nil {
		e.logger.Warn("Tool not found", zap.String("tool", resolved))
		return &domaintool.Result{
			Success: false,
			Error:   fmt.Sprintf("Tool '%s' not found", resolved),
		}, fmt.Errorf("tool not found: %s", resolved)
	}

	start := time.Now()
	result, err := registration.Tool.Execute(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Error("Tool execution error",
			zap.String("tool", resolved),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return result, err
	}

	e.logger.Debug("Tool execution completed",
		zap.String("tool", resolved),
		zap.Duration("duration", elapsed),
		zap.Bool("success", result.Success),
	)
	return result, nil
}
