package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/vtcode/vtcode/internal/domain/entity"
	"github.com/vtcode/vtcode/internal/domain/service"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"github.com/vtcode/vtcode/pkg/safego"
)

// ExitCodeInterrupt is returned when the user ends the session with a
// double interrupt.
const ExitCodeInterrupt = 130

// AppConfig holds REPL runtime config.
type AppConfig struct {
	Model      string
	Workspace  string
	SessionID  string
	ToolCount  int
	InitPrompt string
}

// SessionSaver persists the session at turn boundaries. Nil disables
// persistence.
type SessionSaver func(state *service.SessionState) error

// App is the interactive terminal surface over the run loop.
type App struct {
	loop     *service.RunLoop
	state    *service.SessionState
	registry *domaintool.Registry
	gate     service.LifecycleGate // nil when no hooks configured
	mcp      MCPController
	renderer *Renderer
	saver    SessionSaver
	config   AppConfig
	logger   *zap.Logger
}

// NewApp assembles the REPL.
func NewApp(
	loop *service.RunLoop,
	state *service.SessionState,
	registry *domaintool.Registry,
	gate service.LifecycleGate,
	mcp MCPController,
	saver SessionSaver,
	config AppConfig,
	logger *zap.Logger,
) *App {
	if mcp == nil {
		mcp = NoopMCPController{}
	}
	return &App{
		loop:     loop,
		state:    state,
		registry: registry,
		gate:     gate,
		mcp:      mcp,
		renderer: NewRenderer(100),
		saver:    saver,
		config:   config,
		logger:   logger,
	}
}

// Run starts the REPL and returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	fmt.Println(RenderBanner(BannerInfo{
		Model:     a.config.Model,
		Workspace: a.config.Workspace,
		SessionID: a.config.SessionID,
		ToolCount: a.config.ToolCount,
	}))

	if a.gate != nil {
		for _, extra := range a.gate.SessionStart(ctx) {
			a.state.Append(entity.SystemMessage(extra))
		}
		defer a.gate.SessionEnd(context.Background())
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		a.logger.Error("readline init failed", zap.Error(err))
		return 1
	}
	defer rl.Close()

	// SIGINT during a turn steers Stop; a second within two seconds exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var lastInterrupt time.Time
	safego.Go(a.logger, "signal-handler", func() {
		for range sigCh {
			now := time.Now()
			if now.Sub(lastInterrupt) < 2*time.Second {
				fmt.Println("\nexiting")
				os.Exit(ExitCodeInterrupt)
			}
			lastInterrupt = now
			a.state.Steering().Push(entity.SteeringSignal{Kind: entity.SteerStop})
		}
	})

	if a.config.InitPrompt != "" {
		a.runTurn(ctx, a.config.InitPrompt)
	}

	for {
		input, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF on Ctrl-D
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch a.handleCommand(ctx, input) {
		case cmdHandled:
			continue
		case cmdExit:
			return 0
		}

		a.runTurn(ctx, input)
	}

	return 0
}

func (a *App) runTurn(ctx context.Context, input string) {
	eventCh := make(chan entity.AgentEvent, 64)
	done := make(chan struct{})

	safego.Go(a.logger, "event-renderer", func() {
		defer close(done)
		for event := range eventCh {
			a.renderEvent(event)
		}
	})

	result := a.loop.RunTurn(ctx, a.state, input, eventCh)
	<-done

	if result.State == service.StateCancelled {
		fmt.Println(a.renderer.RenderWarning("Turn cancelled."))
	}
	if result.FinalContent != "" && result.State != service.StateCancelled {
		fmt.Println(a.renderer.RenderMarkdown(result.FinalContent))
	}

	if a.saver != nil {
		if err := a.saver(a.state); err != nil {
			a.logger.Warn("Failed to persist session", zap.Error(err))
		}
	}
}

func (a *App) renderEvent(event entity.AgentEvent) {
	switch event.Type {
	case entity.EventToolCall:
		fmt.Println(a.renderer.RenderToolCall(event.ToolCall))
	case entity.EventToolResult:
		fmt.Println(a.renderer.RenderToolResult(event.ToolCall))
	case entity.EventWarning:
		fmt.Println(a.renderer.RenderWarning(event.Content))
	case entity.EventError:
		fmt.Println(a.renderer.RenderError(event.Error))
	}
}
