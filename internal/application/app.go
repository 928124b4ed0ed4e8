// Package application assembles the session: configuration, logging,
// persistence, the tool layer, hooks, and the run loop.
package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vtcode/vtcode/internal/domain/service"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"github.com/vtcode/vtcode/internal/infrastructure/config"
	"github.com/vtcode/vtcode/internal/infrastructure/hooks"
	"github.com/vtcode/vtcode/internal/infrastructure/llm"
	"github.com/vtcode/vtcode/internal/infrastructure/persistence"
	"github.com/vtcode/vtcode/internal/infrastructure/sandbox"
	"github.com/vtcode/vtcode/internal/infrastructure/spool"
	infratool "github.com/vtcode/vtcode/internal/infrastructure/tool"
	"github.com/vtcode/vtcode/internal/interfaces/cli"
)

// Options selects the session to run.
type Options struct {
	ResumeSessionID string
	InitPrompt      string
	Workspace       string
	Model           string
	PlanMode        bool
}

// App owns the assembled session.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Registry  *domaintool.Registry
	Loop      *service.RunLoop
	State     *service.SessionState
	Gate      service.LifecycleGate
	SessionID string
	Workspace string
	Model     string
	toolCount int
	db        *gorm.DB
	sessions  *persistence.GormSessionRepository
	watcher   *config.Watcher
}

// New assembles a session from configuration.
func New(opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	workspace := firstNonEmpty(opts.Workspace, cfg.Agent.Workspace)
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	workspace, err = filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	model := firstNonEmpty(opts.Model, cfg.Agent.DefaultModel)

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		// Persistence is best-effort: a broken database disables resume and
		// permanent approvals but not the session.
		log.Warn("Database unavailable; approvals will not persist", zap.Error(err))
		db = nil
	}

	sessionID := opts.ResumeSessionID
	var state *service.SessionState
	var sessions *persistence.GormSessionRepository
	if db != nil {
		sessions = persistence.NewGormSessionRepository(db)
	}

	if sessionID != "" && sessions == nil {
		return nil, fmt.Errorf("resume session %s: persistence unavailable", sessionID)
	}

	if sessionID != "" {
		record, err := sessions.Load(sessionID)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		if record == nil {
			return nil, fmt.Errorf("resume session %s: not found", sessionID)
		}
		state = service.NewSessionState(sessionID)
		state.ReplaceHistory(record.History)
		state.ExtendModifiedFiles(record.ModifiedFiles)
		if record.Model != "" && opts.Model == "" {
			model = record.Model
		}
		log.Info("Session resumed",
			zap.String("session", sessionID),
			zap.Int("messages", len(record.History)),
		)
	} else {
		sessionID = uuid.NewString()
		state = service.NewSessionState(sessionID)
	}

	sb, err := sandbox.NewProcessSandbox(&sandbox.Config{
		WorkDir:       workspace,
		Timeout:       cfg.Agent.ToolTimeout,
		EnableNetwork: true,
		TempDir:       filepath.Join(os.TempDir(), "vtcode-sandbox"),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init sandbox: %w", err)
	}

	registry := domaintool.NewRegistry()
	toolCount := infratool.RegisterAllTools(infratool.Deps{
		Registry:  registry,
		Sandbox:   sb,
		Logger:    log,
		Workspace: workspace,
		PlansDir:  filepath.Join(homeDir(), ".vtcode", "plans"),
		SessionID: sessionID,
	})
	if opts.PlanMode || cfg.Agent.PlanMode {
		registry.SetPlanMode(true)
	}

	var gate service.LifecycleGate
	if len(cfg.Hooks.Commands) > 0 {
		interp := hooks.NewInterpreter(cfg.Hooks.Commands, sessionID, workspace, log)
		gate = hooks.NewGate(interp)
	}

	var ledgerStore service.LedgerStore
	if db != nil {
		ledgerStore = persistence.NewGormLedgerStore(db, sessionID)
	}
	ledger := service.NewDecisionLedger(ledgerStore)

	spoolCfg := spool.DefaultConfig()
	spoolCfg.SessionID = sessionID
	if cfg.UI.ToolOutputSpoolBytes > 0 {
		spoolCfg.ThresholdBytes = cfg.UI.ToolOutputSpoolBytes
	}
	// Old session spool directories age out after a day.
	if cleaned, err := spool.CleanupOldSpoolDirs(spoolCfg.BaseDir, 24); err == nil && cleaned > 0 {
		log.Info("Cleaned old spool directories", zap.Int("removed", cleaned))
	}

	approver := cli.NewTerminalApprover(os.Stdin, os.Stdout, cfg.Security.HITLNotificationBell)

	pipeline := service.NewPipeline(
		infratool.NewPreflight(registry, workspace, log),
		registry,
		infratool.NewExecutor(registry, log),
		gate,
		approver,
		ledger,
		service.NewToolResultCache(30*time.Second, 100),
		spool.NewAdapter(spoolCfg),
		service.PipelineConfig{
			DefaultPolicy:    service.DefaultPolicy(cfg.Tools.DefaultPolicy),
			HumanInTheLoop:   cfg.Security.HumanInTheLoop,
			Autonomous:       cfg.Agent.Autonomous,
			FullAuto:         cfg.Agent.FullAuto,
			MaxToolRetries:   cfg.Agent.MaxToolRetries,
			RetryBaseWait:    cfg.Agent.RetryBaseWait,
			ToolTimeout:      cfg.Agent.ToolTimeout,
			MaxParallelTools: cfg.Agent.MaxParallel,
			ParallelToolUse:  cfg.Agent.ParallelTools,
			ContextTag:       workspace,
			MaxOutputChars:   32000,
		},
		log,
	)

	client, err := llm.CreateProvider(llm.ProviderConfig{
		Name:    firstNonEmpty(cfg.Agent.Provider, "openai"),
		BaseURL: os.Getenv("VTCODE_LLM_BASE_URL"),
		APIKey:  os.Getenv("VTCODE_LLM_API_KEY"),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}

	loop := service.NewRunLoop(client, registry, pipeline, gate, service.RunLoopConfig{
		Model:           model,
		Temperature:     cfg.Agent.Temperature,
		MaxToolLoops:    cfg.Agent.MaxToolLoops,
		ToolRepeatLimit: cfg.Agent.ToolRepeatLimit,
		MaxLLMRetries:   cfg.Agent.MaxRetries,
		RetryBaseWait:   cfg.Agent.RetryBaseWait,
	}, log)

	watcher, err := config.NewWatcher(cfg, log)
	if err != nil {
		log.Warn("Config watcher unavailable", zap.Error(err))
		watcher = nil
	}

	return &App{
		Config:    cfg,
		Logger:    log,
		Registry:  registry,
		Loop:      loop,
		State:     state,
		Gate:      gate,
		SessionID: sessionID,
		Workspace: workspace,
		Model:     model,
		toolCount: toolCount,
		db:        db,
		sessions:  sessions,
		watcher:   watcher,
	}, nil
}

// RunInteractive starts the REPL and returns the process exit code.
func (a *App) RunInteractive(ctx context.Context, opts Options) int {
	defer a.Close()

	var saver cli.SessionSaver
	if a.sessions != nil {
		saver = func(state *service.SessionState) error {
			return a.sessions.Save(persistence.SessionRecord{
				ID:            a.SessionID,
				Workspace:     a.Workspace,
				Model:         a.Model,
				History:       state.History(),
				ModifiedFiles: state.ModifiedFiles(),
			})
		}
	}

	app := cli.NewApp(
		a.Loop,
		a.State,
		a.Registry,
		a.Gate,
		cli.NoopMCPController{},
		saver,
		cli.AppConfig{
			Model:      a.Model,
			Workspace:  a.Workspace,
			SessionID:  a.SessionID,
			ToolCount:  a.toolCount,
			InitPrompt: opts.InitPrompt,
		},
		a.Logger,
	)
	return app.Run(ctx)
}

// Close releases session resources.
func (a *App) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	_ = a.Logger.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return loggerFromConfig(cfg.Log.Level, cfg.Log.Format)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
