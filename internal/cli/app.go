package cli

import (
	"fmt"
	"log/slog"

	"github.com/jeevesbot/jeeves/internal/config"
	"github.com/jeevesbot/jeeves/internal/events"
	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/metrics"
	"github.com/jeevesbot/jeeves/internal/orchestrator"
	"github.com/jeevesbot/jeeves/internal/script"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// app bundles the wired collaborators most commands need.
type app struct {
	cfg       *config.Config
	store     *issue.Store
	catalog   *workflow.Catalog
	publisher *events.MemoryPublisher
	metrics   *metrics.Metrics
	orch      *orchestrator.Orchestrator
	logger    *slog.Logger
}

// newApp loads configuration and constructs the orchestration stack.
func newApp() (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	store := issue.NewStore(cfg.DataDir)
	catalog, err := workflow.NewCatalog(cfg.WorkflowsDir())
	if err != nil {
		return nil, fmt.Errorf("open workflow catalog: %w", err)
	}

	publisher := events.NewMemoryPublisher()
	m := metrics.New()
	scripts := script.NewRunner(logger, script.WithTimeout(cfg.ScriptTimeout()))

	orch, err := orchestrator.New(orchestrator.Config{
		Store:        store,
		Catalog:      catalog,
		Scripts:      scripts,
		Publisher:    publisher,
		Metrics:      m,
		Logger:       logger,
		AgentBin:     cfg.AgentBin,
		PromptsDir:   cfg.EffectivePromptsDir(),
		WorktreesDir: cfg.WorktreesDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &app{
		cfg:       cfg,
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		metrics:   m,
		orch:      orch,
		logger:    logger,
	}, nil
}
