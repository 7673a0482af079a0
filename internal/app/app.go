// Package app assembles the engine from configuration: storage, catalog,
// skills, workflow engine, provider chain and the conversation hub.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"skillbot/internal/agent"
	"skillbot/internal/bus"
	"skillbot/internal/config"
	"skillbot/internal/domain"
	"skillbot/internal/entity"
	"skillbot/internal/memory"
	"skillbot/internal/metrics"
	"skillbot/internal/provider"
	"skillbot/internal/schema"
	"skillbot/internal/skill"
	"skillbot/internal/skills/sales"
	"skillbot/internal/skills/shared"
	"skillbot/internal/workflow"
)

const (
	turnBusSize = 100
	// defaultDrainTimeout bounds how long Close waits for submissions when
	// no submit timeout is configured.
	defaultDrainTimeout = 30 * time.Second
)

// Options replace parts of the default wiring. Zero fields use the
// configured implementation.
type Options struct {
	Storage  domain.StorageAdapter
	Entities domain.EntityRepository
	Provider domain.Provider
	Catalog  *schema.Catalog
}

// App is the running engine shared by every transport.
type App struct {
	Config    *config.Config
	Catalog   *schema.Catalog
	Events    *bus.EventBus
	Turns     *bus.TurnBus
	Manager   *skill.Manager
	Store     *agent.ConversationStore
	Hub       *agent.Hub
	Sweeper   *workflow.Sweeper
	Submitter *workflow.Submitter
	Provider  domain.Provider
	Storage   domain.StorageAdapter

	db     *sql.DB
	logger *slog.Logger
}

// New wires the engine. Close releases what New opened.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	catalog := opts.Catalog
	if catalog == nil {
		var err error
		if catalog, err = schema.Load(cfg.Catalog.Dir, logger); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	a.Catalog = catalog

	a.Storage = opts.Storage
	entities := opts.Entities
	if a.Storage == nil || entities == nil {
		db, err := memory.Open(cfg.Storage.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.db = db
		if a.Storage == nil {
			a.Storage = memory.NewSQLiteStore(db, logger)
		}
		if entities == nil {
			entities = entity.NewSQLRepository(db, logger)
		}
	}

	a.Provider = opts.Provider
	if a.Provider == nil {
		p, err := provider.NewFactory(logger).Build(cfg.LLM)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build provider: %w", err)
		}
		a.Provider = p
	}

	a.Events = bus.NewEventBus(logger)
	metrics.Subscribe(a.Events)
	a.Turns = bus.NewTurnBus(turnBusSize, logger)

	submitter := workflow.NewSubmitter(cfg.Workflow.SubmitTimeout, a.Events, logger)
	a.Submitter = submitter
	forms := workflow.NewStore(a.Storage)
	engine := workflow.NewEngine(forms, submitter, workflow.Options{
		Mode:        workflow.SubmitMode(cfg.Workflow.SubmitMode),
		CancelWords: cfg.Workflow.CancelWords,
	}, a.Events, logger)
	a.Sweeper = workflow.NewSweeper(forms, submitter, cfg.Workflow.SessionTTL, a.Events, logger)

	registry := skill.NewRegistry(logger)
	a.Manager = skill.NewManager(registry, a.Storage, a.Events, logger)
	classifier := shared.NewClassifier(cfg.Router.Strategy, catalog, cfg.LLM.Model, logger)
	registry.Register(shared.NewIntentDetector(classifier, logger))
	registry.Register(shared.NewConversation(
		catalog,
		shared.NewPromptBuilder(catalog, cfg.LLM.Style, cfg.LLM.SystemPromptExtra),
		shared.NewCompactor(cfg.LLM.MaxContextTokens, logger),
		shared.ConversationOptions{Model: cfg.LLM.Model, MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature},
		logger,
	))
	registry.Register(shared.NewHelp(catalog, a.Manager))
	registry.Register(workflow.NewCoordinator(engine, logger))

	for _, d := range catalog.Domains() {
		a.Manager.AddGroup(sales.NewGroup(d, engine, logger))
	}

	a.Store = agent.NewConversationStore(a.Storage, logger)
	a.Hub = agent.NewHub(agent.Deps{
		Manager: a.Manager,
		Router:  agent.NewIntentRouter(a.Manager, agent.RouterOptions{MinConfidence: cfg.Router.MinConfidence}, a.Events, logger),
		Store:   a.Store,
		Env:     &domain.Environment{Storage: a.Storage, Entities: entities, Provider: a.Provider},
		Events:  a.Events,
		Logger:  logger,
	}, agent.Options{
		TurnTimeout:  cfg.Agent.TurnTimeout,
		MaxChain:     cfg.Agent.MaxChain,
		HistoryLimit: cfg.Agent.HistoryLimit,
	})

	logger.Info("engine ready",
		"domains", len(catalog.Domains()),
		"skills", len(a.Manager.Skills()),
		"llm", a.Provider != nil,
		"router", cfg.Router.Strategy,
	)
	return a, nil
}

// Ready reports whether the storage backend answers.
func (a *App) Ready(ctx context.Context) error {
	type pinger interface{ Ping(context.Context) error }
	if p, ok := a.Storage.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops the hub, waits for in-flight submissions up to the submit
// timeout and releases the database.
func (a *App) Close() error {
	var result *multierror.Error
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Turns != nil {
		a.Turns.Close()
	}
	if a.Submitter != nil {
		timeout := a.Config.Workflow.SubmitTimeout
		if timeout <= 0 {
			timeout = defaultDrainTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := a.Submitter.Drain(ctx)
		cancel()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("drain submissions: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
	}
	return result.ErrorOrNil()
}
