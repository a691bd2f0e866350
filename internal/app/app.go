package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/artifacts"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/handlers"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/pipeline"
	"github.com/ternarybob/perquire/internal/queue"
	"github.com/ternarybob/perquire/internal/services/archive"
	"github.com/ternarybob/perquire/internal/services/embeddings"
	"github.com/ternarybob/perquire/internal/services/fetch"
	"github.com/ternarybob/perquire/internal/services/llm"
	"github.com/ternarybob/perquire/internal/services/render"
	"github.com/ternarybob/perquire/internal/services/search"
	"github.com/ternarybob/perquire/internal/services/vector"
	badgerstore "github.com/ternarybob/perquire/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Tool gateway
	LLMService    interfaces.LLMService
	SearchService interfaces.SearchService
	FetchService  interfaces.FetchService
	Embeddings    *embeddings.Service
	VectorService interfaces.VectorService
	Archive       *archive.Service

	// Publication
	RenderService *render.Service
	ArtifactStore *artifacts.Store

	// Engine
	Executor *pipeline.Executor
	Sweeper  *queue.Sweeper
	Runner   *queue.Runner

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	ReportHandler   *handlers.ReportHandler
	ArtifactHandler *handlers.ArtifactHandler
}

func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storage, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storage

	if err := app.initServices(); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initEngine()
	app.initHandlers()

	return app, nil
}

func (a *App) initServices() error {
	llmService, err := llm.NewLLMService(a.Config, a.Logger)
	if err != nil {
		return err
	}
	a.LLMService = llmService

	a.SearchService = search.NewService(a.Config, a.Logger)
	a.FetchService = fetch.NewService(a.Config, a.Logger)
	a.Embeddings = embeddings.NewService(a.LLMService, a.Logger)
	a.VectorService = vector.NewService(a.Config, a.Logger)

	// The cross-job archive is optional; without a vector store it stays
	// disabled and the engine runs without warm-start context.
	a.Archive = archive.NewService(a.Config, a.VectorService, a.Embeddings, a.Logger)
	if a.Archive.Enabled() {
		if err := a.Archive.Init(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Archive initialization failed, continuing without it")
		}
	}

	a.RenderService = render.NewService(a.Logger)

	store, err := artifacts.NewStore(a.Config, a.Logger)
	if err != nil {
		return err
	}
	a.ArtifactStore = store
	return nil
}

func (a *App) initEngine() {
	a.Executor = pipeline.NewExecutor(
		a.Config,
		a.StorageManager,
		a.LLMService,
		a.SearchService,
		a.FetchService,
		a.ArtifactStore,
		a.Archive,
		a.RenderService,
		a.Logger,
	)
	a.Sweeper = queue.NewSweeper(a.Config, a.StorageManager, a.Logger)
	a.Runner = queue.NewRunner(a.Config, a.StorageManager, a.Sweeper, a.Executor, a.Logger)
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.LLMService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.StorageManager, a.Logger)
	a.ReportHandler = handlers.NewReportHandler(a.StorageManager, a.ArtifactStore, a.Logger)
	a.ArtifactHandler = handlers.NewArtifactHandler(a.ArtifactStore, a.Logger)
}

// StartEngine begins the sweep-and-claim tick. Call after the HTTP server
// is wired so control endpoints are live before jobs start executing.
func (a *App) StartEngine() error {
	return a.Runner.Start()
}

// Close shuts down the engine before the storage it writes to.
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Stop()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}
	a.Logger.Info().Msg("Application closed")
	return nil
}
