// Package app assembles the finance advisor from configuration. Commands
// build one App and use the pieces they need.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-advisor/internal/agent"
	"github.com/dvloznov/finance-advisor/internal/api"
	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/config"
	"github.com/dvloznov/finance-advisor/internal/dashboard"
	"github.com/dvloznov/finance-advisor/internal/embedding"
	"github.com/dvloznov/finance-advisor/internal/gcsuploader"
	"github.com/dvloznov/finance-advisor/internal/gemini"
	"github.com/dvloznov/finance-advisor/internal/indexer"
	infraBQ "github.com/dvloznov/finance-advisor/internal/infra/bigquery"
	"github.com/dvloznov/finance-advisor/internal/infra/sqlite"
	"github.com/dvloznov/finance-advisor/internal/ingest"
	"github.com/dvloznov/finance-advisor/internal/jobs/inmemory"
	"github.com/dvloznov/finance-advisor/internal/pipeline"
	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/tools"
	"github.com/dvloznov/finance-advisor/internal/vectorstore"
)

// App holds every long-lived component. Close releases them in reverse order
// of construction.
type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	Store      store.Store
	Vectors    vectorstore.Store
	Archive    gcsuploader.Archiver
	Jobs       *inmemory.Store
	Queue      *inmemory.Queue
	Ingest     *ingest.Service
	Pipeline   *pipeline.Pipeline
	Tools      *tools.Registry
	Agent      *agent.Agent
	Dashboard  *dashboard.Service
	Reconciler *indexer.Reconciler

	closers []func() error
}

// New wires the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) (err error) {
	cfg, log := a.Config, a.Log

	if a.Store, err = OpenStore(ctx, cfg.Storage); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.Models.APIKey,
		RequestsPerSecond: cfg.Models.RequestsPerSecond,
		Timeout:           cfg.Models.RequestTimeout,
	})
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(cfg, client)
	if err != nil {
		return err
	}

	if a.Vectors, err = openVectors(ctx, cfg.Vector, embedder); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Vectors.Close)

	if cfg.GCS.Bucket != "" {
		archive, err := gcsuploader.New(ctx, cfg.GCS.Bucket, cfg.GCS.Prefix)
		if err != nil {
			return err
		}
		a.Archive = archive
		a.closers = append(a.closers, archive.Close)
	} else {
		log.Warn().Msg("No GCS bucket configured - raw uploads will not be archived")
	}

	a.Jobs = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.Ingestion.QueueSize, a.Jobs,
		inmemory.WithWorkers(cfg.Ingestion.Workers),
		inmemory.WithLogger(log),
	)
	a.closers = append(a.closers, a.Queue.Close)

	a.Pipeline = pipeline.NewIngestionPipeline(pipeline.Deps{
		Documents:   a.Store,
		Extractor:   gemini.NewTextExtractor(client, cfg.Models.StructuringModel),
		Structurer:  gemini.NewStructurer(client, cfg.Models.StructuringModel, int(cfg.Models.ExtractionMaxBytes)),
		Indexer:     indexer.New(a.Store, a.Vectors),
		StepTimeout: cfg.Ingestion.StepTimeout,
	})

	a.Ingest = ingest.NewService(a.Store, a.Queue, a.Archive, ingest.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		JobTimeout:     cfg.Ingestion.JobTimeout,
	})

	dialect := tools.DialectSQLite
	if cfg.Storage.Backend == config.StorageBigQuery {
		dialect = tools.DialectBigQuery
	}

	a.Tools, err = tools.NewRegistry(cfg.Agent.ToolTimeout,
		tools.NewQueryTool(a.Store, dialect, cfg.Tools.MaxRows),
		tools.NewSemanticSearchTool(a.Vectors, cfg.Tools.SearchK),
		tools.NewBudgetStatusTool(a.Store),
		tools.NewDiagnosticsTool(a.Store, cfg.Tools.RecurringMinAmount),
	)
	if err != nil {
		return err
	}

	a.Agent = agent.New(gemini.NewDecider(client, cfg.Models.ChatModel), a.Tools, agent.Config{
		MaxRounds:     cfg.Agent.MaxRounds,
		DecideTimeout: cfg.Agent.DecideTimeout,
		ParallelTools: cfg.Agent.ParallelTools,
		Dialect:       dialect,
	})

	a.Dashboard = dashboard.NewService(a.Store)
	a.Reconciler = indexer.NewReconciler(a.Store, a.Store, a.Vectors, cfg.Reconcile.Repair)

	log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("vector", cfg.Vector.Backend).
		Str("embedding", cfg.Models.EmbeddingProvider).
		Bool("archive", a.Archive != nil).
		Msg("Application wired")

	return nil
}

// StartWorkers begins consuming the ingestion queue with the pipeline.
func (a *App) StartWorkers(ctx context.Context) error {
	return a.Queue.Start(ctx, a.Ingest.Handler(a.Pipeline))
}

// Router returns the HTTP handler for the API.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Deps{
		Ingest:    a.Ingest,
		Documents: a.Store,
		Agent:     a.Agent,
		Budgets:   a.Store,
		Dashboard: a.Dashboard,
		Jobs:      a.Jobs,
		Auth: middleware.AuthConfig{
			Secret:            []byte(a.Config.Auth.JWTSecret),
			AllowHeaderTenant: a.Config.Auth.AllowHeaderTenant,
		},
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
		Log:            a.Log,
	})
}

// Close releases every component. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured relational backend on its own, for commands
// that need no models.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorageBigQuery:
		return infraBQ.New(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
	case config.StorageSQLite:
		return sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("openStore: unknown storage backend %q", cfg.Backend)
	}
}

func newEmbedder(cfg *config.Config, client *gemini.Client) (embedding.Embedder, error) {
	var (
		base embedding.Embedder
		err  error
	)
	switch cfg.Models.EmbeddingProvider {
	case config.EmbeddingOllama:
		base, err = embedding.NewOllama(embedding.OllamaConfig{
			Model:   cfg.Models.EmbeddingModel,
			BaseURL: cfg.Models.OllamaURL,
		})
		if err != nil {
			return nil, err
		}
	default:
		dimensions := 0
		if cfg.Vector.Backend == config.VectorPgvector {
			dimensions = cfg.Vector.Pgvector.Dimensions
		}
		base = embedding.NewGemini(client, cfg.Models.EmbeddingModel, dimensions)
	}
	return embedding.WithTimeout(base, cfg.Models.EmbeddingTimeout), nil
}

func openVectors(ctx context.Context, cfg config.VectorConfig, embedder embedding.Embedder) (vectorstore.Store, error) {
	switch cfg.Backend {
	case config.VectorPgvector:
		return vectorstore.NewPgvector(ctx, vectorstore.PgvectorConfig{
			ConnString: cfg.Pgvector.DSN,
			TableName:  cfg.Pgvector.Table,
			VectorDim:  cfg.Pgvector.Dimensions,
		}, embedder)
	case config.VectorChromem:
		return vectorstore.NewChromem(cfg.Chromem.Path, cfg.Chromem.Collection, embedder)
	default:
		return nil, fmt.Errorf("openVectors: unknown vector backend %q", cfg.Backend)
	}
}
