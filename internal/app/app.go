// Package app assembles the gazette services from configuration. The API
// server, the Temporal worker and gazettectl share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gazette/internal/config"
	"gazette/internal/extract"
	"gazette/internal/pipeline"
	"gazette/internal/providers"
	"gazette/internal/storage"
	"gazette/internal/util"
	"gazette/internal/vector"
)

type App struct {
	Config  config.Config
	Logger  *zap.Logger
	DB      *storage.DB
	Files   *storage.LocalFileStore
	Store   *pipeline.Store
	Indexer *pipeline.Indexer
	Query   *pipeline.QueryService
	Tags    *pipeline.TagGenerator

	extractor *extract.Extractor
}

// New connects to Postgres and builds every service. Callers own Close.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	chunker, err := util.NewChunker(cfg.ChunkTargetWords, cfg.ChunkOverlapWords)
	if err != nil {
		return nil, err
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	files, err := storage.NewLocalFileStore(cfg.StorageRoot, cfg.FileURLBase)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}

	audit := storage.NewLLMAuditRepo(db)
	store := pipeline.NewStore(storage.NewDocumentRepo(db), files, logger.Named("store"))
	embedder := pm.Embedder()
	llm := pm.LLM()

	return &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Files:  files,
		Store:  store,
		Indexer: pipeline.NewIndexer(chunker, embedder, storage.NewChunkRepo(db), audit, pipeline.IndexerConfig{
			BatchSize: cfg.EmbedBatchSize,
			Dimension: cfg.EmbedDim,
		}, logger.Named("indexer")),
		Query: pipeline.NewQueryService(embedder, llm, vector.NewSearcher(db.Pool), audit, pipeline.QueryConfig{
			Dimension:        cfg.EmbedDim,
			DefaultTopK:      cfg.DefaultTopK,
			ExcerptChars:     cfg.ExcerptChars,
			SummarySentences: cfg.SummarySentences,
		}, logger.Named("query")),
		Tags:      pipeline.NewTagGenerator(store, llm, audit, logger.Named("tags")),
		extractor: extract.NewExtractor(),
	}, nil
}

func (a *App) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, a.DB, a.Config.EmbedDim)
}

// Ingestor builds the upload path around dispatch. A nil dispatch indexes
// inline, in the request.
func (a *App) Ingestor(dispatch pipeline.IndexDispatcher) *pipeline.Ingestor {
	if dispatch == nil {
		dispatch = pipeline.NewInlineDispatcher(a.Indexer, a.Store)
	}
	return pipeline.NewIngestor(a.Store, a.Files, a.extractor, dispatch, a.Config.MaxUploadBytes, a.Logger.Named("ingest"))
}

func (a *App) Close() {
	a.DB.Close()
	_ = a.Logger.Sync()
}
