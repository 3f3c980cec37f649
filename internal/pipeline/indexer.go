package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/observability"
	"gazette/internal/providers"
	"gazette/internal/util"
)

const DefaultEmbedBatchSize = 16

// Indexer chunks a document's text, embeds the chunks in fixed-size batches
// and stores one row per chunk.
type Indexer struct {
	chunker   *util.Chunker
	embedder  providers.EmbeddingProvider
	chunks    ChunkWriter
	audit     CallRecorder
	batchSize int
	dim       int
	logger    *zap.Logger
}

type IndexerConfig struct {
	BatchSize int
	Dimension int
}

func NewIndexer(chunker *util.Chunker, embedder providers.EmbeddingProvider, chunks ChunkWriter, audit CallRecorder, cfg IndexerConfig, logger *zap.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		chunker:   chunker,
		embedder:  embedder,
		chunks:    chunks,
		audit:     audit,
		batchSize: cfg.BatchSize,
		dim:       cfg.Dimension,
		logger:    logger,
	}
}

// Progress is told after each stored batch how many chunks of total are stored.
type Progress func(stored, total int)

// Index returns the number of chunks stored. Chunk seq values are fixed
// before any embedding call, so each chunk's seq is its position in the
// document regardless of batching. A failed batch stops indexing; batches
// already stored are kept.
func (ix *Indexer) Index(ctx context.Context, documentID, text string) (int, error) {
	return ix.IndexWithProgress(ctx, documentID, text, nil)
}

// IndexWithProgress is Index with a callback after every stored batch.
func (ix *Indexer) IndexWithProgress(ctx context.Context, documentID, text string, progress Progress) (n int, err error) {
	ctx, span := observability.StartStageSpan(ctx, "index", documentID)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	parts := ix.chunker.Split(text)
	span.SetAttributes(attribute.Int("gazette.chunks", len(parts)))
	if len(parts) == 0 {
		ix.logger.Info("no chunks to index", zap.String("document_id", documentID))
		return 0, nil
	}

	for start := 0; start < len(parts); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(parts) {
			end = len(parts)
		}
		if err := ix.indexBatch(ctx, documentID, start, parts[start:end]); err != nil {
			return start, err
		}
		if progress != nil {
			progress(end, len(parts))
		}
	}
	ix.logger.Info("document indexed",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(parts)))
	return len(parts), nil
}

func (ix *Indexer) indexBatch(ctx context.Context, documentID string, offset int, batch []string) error {
	ctx, span := observability.StartProviderSpan(ctx, providers.OpEmbedChunks, len(batch))
	defer span.End()

	vecs, info, err := ix.embedder.Embed(ctx, providers.EmbedRequest{
		Operation: providers.OpEmbedChunks,
		Inputs:    batch,
		Dimension: ix.dim,
	})
	recordCall(ctx, ix.audit, ix.logger, providers.OpEmbedChunks, documentID, info, err)
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("%w: embed chunks %d-%d: %w", util.ErrExternalService, offset, offset+len(batch)-1, err)
	}
	if len(vecs) != len(batch) {
		err := fmt.Errorf("%w: embedding provider returned %d vectors for %d chunks", util.ErrExternalService, len(vecs), len(batch))
		observability.RecordError(span, err)
		return err
	}

	rows := make([]models.Chunk, 0, len(batch))
	for i, content := range batch {
		if ix.dim > 0 && len(vecs[i]) != ix.dim {
			return fmt.Errorf("%w: embedding has dimension %d, want %d", util.ErrExternalService, len(vecs[i]), ix.dim)
		}
		rows = append(rows, models.Chunk{
			DocumentID: documentID,
			Seq:        offset + i,
			Content:    content,
			Embedding:  vecs[i],
		})
	}
	if err := ix.chunks.InsertChunks(ctx, rows); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("store chunks %d-%d: %w", offset, offset+len(batch)-1, err)
	}
	return nil
}
