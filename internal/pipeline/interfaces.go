// Package pipeline holds the gazette services: document lifecycle, chunk
// indexing, retrieval-augmented answers, upload orchestration and tagging.
package pipeline

import (
	"context"
	"io"

	"gazette/internal/models"
	"gazette/internal/storage"
)

type DocumentRepository interface {
	CreatePending(ctx context.Context, in models.NewDocument) (models.Document, error)
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string, text *string) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, f models.DocumentFilter) ([]models.Document, error)
	Delete(ctx context.Context, id string) error
	ExtractedText(ctx context.Context, id string) (*models.ExtractedText, error)
	ReplaceTags(ctx context.Context, id string, tags []string) error
	UpsertClassifications(ctx context.Context, id string, items []models.Classification) error
}

type ChunkWriter interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
}

type ChunkSearcher interface {
	SearchChunks(ctx context.Context, queryVec []float32, topK int) ([]models.ChunkMatch, error)
}

type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader) (url string, size int64, err error)
	Delete(ctx context.Context, key string) error
}

type TextExtractor interface {
	Extract(ctx context.Context, content []byte) (string, error)
}

type CallRecorder interface {
	Insert(ctx context.Context, rec storage.LLMCallRecord) error
}

// IndexDispatcher hands a processing document with stored text to the
// indexing stage and reports the status the document ended in.
type IndexDispatcher interface {
	Dispatch(ctx context.Context, documentID, text string) (models.DocumentStatus, error)
}
