package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gazette/internal/models"
)

type DocumentIndexer interface {
	Index(ctx context.Context, documentID, text string) (int, error)
}

// InlineDispatcher indexes within the caller's request and finishes the
// document's lifecycle before returning.
type InlineDispatcher struct {
	indexer DocumentIndexer
	store   *Store
}

func NewInlineDispatcher(indexer DocumentIndexer, store *Store) *InlineDispatcher {
	return &InlineDispatcher{indexer: indexer, store: store}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, documentID, text string) (models.DocumentStatus, error) {
	return IndexAndFinish(ctx, d.indexer, d.store, documentID, text)
}

// IndexAndFinish indexes the document and moves it to completed, or to failed
// when indexing or the completion update errors.
func IndexAndFinish(ctx context.Context, indexer DocumentIndexer, store *Store, documentID, text string) (models.DocumentStatus, error) {
	if _, err := indexer.Index(ctx, documentID, text); err != nil {
		failDocument(ctx, store, documentID, err)
		return models.StatusFailed, err
	}
	if err := store.MarkStatus(ctx, documentID, models.StatusCompleted, nil); err != nil {
		err = fmt.Errorf("mark document completed: %w", err)
		failDocument(ctx, store, documentID, err)
		return models.StatusFailed, err
	}
	return models.StatusCompleted, nil
}

func failDocument(ctx context.Context, store *Store, documentID string, cause error) {
	if err := store.Fail(ctx, documentID, cause.Error()); err != nil {
		store.logger.Error("mark document failed", zap.String("document_id", documentID), zap.Error(err))
	}
}
