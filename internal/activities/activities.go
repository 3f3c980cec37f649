package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/pipeline"
	"gazette/internal/util"
)

// DocumentLifecycle is the slice of the document store the indexing
// activities need.
type DocumentLifecycle interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ExtractedText(ctx context.Context, id string) (*models.ExtractedText, error)
	MarkStatus(ctx context.Context, id string, status models.DocumentStatus, text *string) error
	Fail(ctx context.Context, id, reason string) error
}

type Indexer interface {
	IndexWithProgress(ctx context.Context, documentID, text string, progress pipeline.Progress) (int, error)
}

type Activities struct {
	docs      DocumentLifecycle
	indexer   Indexer
	logger    *zap.Logger
	heartbeat func(ctx context.Context, details ...interface{})
}

func New(docs DocumentLifecycle, indexer Indexer, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{docs: docs, indexer: indexer, logger: logger, heartbeat: activity.RecordHeartbeat}
}

// IndexDocumentActivity chunks and embeds the stored text of a processing
// document. Errors that a retry cannot fix are returned as non-retryable.
func (a *Activities) IndexDocumentActivity(ctx context.Context, in IndexDocumentInput) (IndexDocumentOutput, error) {
	doc, err := a.docs.GetByID(ctx, in.DocumentID)
	if err != nil {
		return IndexDocumentOutput{}, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return IndexDocumentOutput{}, temporal.NewNonRetryableApplicationError("document not found", "NotFound", util.ErrNotFound)
	}
	if doc.Status != models.StatusProcessing {
		msg := fmt.Sprintf("document %s is %s, not processing", doc.ID, doc.Status)
		return IndexDocumentOutput{}, temporal.NewNonRetryableApplicationError(msg, "InvalidStatus", nil)
	}
	text, err := a.docs.ExtractedText(ctx, in.DocumentID)
	if err != nil {
		return IndexDocumentOutput{}, fmt.Errorf("load extracted text: %w", err)
	}
	if text == nil {
		return IndexDocumentOutput{}, temporal.NewNonRetryableApplicationError("document has no extracted text", "NoText", util.ErrNoExtractableText)
	}

	// heartbeat after every stored batch
	a.heartbeat(ctx, 0)
	n, err := a.indexer.IndexWithProgress(ctx, in.DocumentID, text.Content, func(stored, _ int) {
		a.heartbeat(ctx, stored)
	})
	if err != nil {
		return IndexDocumentOutput{}, fmt.Errorf("index document: %w", err)
	}
	a.logger.Info("index activity done", zap.String("document_id", in.DocumentID), zap.Int("chunks", n))
	return IndexDocumentOutput{Chunks: n}, nil
}

func (a *Activities) MarkDocumentStatusActivity(ctx context.Context, in UpdateDocumentStatusInput) error {
	status := models.DocumentStatus(in.Status)
	if !status.Valid() {
		return temporal.NewNonRetryableApplicationError("unknown status "+in.Status, "InvalidStatus", util.ErrValidation)
	}
	if err := a.docs.MarkStatus(ctx, in.DocumentID, status, nil); err != nil {
		if errors.Is(err, util.ErrValidation) || errors.Is(err, util.ErrNotFound) {
			return temporal.NewNonRetryableApplicationError(err.Error(), "InvalidTransition", err)
		}
		return err
	}
	return nil
}

func (a *Activities) FailDocumentActivity(ctx context.Context, in FailDocumentInput) error {
	if err := a.docs.Fail(ctx, in.DocumentID, in.Reason); err != nil {
		if errors.Is(err, util.ErrValidation) || errors.Is(err, util.ErrNotFound) {
			return temporal.NewNonRetryableApplicationError(err.Error(), "InvalidTransition", err)
		}
		return err
	}
	return nil
}
