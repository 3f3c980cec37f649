package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/util"
)

// Store is the document lifecycle service. It is the only place document ids
// are allocated and the only writer of document status.
type Store struct {
	repo   DocumentRepository
	files  FileStore
	logger *zap.Logger
}

func NewStore(repo DocumentRepository, files FileStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, files: files, logger: logger}
}

func (s *Store) CreatePending(ctx context.Context, in models.NewDocument) (models.Document, error) {
	if strings.TrimSpace(in.FileName) == "" || in.StorageKey == "" {
		return models.Document{}, fmt.Errorf("%w: file name and storage key are required", util.ErrValidation)
	}
	d, err := s.repo.CreatePending(ctx, in)
	if err != nil {
		return models.Document{}, err
	}
	if d.ID == "" {
		return models.Document{}, util.ErrInsertNotConfirmed
	}
	return d, nil
}

// MarkStatus advances the document's status. When text is non-nil it is
// stored as the document's extracted text atomically with the status change.
func (s *Store) MarkStatus(ctx context.Context, id string, status models.DocumentStatus, text *string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", util.ErrValidation, status)
	}
	if err := s.repo.UpdateStatus(ctx, id, status, "", text); err != nil {
		return fmt.Errorf("mark %s %s: %w", id, status, err)
	}
	return nil
}

// Fail marks the document failed and removes its stored file. File removal
// errors are logged only.
func (s *Store) Fail(ctx context.Context, id, reason string) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.UpdateStatus(ctx, id, models.StatusFailed, reason, nil); err != nil {
		return fmt.Errorf("mark %s failed: %w", id, err)
	}
	s.logger.Warn("document failed", zap.String("document_id", id), zap.String("reason", reason))
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil || doc == nil {
		return nil
	}
	s.removeFile(ctx, doc)
	return nil
}

// GetByID returns nil, nil for unknown ids.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Document, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Store) List(ctx context.Context, f models.DocumentFilter) ([]models.Document, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", util.ErrValidation, f.Status)
	}
	return s.repo.List(ctx, f)
}

// Delete removes the stored file, then the document row and everything
// hanging off it.
func (s *Store) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	s.removeFile(ctx, doc)
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", zap.String("document_id", id))
	return nil
}

func (s *Store) removeFile(ctx context.Context, doc *models.Document) {
	if s.files == nil || doc.StorageKey == "" {
		return
	}
	if err := s.files.Delete(ctx, doc.StorageKey); err != nil {
		s.logger.Warn("remove stored file",
			zap.String("document_id", doc.ID),
			zap.String("storage_key", doc.StorageKey),
			zap.Error(err))
	}
}

// ExtractedText returns nil, nil when the document has no stored text.
func (s *Store) ExtractedText(ctx context.Context, id string) (*models.ExtractedText, error) {
	return s.repo.ExtractedText(ctx, id)
}

func (s *Store) Classify(ctx context.Context, id string, items []models.Classification) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one classification is required", util.ErrValidation)
	}
	clean := make([]models.Classification, 0, len(items))
	for i, c := range items {
		c.NodeID = strings.TrimSpace(c.NodeID)
		if c.NodeID == "" {
			return fmt.Errorf("%w: classification %d is missing nodeId", util.ErrValidation, i)
		}
		if c.Confidence != nil && (*c.Confidence < 0 || *c.Confidence > 1) {
			return fmt.Errorf("%w: confidence for %s must be within [0,1]", util.ErrValidation, c.NodeID)
		}
		clean = append(clean, c)
	}
	if err := s.requireDocument(ctx, id); err != nil {
		return err
	}
	return s.repo.UpsertClassifications(ctx, id, clean)
}

// SetTags replaces the document's tags.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	if err := s.requireDocument(ctx, id); err != nil {
		return err
	}
	return s.repo.ReplaceTags(ctx, id, tags)
}

func (s *Store) requireDocument(ctx context.Context, id string) error {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	return nil
}
