package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/observability"
	"gazette/internal/util"
)

const DefaultMaxUploadBytes int64 = 20 << 20

var pdfMagic = []byte("%PDF-")

type UploadInput struct {
	FileName   string
	MIMEType   string
	SourceType string
	Data       []byte
}

type UploadResult struct {
	DocumentID    string `json:"documentId"`
	FileName      string `json:"fileName"`
	FileURL       string `json:"fileUrl"`
	FileSize      int64  `json:"fileSize"`
	TextExtracted bool   `json:"textExtracted"`
	TextLength    int    `json:"textLength"`
	Status        string `json:"status"`
}

// Ingestor runs the write path for one upload: store the file, allocate the
// document, extract its text and hand it to indexing.
type Ingestor struct {
	store     *Store
	files     FileStore
	extractor TextExtractor
	dispatch  IndexDispatcher
	maxBytes  int64
	logger    *zap.Logger
}

func NewIngestor(store *Store, files FileStore, extractor TextExtractor, dispatch IndexDispatcher, maxBytes int64, logger *zap.Logger) *Ingestor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, files: files, extractor: extractor, dispatch: dispatch, maxBytes: maxBytes, logger: logger}
}

// ValidateUpload checks size and that the payload is a PDF by extension,
// declared MIME type and magic bytes.
func ValidateUpload(in UploadInput, maxBytes int64) error {
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: file is empty", util.ErrValidation)
	}
	if int64(len(in.Data)) > maxBytes {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", util.ErrValidation, len(in.Data), maxBytes)
	}
	if !strings.EqualFold(path.Ext(in.FileName), ".pdf") {
		return fmt.Errorf("%w: only .pdf files are accepted", util.ErrValidation)
	}
	if in.MIMEType != "" {
		mt, _, err := mime.ParseMediaType(in.MIMEType)
		if err != nil || (mt != "application/pdf" && mt != "application/octet-stream") {
			return fmt.Errorf("%w: content type %q is not application/pdf", util.ErrValidation, in.MIMEType)
		}
	}
	if !bytes.HasPrefix(bytes.TrimLeft(in.Data[:min(len(in.Data), 1024)], "\x00\t\r\n "), pdfMagic) {
		return fmt.Errorf("%w: file does not start with a PDF header", util.ErrValidation)
	}
	return nil
}

func (g *Ingestor) Upload(ctx context.Context, in UploadInput) (res UploadResult, err error) {
	ctx, span := observability.StartStageSpan(ctx, "upload", "")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if err := ValidateUpload(in, g.maxBytes); err != nil {
		return UploadResult{}, err
	}
	fileName := util.SafeFileName(in.FileName)
	key := uuid.NewString() + "/" + fileName
	url, size, err := g.files.Put(ctx, key, bytes.NewReader(in.Data))
	if err != nil {
		return UploadResult{}, fmt.Errorf("store upload: %w", err)
	}

	doc, err := g.store.CreatePending(ctx, models.NewDocument{
		FileName:      fileName,
		StorageKey:    key,
		FileURL:       url,
		FileSize:      size,
		MIMEType:      "application/pdf",
		SourceType:    strings.TrimSpace(in.SourceType),
		ContentSHA256: util.SHA256Hex(in.Data),
	})
	if err != nil {
		if derr := g.files.Delete(context.WithoutCancel(ctx), key); derr != nil {
			g.logger.Warn("remove orphaned upload", zap.String("storage_key", key), zap.Error(derr))
		}
		return UploadResult{}, fmt.Errorf("create document: %w", err)
	}
	span.SetAttributes(attribute.String("gazette.document_id", doc.ID))
	log := g.logger.With(zap.String("document_id", doc.ID), zap.String("file_name", fileName))

	res = UploadResult{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		FileURL:    doc.FileURL,
		FileSize:   doc.FileSize,
		Status:     string(models.StatusPending),
	}

	text, err := g.extract(ctx, doc.ID, in.Data)
	if err != nil {
		g.fail(ctx, log, doc.ID, err)
		return UploadResult{}, err
	}
	res.TextExtracted = true
	res.TextLength = len([]rune(text))

	if err := g.store.MarkStatus(ctx, doc.ID, models.StatusProcessing, &text); err != nil {
		g.fail(ctx, log, doc.ID, err)
		return UploadResult{}, err
	}
	res.Status = string(models.StatusProcessing)

	status, err := g.dispatch.Dispatch(ctx, doc.ID, text)
	if err != nil {
		return UploadResult{}, fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	res.Status = string(status)
	log.Info("upload processed", zap.Int("text_length", res.TextLength), zap.String("status", res.Status))
	return res, nil
}

func (g *Ingestor) extract(ctx context.Context, documentID string, data []byte) (string, error) {
	ctx, span := observability.StartStageSpan(ctx, "extract", documentID)
	defer span.End()
	text, err := g.extractor.Extract(ctx, data)
	if err != nil {
		observability.RecordError(span, err)
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		observability.RecordError(span, util.ErrNoExtractableText)
		return "", util.ErrNoExtractableText
	}
	return text, nil
}

func (g *Ingestor) fail(ctx context.Context, log *zap.Logger, documentID string, cause error) {
	reason := cause.Error()
	if errors.Is(cause, util.ErrNoExtractableText) {
		reason = "could not extract text"
	}
	if err := g.store.Fail(ctx, documentID, reason); err != nil {
		log.Error("mark document failed", zap.Error(err), zap.NamedError("cause", cause))
	}
}
