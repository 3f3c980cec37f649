package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"gazette/internal/models"
	"gazette/internal/util"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

const documentColumns = `d.id::text, d.file_name, d.storage_key, d.file_url, d.file_size, d.mime_type,
       COALESCE(d.source_type,''), COALESCE(d.content_sha256,''), d.status, COALESCE(d.fail_reason,''),
       d.created_at, d.updated_at`

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// isDocumentID reports whether id can name a row at all. Anything else is a
// miss, not a query error.
func isDocumentID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	var status string
	err := row.Scan(&d.ID, &d.FileName, &d.StorageKey, &d.FileURL, &d.FileSize, &d.MIMEType,
		&d.SourceType, &d.ContentSHA256, &status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt)
	d.Status = models.DocumentStatus(status)
	return d, err
}

// CreatePending inserts a new document in the pending state. The id is
// generated by Postgres and read back from RETURNING.
func (r *DocumentRepo) CreatePending(ctx context.Context, in models.NewDocument) (models.Document, error) {
	row := r.db.Pool.QueryRow(ctx, `
INSERT INTO documents AS d (file_name, storage_key, file_url, file_size, mime_type, source_type, content_sha256, status)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), 'pending')
RETURNING `+documentColumns,
		in.FileName, in.StorageKey, in.FileURL, in.FileSize, in.MIMEType, in.SourceType, in.ContentSHA256)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, util.ErrInsertNotConfirmed
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

// UpdateStatus moves a document to status if its current status is an allowed
// predecessor. A non-nil text is stored as the document's extracted text in
// the same transaction. Returns util.ErrNotFound for unknown ids and
// util.ErrValidation for a disallowed transition.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string, text *string) error {
	if !isDocumentID(id) {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	from := models.AllowedPredecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: no transition into %q", util.ErrValidation, status)
	}
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx update status: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
UPDATE documents SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW()
WHERE id=$1::uuid AND status = ANY($4)`, id, string(status), failReason, allowed)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM documents WHERE id=$1::uuid`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read document status: %w", err)
		}
		return fmt.Errorf("%w: document %s cannot move from %s to %s", util.ErrValidation, id, current, status)
	}
	if text != nil {
		_, err := tx.Exec(ctx, `
INSERT INTO extracted_texts (document_id, content)
VALUES ($1::uuid, $2)
ON CONFLICT (document_id)
DO UPDATE SET content = EXCLUDED.content, extracted_at = NOW()`, id, *text)
		if err != nil {
			return fmt.Errorf("store extracted text: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the document does not exist.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*models.Document, error) {
	if !isDocumentID(id) {
		return nil, nil
	}
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id=$1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document by id: %w", err)
	}
	tags, err := r.ListTags(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Tags = tags
	return &d, nil
}

func (r *DocumentRepo) List(ctx context.Context, f models.DocumentFilter) ([]models.Document, error) {
	query, args := buildListQuery(f)
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// buildListQuery turns a filter into SQL. Tag and taxonomy node filters are
// EXISTS predicates so the database does the filtering.
func buildListQuery(f models.DocumentFilter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if s := strings.TrimSpace(f.SourceType); s != "" {
		where = append(where, "d.source_type = "+arg(s))
	}
	if f.Status != "" {
		where = append(where, "d.status = "+arg(string(f.Status)))
	}
	if tags := normalizeList(f.Tags, true); len(tags) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM document_tags t WHERE t.document_id = d.id AND t.tag = ANY("+arg(tags)+"))")
	}
	if nodes := normalizeList(f.NodeIDs, false); len(nodes) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM document_classifications c WHERE c.document_id = d.id AND c.node_id = ANY("+arg(nodes)+"))")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	b.WriteString("SELECT " + documentColumns + "\nFROM documents d")
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, "\n  AND "))
	}
	b.WriteString("\nORDER BY d.created_at DESC, d.id")
	b.WriteString("\nLIMIT " + arg(limit) + " OFFSET " + arg(offset))
	return b.String(), args
}

func normalizeList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Delete removes the document row; chunks, extracted text, tags and
// classifications go with it through ON DELETE CASCADE.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	if !isDocumentID(id) {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id=$1::uuid`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	return nil
}

// ExtractedText returns nil, nil when no text was stored for the document.
func (r *DocumentRepo) ExtractedText(ctx context.Context, id string) (*models.ExtractedText, error) {
	if !isDocumentID(id) {
		return nil, nil
	}
	var t models.ExtractedText
	err := r.db.Pool.QueryRow(ctx, `
SELECT document_id::text, content, COALESCE(summary,''), extracted_at
FROM extracted_texts WHERE document_id=$1::uuid`, id).Scan(&t.DocumentID, &t.Content, &t.Summary, &t.ExtractedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get extracted text: %w", err)
	}
	return &t, nil
}

func (r *DocumentRepo) ListTags(ctx context.Context, id string) ([]string, error) {
	if !isDocumentID(id) {
		return []string{}, nil
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT tag FROM document_tags WHERE document_id=$1::uuid ORDER BY tag`, id)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// ReplaceTags swaps the document's tag set in one transaction.
func (r *DocumentRepo) ReplaceTags(ctx context.Context, id string, tags []string) error {
	if !isDocumentID(id) {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace tags: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `DELETE FROM document_tags WHERE document_id=$1::uuid`, id); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.Exec(ctx, `
INSERT INTO document_tags (document_id, tag) VALUES ($1::uuid, $2)
ON CONFLICT DO NOTHING`, id, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tags tx: %w", err)
	}
	return nil
}

// UpsertClassifications records taxonomy node assignments for a document.
// Re-classifying the same node overwrites its confidence and source.
func (r *DocumentRepo) UpsertClassifications(ctx context.Context, id string, items []models.Classification) error {
	if !isDocumentID(id) {
		return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx classify: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, c := range items {
		_, err := tx.Exec(ctx, `
INSERT INTO document_classifications (document_id, node_id, confidence, source)
VALUES ($1::uuid, $2, $3, NULLIF($4,''))
ON CONFLICT (document_id, node_id)
DO UPDATE SET confidence = EXCLUDED.confidence, source = EXCLUDED.source, created_at = NOW()`,
			id, c.NodeID, c.Confidence, c.Source)
		if err != nil {
			return fmt.Errorf("insert classification %q: %w", c.NodeID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit classifications tx: %w", err)
	}
	return nil
}
