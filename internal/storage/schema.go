package storage

import (
	"context"
	"fmt"
)

// Migrate creates the schema if it does not exist. dim fixes the width of
// document_chunks.embedding; changing it later requires a re-index.
func Migrate(ctx context.Context, db *DB, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	for i, stmt := range schemaStatements(dim) {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

func schemaStatements(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS documents (
  id             uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  file_name      text NOT NULL,
  storage_key    text NOT NULL,
  file_url       text NOT NULL,
  file_size      bigint NOT NULL,
  mime_type      text NOT NULL,
  source_type    text,
  content_sha256 text,
  status         text NOT NULL DEFAULT 'pending'
                 CHECK (status IN ('pending','processing','completed','failed')),
  fail_reason    text,
  created_at     timestamptz NOT NULL DEFAULT NOW(),
  updated_at     timestamptz NOT NULL DEFAULT NOW()
)`,
		`CREATE INDEX IF NOT EXISTS documents_status_idx ON documents(status)`,
		`CREATE INDEX IF NOT EXISTS documents_source_type_idx ON documents(source_type)`,
		`CREATE TABLE IF NOT EXISTS extracted_texts (
  document_id  uuid PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
  content      text NOT NULL,
  summary      text,
  extracted_at timestamptz NOT NULL DEFAULT NOW()
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
  id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  document_id uuid NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  seq         integer NOT NULL CHECK (seq >= 0),
  content     text NOT NULL CHECK (content <> ''),
  embedding   vector(%d),
  created_at  timestamptz NOT NULL DEFAULT NOW(),
  UNIQUE (document_id, seq)
)`, dim),
		`CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx
  ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS document_classifications (
  document_id uuid NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  node_id     text NOT NULL,
  confidence  double precision,
  source      text,
  created_at  timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (document_id, node_id)
)`,
		`CREATE TABLE IF NOT EXISTS document_tags (
  document_id uuid NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  tag         text NOT NULL,
  created_at  timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (document_id, tag)
)`,
		`CREATE INDEX IF NOT EXISTS document_tags_tag_idx ON document_tags(tag)`,
		`CREATE TABLE IF NOT EXISTS llm_calls (
  call_id       uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  operation     text NOT NULL,
  document_id   uuid,
  provider_name text,
  model         text,
  status        text NOT NULL,
  error_type    text,
  created_at    timestamptz NOT NULL DEFAULT NOW()
)`,
	}
}
