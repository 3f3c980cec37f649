package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"gazette/internal/models"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// InsertChunks writes one embedding batch atomically. Chunks are insert-only;
// a repeated (document_id, seq) fails on the unique constraint.
func (r *ChunkRepo) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx insert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range chunks {
		var embedding *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			embedding = &v
		}
		_, err := tx.Exec(ctx, `
INSERT INTO document_chunks (document_id, seq, content, embedding)
VALUES ($1::uuid, $2, $3, $4::vector)`,
			c.DocumentID, c.Seq, c.Content, embedding,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s#%d: %w", c.DocumentID, c.Seq, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}
