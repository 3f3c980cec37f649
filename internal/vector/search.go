package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"gazette/internal/models"
)

const (
	DefaultTopK = 10
	MaxTopK     = 50
)

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// ClampTopK applies the default for non-positive values and caps the rest.
func ClampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

const searchSQL = `
SELECT c.id::text,
       c.document_id::text,
       c.seq,
       c.content,
       1 - (c.embedding <=> $1::vector) AS similarity
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.status = 'completed'
  AND c.embedding IS NOT NULL
ORDER BY c.embedding <=> $1::vector
LIMIT $2`

// SearchChunks returns the topK chunks nearest to queryVec by cosine distance,
// considering only fully indexed documents.
func (s *Searcher) SearchChunks(ctx context.Context, queryVec []float32, topK int) ([]models.ChunkMatch, error) {
	topK = ClampTopK(topK)
	rows, err := s.q.Query(ctx, searchSQL, pgvector.NewVector(queryVec), topK)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.ChunkMatch, 0, topK)
	for rows.Next() {
		var m models.ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Seq, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}
