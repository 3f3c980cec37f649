package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gazette/internal/util"
)

const testDim = 256

type harness struct {
	db       *memDB
	files    *memFiles
	embedder *countingEmbedder
	llm      *stubLLM
	store    *Store
	indexer  *Indexer
	query    *QueryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chunker, err := util.NewChunker(util.DefaultChunkTargetWords, util.DefaultChunkOverlapWords)
	require.NoError(t, err)

	h := &harness{
		db:       newMemDB(),
		files:    newMemFiles(),
		embedder: newCountingEmbedder(testDim),
		llm:      &stubLLM{text: "Two mining licences were granted [C1]."},
	}
	logger := zap.NewNop()
	h.store = NewStore(h.db, h.files, logger)
	h.indexer = NewIndexer(chunker, h.embedder, h.db, h.db, IndexerConfig{BatchSize: DefaultEmbedBatchSize, Dimension: testDim}, logger)
	h.query = NewQueryService(h.embedder, h.llm, h.db, h.db, QueryConfig{Dimension: testDim}, logger)
	return h
}

func (h *harness) ingestor(extractor TextExtractor) *Ingestor {
	return NewIngestor(h.store, h.files, extractor, NewInlineDispatcher(h.indexer, h.store), 0, zap.NewNop())
}
