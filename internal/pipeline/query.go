package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/observability"
	"gazette/internal/providers"
	"gazette/internal/util"
	"gazette/internal/vector"
)

const (
	DefaultExcerptChars     = 500
	DefaultSummarySentences = 5
)

type QueryConfig struct {
	Dimension        int
	DefaultTopK      int
	ExcerptChars     int
	SummarySentences int
}

// QueryService answers a natural-language question from the indexed chunks:
// embed the query, take the nearest chunks and summarize only those.
type QueryService struct {
	embedder providers.EmbeddingProvider
	llm      providers.LLMProvider
	searcher ChunkSearcher
	audit    CallRecorder
	cfg      QueryConfig
	logger   *zap.Logger
}

func NewQueryService(embedder providers.EmbeddingProvider, llm providers.LLMProvider, searcher ChunkSearcher, audit CallRecorder, cfg QueryConfig, logger *zap.Logger) *QueryService {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = vector.DefaultTopK
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	if cfg.SummarySentences <= 0 {
		cfg.SummarySentences = DefaultSummarySentences
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{embedder: embedder, llm: llm, searcher: searcher, audit: audit, cfg: cfg, logger: logger}
}

// Answer never returns a partial result: any failure after validation is
// returned as an error with an empty Answer. topK <= 0 uses the configured
// default.
func (q *QueryService) Answer(ctx context.Context, query string, topK int) (ans models.Answer, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.Answer{}, fmt.Errorf("%w: query must not be empty", util.ErrValidation)
	}
	if topK <= 0 {
		topK = q.cfg.DefaultTopK
	}
	topK = vector.ClampTopK(topK)

	ctx, span := observability.StartStageSpan(ctx, "query", "")
	span.SetAttributes(attribute.Int("gazette.top_k", topK))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	vecs, info, err := q.embedder.Embed(ctx, providers.EmbedRequest{
		Operation: providers.OpEmbedQuery,
		Inputs:    []string{query},
		Dimension: q.cfg.Dimension,
	})
	recordCall(ctx, q.audit, q.logger, providers.OpEmbedQuery, "", info, err)
	if err != nil {
		return models.Answer{}, fmt.Errorf("%w: embed query: %w", util.ErrExternalService, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return models.Answer{}, fmt.Errorf("%w: embedding provider returned %d vectors for the query", util.ErrExternalService, len(vecs))
	}

	matches, err := q.searcher.SearchChunks(ctx, vecs[0], topK)
	if err != nil {
		return models.Answer{}, fmt.Errorf("search chunks: %w", err)
	}
	if len(matches) == 0 {
		return models.Answer{}, util.ErrNoMatchingContent
	}
	span.SetAttributes(attribute.Int("gazette.matches", len(matches)))

	contextBlocks := make([]string, 0, len(matches))
	citations := make([]models.Citation, 0, len(matches))
	for i, m := range matches {
		excerpt := util.Excerpt(m.Content, q.cfg.ExcerptChars)
		contextBlocks = append(contextBlocks, fmt.Sprintf("[C%d] chunk_id=%s document_id=%s\n%s", i+1, m.ChunkID, m.DocumentID, excerpt))
		citations = append(citations, models.Citation{
			ChunkID:    m.ChunkID,
			GazetteID:  m.DocumentID,
			Snippet:    excerpt,
			Similarity: m.Similarity,
		})
	}

	summary, err := q.summarize(ctx, query, contextBlocks)
	if err != nil {
		return models.Answer{}, err
	}
	return models.Answer{Query: query, Summary: summary, Citations: citations}, nil
}

func (q *QueryService) summarize(ctx context.Context, query string, contextBlocks []string) (string, error) {
	ctx, span := observability.StartProviderSpan(ctx, providers.OpSummarize, len(contextBlocks))
	defer span.End()

	resp, info, err := q.llm.Generate(ctx, providers.GenerateRequest{
		Operation: providers.OpSummarize,
		Prompt:    summaryPrompt(query, q.cfg.SummarySentences),
		Context:   contextBlocks,
	})
	recordCall(ctx, q.audit, q.logger, providers.OpSummarize, "", info, err)
	if err != nil {
		observability.RecordError(span, err)
		return "", fmt.Errorf("%w: summarize: %w", util.ErrExternalService, err)
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		err := fmt.Errorf("%w: summarizer returned an empty response", util.ErrExternalService)
		observability.RecordError(span, err)
		return "", err
	}
	return summary, nil
}

func summaryPrompt(query string, sentences int) string {
	return fmt.Sprintf(`Answer the question using only the gazette excerpts in the context below.
Write plain prose of at most %d sentences, with no headings or lists.
Refer to excerpts by their [C#] labels when you rely on them.
If the excerpts do not answer the question, say so in one sentence.

Question: %s`, sentences, query)
}
