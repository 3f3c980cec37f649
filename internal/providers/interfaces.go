package providers

import "context"

// Operation names travel with every request so audits and mocks can tell
// indexing, query and tagging traffic apart.
const (
	OpEmbedChunks   = "embed_chunks"
	OpEmbedQuery    = "embed_query"
	OpSummarize     = "gazette_summary"
	OpGenerateTags  = "tag_generation"
	defaultEmbedDim = 1536
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation string   `json:"operation"`
	Prompt    string   `json:"prompt"`
	Context   []string `json:"context"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}
