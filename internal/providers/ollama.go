package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Shorthand model names accepted as the alias in "ollama:<alias>".
var ollamaModelAliases = map[string]string{
	"nomic": "nomic-embed-text",
	"bge":   "bge-m3",
	"mxbai": "mxbai-embed-large",
}

// OllamaEmbeddingProvider embeds with a locally served Ollama model through
// the batch /api/embed endpoint, one HTTP call per EmbedRequest.
type OllamaEmbeddingProvider struct {
	alias   string
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaEmbeddingProvider(alias string) *OllamaEmbeddingProvider {
	baseURL := strings.TrimSpace(os.Getenv("GAZETTE_OLLAMA_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbeddingProvider{
		alias:   alias,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   ollamaModel(alias),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// ollamaModel resolves the alias: a known shorthand, then
// GAZETTE_OLLAMA_EMBED_MODEL_<ALIAS>, then the alias itself when it looks like
// a model name, then GAZETTE_OLLAMA_EMBED_MODEL.
func ollamaModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if m, ok := ollamaModelAliases[strings.ToLower(alias)]; ok {
			return m
		}
		if v := strings.TrimSpace(os.Getenv("GAZETTE_OLLAMA_EMBED_MODEL_" + envToken(alias))); v != "" {
			return v
		}
		if strings.ContainsAny(alias, "-/.:") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("GAZETTE_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

// taskPrefix returns the instruction prefix nomic models are trained with.
// Chunks and queries must be embedded with their matching prefixes.
func (o *OllamaEmbeddingProvider) taskPrefix(op string) string {
	if !strings.HasPrefix(o.model, "nomic-embed") {
		return ""
	}
	switch op {
	case OpEmbedQuery:
		return "search_query: "
	case OpEmbedChunks:
		return "search_document: "
	}
	return ""
}

func (o *OllamaEmbeddingProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.model, Key: o.alias}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}

	prefix := o.taskPrefix(req.Operation)
	inputs := make([]string, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = prefix + in
	}
	payload, err := json.Marshal(map[string]any{
		"model":    o.model,
		"input":    inputs,
		"truncate": true,
	})
	if err != nil {
		return nil, info, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, info, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, info, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, info, fmt.Errorf("read ollama embed response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, info, &StatusError{Provider: "ollama", Code: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, info, fmt.Errorf("decode ollama embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, len(parsed.Embeddings))
	for i, v := range parsed.Embeddings {
		if len(v) == 0 {
			return nil, info, fmt.Errorf("ollama returned an empty embedding for input %d", i)
		}
		out[i] = fitDimension(v, req.Dimension)
	}
	return out, info, nil
}

// fitDimension truncates or zero-pads v to target and rescales it to unit
// length, so cosine distance stays meaningful on truncated vectors.
func fitDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	out := make([]float32, target)
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}
