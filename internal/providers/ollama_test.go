package providers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaModelResolution(t *testing.T) {
	t.Setenv("GAZETTE_OLLAMA_EMBED_MODEL", "")
	t.Setenv("GAZETTE_OLLAMA_EMBED_MODEL_LOCAL", "custom-embed")
	require.Equal(t, "nomic-embed-text", ollamaModel(""))
	require.Equal(t, "bge-m3", ollamaModel("BGE"))
	require.Equal(t, "custom-embed", ollamaModel("local"))
	require.Equal(t, "snowflake-arctic-embed:335m", ollamaModel("snowflake-arctic-embed:335m"))

	t.Setenv("GAZETTE_OLLAMA_EMBED_MODEL", "all-minilm")
	require.Equal(t, "all-minilm", ollamaModel(""))
}

func TestFitDimension(t *testing.T) {
	v := fitDimension([]float32{3, 4, 12}, 2)
	require.Len(t, v, 2)
	require.InDelta(t, 0.6, v[0], 1e-6)
	require.InDelta(t, 0.8, v[1], 1e-6)

	p := fitDimension([]float32{3, 4}, 4)
	require.Len(t, p, 4)
	require.InDelta(t, 0.6, p[0], 1e-6)
	require.Zero(t, p[3])

	same := []float32{1, 2}
	require.Equal(t, same, fitDimension(same, 2))
}

type ollamaEmbedBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func TestOllamaEmbedSendsOneBatchWithTaskPrefix(t *testing.T) {
	calls := 0
	var got ollamaEmbedBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		embs := make([][]float32, len(got.Input))
		for i := range embs {
			embs[i] = []float32{1, 0, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": got.Model, "embeddings": embs})
	}))
	defer srv.Close()
	t.Setenv("GAZETTE_OLLAMA_BASE_URL", srv.URL)

	p := NewOllamaEmbeddingProvider("nomic")
	vecs, info, err := p.Embed(context.Background(), EmbedRequest{Operation: OpEmbedChunks, Inputs: []string{"a", "b"}, Dimension: 3})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, "nomic-embed-text", info.Model)
	require.Equal(t, []string{"search_document: a", "search_document: b"}, got.Input)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 3)

	_, _, err = p.Embed(context.Background(), EmbedRequest{Operation: OpEmbedQuery, Inputs: []string{"land acquisition"}})
	require.NoError(t, err)
	require.Equal(t, []string{"search_query: land acquisition"}, got.Input)
}

func TestOllamaEmbedLeavesOtherModelsUnprefixed(t *testing.T) {
	var got ollamaEmbedBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.5, 0.5}}})
	}))
	defer srv.Close()
	t.Setenv("GAZETTE_OLLAMA_BASE_URL", srv.URL)

	vecs, _, err := NewOllamaEmbeddingProvider("mxbai").Embed(context.Background(), EmbedRequest{Operation: OpEmbedQuery, Inputs: []string{"q"}})
	require.NoError(t, err)
	require.Equal(t, []string{"q"}, got.Input)
	require.InDelta(t, 0.5, float64(vecs[0][0]), 1e-6)
	require.False(t, math.IsNaN(float64(vecs[0][1])))
}

func TestOllamaEmbedRejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0}}})
	}))
	defer srv.Close()
	t.Setenv("GAZETTE_OLLAMA_BASE_URL", srv.URL)

	_, _, err := NewOllamaEmbeddingProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}})
	require.Error(t, err)
}

func TestOllamaEmbedSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	t.Setenv("GAZETTE_OLLAMA_BASE_URL", srv.URL)

	_, _, err := NewOllamaEmbeddingProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a"}})
	require.Error(t, err)
	require.Equal(t, ErrorTransient, ClassifyError(err))
}
