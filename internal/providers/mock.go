package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// MockProvider is a deterministic offline provider. Embeddings are hashed
// bag-of-words vectors, so texts sharing vocabulary land close together.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = defaultEmbedDim
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	info := ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, hashedVector(input, dim))
	}
	return vectors, info, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	if err := ctx.Err(); err != nil {
		return GenerateResponse{}, info, err
	}
	var text string
	switch req.Operation {
	case OpSummarize:
		text = mockSummary(req.Context)
	case OpGenerateTags:
		text = mockTags(req.Prompt)
	default:
		text = "Mock response."
	}
	return GenerateResponse{Text: text}, info, nil
}

func mockSummary(context []string) string {
	if len(context) == 0 {
		return ""
	}
	first := context[0]
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[i+1:]
	}
	first = strings.Join(strings.Fields(first), " ")
	if i := strings.IndexAny(first, ".;"); i > 0 {
		first = first[:i]
	}
	return fmt.Sprintf("The retrieved gazette excerpts (%d) are relevant to the query. The closest excerpt states: %s [C1].", len(context), first)
}

var mockStopwords = map[string]bool{
	"the": true, "and": true, "that": true, "with": true, "this": true, "from": true,
	"shall": true, "have": true, "been": true, "under": true, "which": true, "into": true,
	"gazette": true, "document": true, "tags": true, "text": true, "return": true, "json": true,
}

func mockTags(prompt string) string {
	counts := map[string]int{}
	for _, tok := range tokenize(prompt) {
		if len(tok) < 5 || mockStopwords[tok] {
			continue
		}
		counts[tok]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > 5 {
		words = words[:5]
	}
	out, _ := json.Marshal(map[string]any{
		"tags":      words,
		"reasoning": "Most frequent content words in the document.",
	})
	return string(out)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashedVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	tokens := tokenize(input)
	if len(tokens) == 0 {
		tokens = []string{"\x00empty"}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
