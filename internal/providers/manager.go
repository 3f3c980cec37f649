package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gazette/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager owns the configured provider chains. Every provider is wrapped in
// Resilient; LLM and Embedder fail over across the chain in preferred order.
type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	embedDim       int
}

func NewManager(cfg config.Config) (*Manager, error) {
	retry := DefaultRetryConfig()
	if cfg.ProviderMaxRetries > 0 {
		retry.MaxTries = uint(cfg.ProviderMaxRetries)
	}

	m := &Manager{embedDim: cfg.EmbedDim}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		r := NewResilient(p, retry, cfg.ProviderRPS)
		if !r.supportsLLM() {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: r})
	}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		r := NewResilient(p, retry, cfg.ProviderRPS)
		if !r.supportsEmbed() {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: r})
	}
	return m, nil
}

// LLM returns a provider that tries each configured LLM in preferred order.
func (m *Manager) LLM() LLMProvider {
	order := m.PreferredLLMOrder()
	chain := make([]NamedLLMProvider, 0, len(order))
	for _, i := range order {
		chain = append(chain, m.llmProviders[i])
	}
	return llmChain(chain)
}

// Embedder returns a provider that tries each configured embedder in
// preferred order. All of them must produce vectors of the same dimension.
func (m *Manager) Embedder() EmbeddingProvider {
	order := m.PreferredEmbedOrder()
	chain := make([]NamedEmbedProvider, 0, len(order))
	for _, i := range order {
		chain = append(chain, m.embedProviders[i])
	}
	return embedChain{providers: chain, dim: m.embedDim}
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

// preferredOrder puts real providers ahead of the mock.
func preferredOrder(n int, nameAt func(i int) string) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

type llmChain []NamedLLMProvider

func (c llmChain) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var errs []error
	var info ProviderInfo
	for _, p := range c {
		resp, pi, err := p.Provider.Generate(ctx, req)
		info = pi
		if err == nil {
			return resp, pi, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Ref.Raw, err))
		if !failoverAllowed(ctx, err) {
			break
		}
	}
	if len(errs) == 0 {
		return GenerateResponse{}, info, errors.New("no llm providers configured")
	}
	return GenerateResponse{}, info, errors.Join(errs...)
}

type embedChain struct {
	providers []NamedEmbedProvider
	dim       int
}

func (c embedChain) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if req.Dimension <= 0 {
		req.Dimension = c.dim
	}
	var errs []error
	var info ProviderInfo
	for _, p := range c.providers {
		vecs, pi, err := p.Provider.Embed(ctx, req)
		info = pi
		if err == nil {
			return vecs, pi, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Ref.Raw, err))
		if !failoverAllowed(ctx, err) {
			break
		}
	}
	if len(errs) == 0 {
		return nil, info, errors.New("no embedding providers configured")
	}
	return nil, info, errors.Join(errs...)
}

func failoverAllowed(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return ClassifyError(err) != ErrorCanceled
}

func buildProvider(ref ProviderRef, cfg config.Config) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias, cfg.EmbedModel, cfg.SummaryModel), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
