package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/observability"
	"gazette/internal/providers"
	"gazette/internal/util"
)

const (
	tagPromptRunes = 6000
	maxTags        = 10
)

// TagGenerator asks the LLM for topical tags over the start of a document's
// extracted text and replaces the document's tags with the result.
type TagGenerator struct {
	store  *Store
	llm    providers.LLMProvider
	audit  CallRecorder
	logger *zap.Logger
}

func NewTagGenerator(store *Store, llm providers.LLMProvider, audit CallRecorder, logger *zap.Logger) *TagGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagGenerator{store: store, llm: llm, audit: audit, logger: logger}
}

func (g *TagGenerator) Generate(ctx context.Context, documentID string) (res models.TagResult, err error) {
	ctx, span := observability.StartStageSpan(ctx, "tags", documentID)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	doc, err := g.store.GetByID(ctx, documentID)
	if err != nil {
		return models.TagResult{}, err
	}
	if doc == nil {
		return models.TagResult{}, fmt.Errorf("document %s: %w", documentID, util.ErrNotFound)
	}
	text, err := g.store.ExtractedText(ctx, documentID)
	if err != nil {
		return models.TagResult{}, err
	}
	if text == nil || strings.TrimSpace(text.Content) == "" {
		return models.TagResult{}, fmt.Errorf("%w: document %s has no extracted text", util.ErrValidation, documentID)
	}

	resp, info, err := g.llm.Generate(ctx, providers.GenerateRequest{
		Operation: providers.OpGenerateTags,
		Prompt:    tagPrompt(text.Content),
	})
	recordCall(ctx, g.audit, g.logger, providers.OpGenerateTags, documentID, info, err)
	if err != nil {
		return models.TagResult{}, fmt.Errorf("%w: generate tags: %w", util.ErrExternalService, err)
	}
	tags, reasoning, err := parseTagResponse(resp.Text)
	if err != nil {
		return models.TagResult{}, err
	}
	if err := g.store.SetTags(ctx, documentID, tags); err != nil {
		return models.TagResult{}, fmt.Errorf("store tags: %w", err)
	}
	return models.TagResult{DocumentID: documentID, Tags: tags, Reasoning: reasoning}, nil
}

func tagPrompt(text string) string {
	runes := []rune(text)
	if len(runes) > tagPromptRunes {
		runes = runes[:tagPromptRunes]
	}
	return fmt.Sprintf(`Suggest up to %d short topical tags for the government gazette below.
Respond with JSON only, shaped as {"tags": ["..."], "reasoning": "..."}.

Gazette text:
%s`, maxTags, string(runes))
}

// parseTagResponse accepts the model's JSON with or without a markdown code
// fence and normalizes the tags: trimmed, lowercased, deduplicated, at most
// maxTags.
func parseTagResponse(raw string) ([]string, string, error) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	if i, j := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}'); i >= 0 && j > i {
		body = body[i : j+1]
	}

	var parsed struct {
		Tags      []string `json:"tags"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, "", fmt.Errorf("%w: tag response is not valid JSON: %v", util.ErrExternalService, err)
	}

	seen := make(map[string]bool, len(parsed.Tags))
	tags := make([]string, 0, len(parsed.Tags))
	for _, t := range parsed.Tags {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	if len(tags) == 0 {
		return nil, "", fmt.Errorf("%w: tag response contained no tags", util.ErrExternalService)
	}
	return tags, strings.TrimSpace(parsed.Reasoning), nil
}
