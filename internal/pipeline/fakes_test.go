package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gazette/internal/models"
	"gazette/internal/providers"
	"gazette/internal/storage"
	"gazette/internal/util"
)

// memDB is an in-memory stand-in for the Postgres repositories. It keeps the
// same transition, cascade and search rules as the SQL.
type memDB struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	texts   map[string]string
	chunks  map[string][]models.Chunk
	tags    map[string][]string
	classes map[string][]models.Classification
	calls   []storage.LLMCallRecord

	failInsertAfter int
	insertCalls     int
}

func newMemDB() *memDB {
	return &memDB{
		docs:            map[string]*models.Document{},
		texts:           map[string]string{},
		chunks:          map[string][]models.Chunk{},
		tags:            map[string][]string{},
		classes:         map[string][]models.Classification{},
		failInsertAfter: -1,
	}
}

func (m *memDB) CreatePending(ctx context.Context, in models.NewDocument) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	d := &models.Document{
		ID:            uuid.NewString(),
		FileName:      in.FileName,
		StorageKey:    in.StorageKey,
		FileURL:       in.FileURL,
		FileSize:      in.FileSize,
		MIMEType:      in.MIMEType,
		SourceType:    in.SourceType,
		ContentSHA256: in.ContentSHA256,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.docs[d.ID] = d
	return *d, nil
}

func (m *memDB) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string, text *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return util.ErrNotFound
	}
	if !models.CanTransition(d.Status, status) {
		return fmt.Errorf("%w: %s -> %s", util.ErrValidation, d.Status, status)
	}
	d.Status = status
	d.FailReason = failReason
	d.UpdatedAt = time.Now().UTC()
	if text != nil {
		m.texts[id] = *text
	}
	return nil
}

func (m *memDB) GetByID(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	cp.Tags = append([]string(nil), m.tags[id]...)
	return &cp, nil
}

func (m *memDB) List(ctx context.Context, f models.DocumentFilter) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Document, 0)
	for _, d := range m.docs {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.SourceType != "" && d.SourceType != f.SourceType {
			continue
		}
		if len(f.Tags) > 0 && !overlaps(m.tags[d.ID], f.Tags) {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (m *memDB) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return util.ErrNotFound
	}
	delete(m.docs, id)
	delete(m.texts, id)
	delete(m.chunks, id)
	delete(m.tags, id)
	delete(m.classes, id)
	return nil
}

func (m *memDB) ExtractedText(ctx context.Context, id string) (*models.ExtractedText, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.texts[id]
	if !ok {
		return nil, nil
	}
	return &models.ExtractedText{DocumentID: id, Content: t}, nil
}

func (m *memDB) ReplaceTags(ctx context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[id] = append([]string(nil), tags...)
	return nil
}

func (m *memDB) UpsertClassifications(ctx context.Context, id string, items []models.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[id] = append(m.classes[id], items...)
	return nil
}

func (m *memDB) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.failInsertAfter >= 0 && m.insertCalls > m.failInsertAfter {
		return errors.New("connection reset")
	}
	for _, c := range chunks {
		for _, existing := range m.chunks[c.DocumentID] {
			if existing.Seq == c.Seq {
				return fmt.Errorf("duplicate seq %d", c.Seq)
			}
		}
		c.ID = uuid.NewString()
		m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	}
	return nil
}

func (m *memDB) SearchChunks(ctx context.Context, queryVec []float32, topK int) ([]models.ChunkMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChunkMatch
	for docID, cs := range m.chunks {
		if d, ok := m.docs[docID]; !ok || d.Status != models.StatusCompleted {
			continue
		}
		for _, c := range cs {
			out = append(out, models.ChunkMatch{
				ChunkID:    c.ID,
				DocumentID: docID,
				Seq:        c.Seq,
				Content:    c.Content,
				Similarity: cosine(queryVec, c.Embedding),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memDB) Insert(ctx context.Context, rec storage.LLMCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rec)
	return nil
}

func (m *memDB) chunksOf(id string) []models.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.Chunk(nil), m.chunks[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (m *memDB) status(id string) models.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		return d.Status
	}
	return ""
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}}
}

func (f *memFiles) Put(ctx context.Context, key string, r io.Reader) (string, int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	return "/files/" + key, int64(len(b)), nil
}

func (f *memFiles) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *memFiles) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// stubExtractor returns fixed text for any PDF-looking payload.
type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(ctx context.Context, content []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return "", util.ErrDocumentCorrupt
	}
	return s.text, nil
}

// countingEmbedder wraps the deterministic mock and can fail chosen calls.
type countingEmbedder struct {
	inner      providers.EmbeddingProvider
	mu         sync.Mutex
	batchSizes []int
	failOnCall int
	shortBy    int
}

func newCountingEmbedder(dim int) *countingEmbedder {
	return &countingEmbedder{inner: providers.NewMockProvider(dim)}
}

func (c *countingEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	c.mu.Lock()
	c.batchSizes = append(c.batchSizes, len(req.Inputs))
	call := len(c.batchSizes)
	c.mu.Unlock()
	if c.failOnCall > 0 && call == c.failOnCall {
		return nil, providers.ProviderInfo{Name: "counting"}, &providers.StatusError{Provider: "counting", Code: 503, Body: "overloaded"}
	}
	vecs, info, err := c.inner.Embed(ctx, req)
	if err == nil && c.shortBy > 0 && len(vecs) >= c.shortBy {
		vecs = vecs[:len(vecs)-c.shortBy]
	}
	return vecs, info, err
}

func (c *countingEmbedder) calls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.batchSizes...)
}

type stubLLM struct {
	text    string
	err     error
	lastReq providers.GenerateRequest
}

func (s *stubLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	s.lastReq = req
	return providers.GenerateResponse{Text: s.text}, providers.ProviderInfo{Name: "stub"}, s.err
}

// paragraphs builds n blank-line separated paragraphs of the given word count.
func paragraphs(n, words int, word string) string {
	ps := make([]string, n)
	for i := range ps {
		ws := make([]string, words)
		for j := range ws {
			ws[j] = fmt.Sprintf("%s%d", word, i)
		}
		ps[i] = strings.Join(ws, " ")
	}
	return strings.Join(ps, "\n\n")
}
