package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazette/internal/models"
	"gazette/internal/pipeline"
	"gazette/internal/storage"
	"gazette/internal/util"
)

type stubDocs struct {
	docs       map[string]models.Document
	lastFilter models.DocumentFilter
	classified []models.Classification
}

func (s *stubDocs) GetByID(_ context.Context, id string) (*models.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *stubDocs) List(_ context.Context, f models.DocumentFilter) ([]models.Document, error) {
	s.lastFilter = f
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", util.ErrValidation, f.Status)
	}
	var out []models.Document
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

func (s *stubDocs) Delete(_ context.Context, id string) error {
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	delete(s.docs, id)
	return nil
}

func (s *stubDocs) Classify(_ context.Context, id string, items []models.Classification) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one classification is required", util.ErrValidation)
	}
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	s.classified = items
	return nil
}

type stubUploader struct {
	got pipeline.UploadInput
	err error
}

func (s *stubUploader) Upload(_ context.Context, in pipeline.UploadInput) (pipeline.UploadResult, error) {
	s.got = in
	if s.err != nil {
		return pipeline.UploadResult{}, s.err
	}
	return pipeline.UploadResult{
		DocumentID:    "doc-1",
		FileName:      in.FileName,
		FileURL:       "/files/doc-1/" + in.FileName,
		FileSize:      int64(len(in.Data)),
		TextExtracted: true,
		TextLength:    42,
		Status:        string(models.StatusCompleted),
	}, nil
}

type stubAnswerer struct {
	ans models.Answer
	err error
}

func (s *stubAnswerer) Answer(_ context.Context, query string, _ int) (models.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return models.Answer{}, fmt.Errorf("%w: query is required", util.ErrValidation)
	}
	return s.ans, s.err
}

type stubTagger struct {
	err error
}

func (s *stubTagger) Generate(_ context.Context, id string) (models.TagResult, error) {
	if s.err != nil {
		return models.TagResult{}, s.err
	}
	return models.TagResult{DocumentID: id, Tags: []string{"budget", "tender"}}, nil
}

func newTestServer(t *testing.T) (*stubDocs, *stubUploader, *stubAnswerer, *stubTagger, http.Handler) {
	t.Helper()
	docs := &stubDocs{docs: map[string]models.Document{
		"doc-1": {ID: "doc-1", FileName: "g.pdf", Status: models.StatusCompleted},
	}}
	up := &stubUploader{}
	ans := &stubAnswerer{}
	tags := &stubTagger{}
	s := NewServer(Deps{Documents: docs, Uploads: up, Query: ans, Tags: tags, MaxUploadBytes: 1 << 20})
	return docs, up, ans, tags, s.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return apiError{Code: body.Error.Code, Message: body.Error.Message, Detail: body.Error.Detail}
}

func TestUploadReturnsCreated(t *testing.T) {
	_, up, _, _, h := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "gazette.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4 body"))
	require.NoError(t, mw.WriteField("source_type", "state"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var res pipeline.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "doc-1", res.DocumentID)
	require.True(t, res.TextExtracted)
	require.Equal(t, "gazette.pdf", up.got.FileName)
	require.Equal(t, "state", up.got.SourceType)
	require.Equal(t, []byte("%PDF-1.4 body"), up.got.Data)
}

func TestUploadWithoutFileIsBadRequest(t *testing.T) {
	_, _, _, _, h := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("source_type", "state"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	require.Equal(t, "GZ-API-4001", e.Code)
	require.Equal(t, "no file provided", e.Message)
}

func TestUploadErrorsMapToCodes(t *testing.T) {
	cases := []struct {
		err    error
		code   int
		api    string
		detail string
	}{
		{fmt.Errorf("%w: only PDF files are accepted", util.ErrValidation), http.StatusBadRequest, "GZ-API-4001", ""},
		{fmt.Errorf("extract: %w: malformed xref", util.ErrDocumentCorrupt), http.StatusInternalServerError, "GZ-DOC-5001", "extract: document is corrupt or unreadable: malformed xref"},
		{util.ErrNoExtractableText, http.StatusInternalServerError, "GZ-DOC-5002", "could not extract text from document"},
		{fmt.Errorf("create: %w", util.ErrInsertNotConfirmed), http.StatusInternalServerError, "GZ-DB-5003", ""},
		{fmt.Errorf("%w: embed chunks 0-15: ollama returned 503", util.ErrExternalService), http.StatusInternalServerError, "GZ-EXT-5020", "external service error: embed chunks 0-15: ollama returned 503"},
		{errors.New("boom"), http.StatusInternalServerError, "GZ-API-5000", ""},
	}
	for _, c := range cases {
		_, up, _, _, h := newTestServer(t)
		up.err = c.err

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "g.pdf")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("%PDF-1.4"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, c.code, rec.Code, c.err.Error())
		apiErr := decodeError(t, rec)
		require.Equal(t, c.api, apiErr.Code, c.err.Error())
		require.Equal(t, c.detail, apiErr.Detail, c.err.Error())
	}
}

func TestListDocumentsParsesFilters(t *testing.T) {
	docs, _, _, _, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/documents?source_type=state&status=completed&tags=budget,%20tender,&node_ids=n1&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "state", docs.lastFilter.SourceType)
	require.Equal(t, models.StatusCompleted, docs.lastFilter.Status)
	require.Equal(t, []string{"budget", "tender"}, docs.lastFilter.Tags)
	require.Equal(t, []string{"n1"}, docs.lastFilter.NodeIDs)
	require.Equal(t, 5, docs.lastFilter.Limit)
	require.Equal(t, 10, docs.lastFilter.Offset)

	var body struct {
		Documents []models.Document `json:"documents"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
}

func TestListDocumentsRejectsBadInput(t *testing.T) {
	_, _, _, _, h := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/documents?limit=ten", "").Code)
	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/documents?status=archived", "").Code)
}

func TestGetAndDeleteDocument(t *testing.T) {
	_, _, _, _, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/documents/doc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "doc-1", doc.ID)

	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/documents/missing", "").Code)

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodDelete, "/documents/doc-1", "").Code)
	rec = doJSON(t, h, http.MethodDelete, "/documents/doc-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "GZ-API-4004", decodeError(t, rec).Code)
}

func TestClassify(t *testing.T) {
	docs, _, _, _, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/documents/doc-1/classify", `{"classifications":[{"nodeId":"finance","confidence":0.9}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, docs.classified, 1)
	require.Equal(t, "finance", docs.classified[0].NodeID)

	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/documents/doc-1/classify", `{"classifications":[]}`).Code)
	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/documents/doc-1/classify", `{`).Code)
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/documents/nope/classify", `{"classifications":[{"nodeId":"x"}]}`).Code)
}

func TestGenerateTags(t *testing.T) {
	_, _, _, tags, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/documents/doc-1/tags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.TagResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "doc-1", res.DocumentID)
	require.Equal(t, []string{"budget", "tender"}, res.Tags)

	tags.err = fmt.Errorf("%w: document has no extracted text", util.ErrValidation)
	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/documents/doc-1/tags", "").Code)
}

func TestSearch(t *testing.T) {
	_, _, ans, _, h := newTestServer(t)
	ans.ans = models.Answer{
		Query:   "road tenders",
		Summary: "Tenders were invited for road works [C1].",
		Citations: []models.Citation{
			{ChunkID: "c1", GazetteID: "doc-1", Snippet: "Tenders are invited", Similarity: 0.82},
		},
	}

	rec := doJSON(t, h, http.MethodPost, "/gazette/search", `{"query":"road tenders","topK":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, ans.ans, got)

	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/gazette/search", `{"query":"  "}`).Code)
}

func TestSearchWithoutMatchesReportsNoResults(t *testing.T) {
	_, _, ans, _, h := newTestServer(t)
	ans.err = util.ErrNoMatchingContent

	rec := doJSON(t, h, http.MethodPost, "/gazette/search", `{"query":"fisheries"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fisheries", body["query"])
	assert.Equal(t, "", body["summary"])
	assert.Equal(t, []any{}, body["citations"])
	assert.Equal(t, true, body["noResults"])
}

func TestSearchProviderFailureIsServerError(t *testing.T) {
	_, _, ans, _, h := newTestServer(t)
	ans.err = fmt.Errorf("%w: summarize: empty response", util.ErrExternalService)

	rec := doJSON(t, h, http.MethodPost, "/gazette/search", `{"query":"fisheries"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "GZ-EXT-5020", decodeError(t, rec).Code)
}

func TestHealthzAndCORS(t *testing.T) {
	_, _, _, _, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doJSON(t, h, http.MethodOptions, "/documents/upload", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("dial tcp: connection refused") }

func TestHealthzReportsDatabaseOutage(t *testing.T) {
	s := NewServer(Deps{DB: failingPinger{}})
	rec := doJSON(t, s.Routes(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServesStoredFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "doc-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc-1", "g.pdf"), []byte("%PDF-1.4"), 0o644))

	s := NewServer(Deps{FilesRoot: root, FilesPrefix: "/files"})
	rec := doJSON(t, s.Routes(), http.MethodGet, "/files/doc-1/g.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestMalformedDocumentIDsAreNotFound(t *testing.T) {
	store := pipeline.NewStore(storage.NewDocumentRepo(nil), nil, nil)
	s := NewServer(Deps{
		Documents: store,
		Tags:      pipeline.NewTagGenerator(store, nil, nil, nil),
	})
	h := s.Routes()

	cases := []struct {
		method, target, body string
	}{
		{http.MethodGet, "/documents/abc", ""},
		{http.MethodDelete, "/documents/abc", ""},
		{http.MethodPost, "/documents/abc/classify", `{"classifications":[{"nodeId":"finance"}]}`},
		{http.MethodPost, "/documents/abc/tags", ""},
	}
	for _, c := range cases {
		rec := doJSON(t, h, c.method, c.target, c.body)
		require.Equal(t, http.StatusNotFound, rec.Code, c.method+" "+c.target)
		require.Equal(t, "GZ-API-4004", decodeError(t, rec).Code, c.method+" "+c.target)
	}
}
