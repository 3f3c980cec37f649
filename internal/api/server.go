package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gazette/internal/models"
	"gazette/internal/pipeline"
	"gazette/internal/util"
)

// multipart overhead allowed on top of the file size limit
const formSlack = 1 << 20

type DocumentService interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, f models.DocumentFilter) ([]models.Document, error)
	Delete(ctx context.Context, id string) error
	Classify(ctx context.Context, id string, items []models.Classification) error
}

type Uploader interface {
	Upload(ctx context.Context, in pipeline.UploadInput) (pipeline.UploadResult, error)
}

type Answerer interface {
	Answer(ctx context.Context, query string, topK int) (models.Answer, error)
}

type Tagger interface {
	Generate(ctx context.Context, documentID string) (models.TagResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Documents      DocumentService
	Uploads        Uploader
	Query          Answerer
	Tags           Tagger
	DB             Pinger
	FilesRoot      string
	FilesPrefix    string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Server struct {
	deps   Deps
	logger *zap.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = pipeline.DefaultMaxUploadBytes
	}
	return &Server{deps: deps, logger: deps.Logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/upload", s.handleUpload)
		r.Get("/{id}", s.handleGetDocument)
		r.Delete("/{id}", s.handleDeleteDocument)
		r.Post("/{id}/classify", s.handleClassify)
		r.Post("/{id}/tags", s.handleGenerateTags)
	})
	r.Post("/gazette/search", s.handleSearch)

	if s.deps.FilesRoot != "" && strings.HasPrefix(s.deps.FilesPrefix, "/") {
		prefix := strings.TrimRight(s.deps.FilesPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(s.deps.FilesRoot))))
	}
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+formSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, fmt.Errorf("%w: file exceeds %d bytes", util.ErrValidation, s.deps.MaxUploadBytes))
			return
		}
		s.fail(w, r, fmt.Errorf("%w: invalid multipart form", util.ErrValidation))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: no file provided", util.ErrValidation))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.deps.MaxUploadBytes+1))
	if err != nil {
		s.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	res, err := s.deps.Uploads.Upload(r.Context(), pipeline.UploadInput{
		FileName:   header.Filename,
		MIMEType:   header.Header.Get("Content-Type"),
		SourceType: strings.TrimSpace(r.FormValue("source_type")),
		Data:       data,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.DocumentFilter{
		SourceType: strings.TrimSpace(q.Get("source_type")),
		Status:     models.DocumentStatus(strings.TrimSpace(q.Get("status"))),
		Tags:       splitList(q.Get("tags")),
		NodeIDs:    splitList(q.Get("node_ids")),
	}
	var err error
	if f.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.fail(w, r, fmt.Errorf("%w: limit must be an integer", util.ErrValidation))
		return
	}
	if f.Offset, err = queryInt(q.Get("offset")); err != nil {
		s.fail(w, r, fmt.Errorf("%w: offset must be an integer", util.ErrValidation))
		return
	}

	docs, err := s.deps.Documents.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.deps.Documents.GetByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doc == nil {
		s.fail(w, r, fmt.Errorf("%w: document %s", util.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Documents.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": id, "deleted": true})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Classifications []models.Classification `json:"classifications"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid json", util.ErrValidation))
		return
	}
	if err := s.deps.Documents.Classify(r.Context(), id, req.Classifications); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": id, "classifications": len(req.Classifications)})
}

func (s *Server) handleGenerateTags(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Tags.Generate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"topK"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid json", util.ErrValidation))
		return
	}
	ans, err := s.deps.Query.Answer(r.Context(), req.Query, req.TopK)
	if errors.Is(err, util.ErrNoMatchingContent) {
		writeJSON(w, http.StatusOK, map[string]any{
			"query":     strings.TrimSpace(req.Query),
			"summary":   "",
			"citations": []models.Citation{},
			"noResults": true,
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeErr(w, code, err)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	body := map[string]any{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}
	if apiErr.Detail != "" {
		body["detail"] = apiErr.Detail
	}
	writeJSON(w, code, map[string]any{"error": body})
}

type apiError struct {
	Code    string
	Message string
	// Detail carries the wrapped cause for document and provider failures.
	Detail string
}

func toAPIError(status int, err error) apiError {
	if status >= 500 {
		switch {
		case errors.Is(err, util.ErrDocumentCorrupt):
			return apiError{Code: "GZ-DOC-5001", Message: "The uploaded file could not be read as a PDF.", Detail: err.Error()}
		case errors.Is(err, util.ErrNoExtractableText):
			return apiError{Code: "GZ-DOC-5002", Message: "Could not extract text from the document.", Detail: err.Error()}
		case errors.Is(err, util.ErrInsertNotConfirmed):
			return apiError{Code: "GZ-DB-5003", Message: "Storage did not confirm the write. Retry the upload."}
		case errors.Is(err, util.ErrExternalService):
			return apiError{Code: "GZ-EXT-5020", Message: "Upstream model provider unavailable. Retry shortly.", Detail: err.Error()}
		}
		raw := ""
		if err != nil {
			raw = strings.ToLower(err.Error())
		}
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "GZ-DB-5001", Message: "Database schema is not initialized. Run migrations and retry."}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "GZ-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		default:
			return apiError{Code: "GZ-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	}

	switch status {
	case http.StatusBadRequest:
		// validation errors carry messages built by this service, safe to echo
		msg := "Invalid request. Check inputs and retry."
		if err != nil {
			msg = strings.TrimPrefix(err.Error(), util.ErrValidation.Error()+": ")
		}
		return apiError{Code: "GZ-API-4001", Message: msg}
	case http.StatusNotFound:
		return apiError{Code: "GZ-API-4004", Message: "Requested resource was not found."}
	case http.StatusMethodNotAllowed:
		return apiError{Code: "GZ-API-4005", Message: "This endpoint does not support the requested method."}
	}
	return apiError{Code: "GZ-API-4000", Message: "Request failed."}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
