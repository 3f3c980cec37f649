package models

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AllowedPredecessors lists the statuses a document may move to s from within
// one upload attempt.
func AllowedPredecessors(s DocumentStatus) []DocumentStatus {
	switch s {
	case StatusProcessing:
		return []DocumentStatus{StatusPending}
	case StatusCompleted:
		return []DocumentStatus{StatusProcessing}
	case StatusFailed:
		return []DocumentStatus{StatusPending, StatusProcessing}
	default:
		return nil
	}
}

func CanTransition(from, to DocumentStatus) bool {
	for _, p := range AllowedPredecessors(to) {
		if p == from {
			return true
		}
	}
	return false
}

type Document struct {
	ID            string         `json:"id"`
	FileName      string         `json:"file_name"`
	StorageKey    string         `json:"storage_key"`
	FileURL       string         `json:"file_url"`
	FileSize      int64          `json:"file_size"`
	MIMEType      string         `json:"mime_type"`
	SourceType    string         `json:"source_type,omitempty"`
	ContentSHA256 string         `json:"content_sha256,omitempty"`
	Status        DocumentStatus `json:"status"`
	FailReason    string         `json:"fail_reason,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewDocument carries the upload metadata needed to allocate a document row.
type NewDocument struct {
	FileName      string
	StorageKey    string
	FileURL       string
	FileSize      int64
	MIMEType      string
	SourceType    string
	ContentSHA256 string
}

type ExtractedText struct {
	DocumentID  string    `json:"document_id"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Seq        int       `json:"seq"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

type ChunkMatch struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Seq        int     `json:"seq"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

type Classification struct {
	NodeID     string   `json:"nodeId"`
	Confidence *float64 `json:"confidence,omitempty"`
	Source     string   `json:"source,omitempty"`
}

type DocumentFilter struct {
	SourceType string
	Status     DocumentStatus
	Tags       []string
	NodeIDs    []string
	Limit      int
	Offset     int
}

type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	GazetteID  string  `json:"gazette_id"`
	Snippet    string  `json:"snippet"`
	Similarity float64 `json:"similarity"`
}

type Answer struct {
	Query     string     `json:"query"`
	Summary   string     `json:"summary"`
	Citations []Citation `json:"citations"`
}

type TagResult struct {
	DocumentID string   `json:"documentId"`
	Tags       []string `json:"tags"`
	Reasoning  string   `json:"reasoning,omitempty"`
}
