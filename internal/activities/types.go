package activities

type IndexDocumentInput struct {
	DocumentID string `json:"document_id"`
}

type IndexDocumentOutput struct {
	Chunks int `json:"chunks"`
}

type UpdateDocumentStatusInput struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

type FailDocumentInput struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}
