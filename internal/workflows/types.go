package workflows

type IndexDocumentWorkflowInput struct {
	DocumentID string `json:"document_id"`
}

type IndexStatus struct {
	DocumentID  string `json:"document_id"`
	CurrentStep string `json:"current_step"`
	Status      string `json:"status"`
	Chunks      int    `json:"chunks"`
	FailReason  string `json:"fail_reason,omitempty"`
}
