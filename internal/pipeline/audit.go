package pipeline

import (
	"context"

	"go.uber.org/zap"

	"gazette/internal/providers"
	"gazette/internal/storage"
)

// recordCall writes one llm_calls row. Audit failures are logged and never
// fail the caller.
func recordCall(ctx context.Context, rec CallRecorder, logger *zap.Logger, op, documentID string, info providers.ProviderInfo, callErr error) {
	if rec == nil {
		return
	}
	r := storage.LLMCallRecord{
		Operation:    op,
		DocumentID:   documentID,
		ProviderName: info.Name,
		Model:        info.Model,
		Status:       "ok",
	}
	if callErr != nil {
		r.Status = "error"
		r.ErrorType = string(providers.ClassifyError(callErr))
	}
	if err := rec.Insert(context.WithoutCancel(ctx), r); err != nil {
		logger.Warn("record llm call", zap.String("operation", op), zap.Error(err))
	}
}
