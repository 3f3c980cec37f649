package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"gazette/internal/activities"
	"gazette/internal/models"
)

const QueryGetIndexStatus = "GetIndexStatus"

// IndexDocumentWorkflow indexes one processing document and settles its
// status. Indexing runs once: a retry would collide with chunks already
// stored for the document, so a failed attempt marks the document failed.
func IndexDocumentWorkflow(ctx workflow.Context, input IndexDocumentWorkflowInput) (string, error) {
	status := IndexStatus{
		DocumentID:  input.DocumentID,
		CurrentStep: "init",
		Status:      string(models.StatusProcessing),
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIndexStatus, func() (IndexStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}
	logger := workflow.GetLogger(ctx)

	indexCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	bookkeepingCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    5,
		},
	})

	status.CurrentStep = "index"
	var out activities.IndexDocumentOutput
	err := workflow.ExecuteActivity(indexCtx, "IndexDocumentActivity", activities.IndexDocumentInput{DocumentID: input.DocumentID}).Get(ctx, &out)
	if err != nil {
		logger.Warn("indexing failed", "document_id", input.DocumentID, "error", err)
		status.CurrentStep = "fail"
		status.FailReason = err.Error()
		if ferr := workflow.ExecuteActivity(bookkeepingCtx, "FailDocumentActivity", activities.FailDocumentInput{
			DocumentID: input.DocumentID,
			Reason:     err.Error(),
		}).Get(ctx, nil); ferr != nil {
			return "", ferr
		}
		status.Status = string(models.StatusFailed)
		status.CurrentStep = "done"
		return status.Status, nil
	}
	status.Chunks = out.Chunks

	status.CurrentStep = "complete"
	if err := workflow.ExecuteActivity(bookkeepingCtx, "MarkDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID: input.DocumentID,
		Status:     string(models.StatusCompleted),
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Status = string(models.StatusCompleted)
	status.CurrentStep = "done"
	return status.Status, nil
}
