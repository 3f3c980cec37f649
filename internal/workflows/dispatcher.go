package workflows

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"gazette/internal/models"
)

// WorkflowStarter is the part of client.Client used to start indexing.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

type documentFailer interface {
	Fail(ctx context.Context, id, reason string) error
}

// TemporalDispatcher starts IndexDocumentWorkflow and returns while the
// document is still processing; the workflow settles its final status.
type TemporalDispatcher struct {
	client    WorkflowStarter
	taskQueue string
	docs      documentFailer
	logger    *zap.Logger
}

func NewTemporalDispatcher(c WorkflowStarter, taskQueue string, docs documentFailer, logger *zap.Logger) *TemporalDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalDispatcher{client: c, taskQueue: taskQueue, docs: docs, logger: logger}
}

func IndexWorkflowID(documentID string) string {
	return "index-" + documentID
}

func (d *TemporalDispatcher) Dispatch(ctx context.Context, documentID, _ string) (models.DocumentStatus, error) {
	workflowID := IndexWorkflowID(documentID)
	_, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, IndexDocumentWorkflow, IndexDocumentWorkflowInput{DocumentID: documentID})
	if err != nil {
		if ferr := d.docs.Fail(ctx, documentID, "could not start indexing: "+err.Error()); ferr != nil {
			d.logger.Error("mark document failed", zap.String("document_id", documentID), zap.Error(ferr))
		}
		return models.StatusFailed, fmt.Errorf("start index workflow: %w", err)
	}
	d.logger.Info("index workflow started", zap.String("document_id", documentID), zap.String("workflow_id", workflowID))
	return models.StatusProcessing, nil
}
