package workflow

import (
	"context"
	"time"
)

// ExecutionLog is the append-only audit trail of runs and node executions.
// Errors are reported to the engine, which logs and swallows them.
type ExecutionLog interface {
	RunStarted(ctx context.Context, ec *ExecutionContext) error
	RunFinished(ctx context.Context, result *ExecutionResult, variables map[string]any) error
	NodeStatus(ctx context.Context, executionID, nodeID, status string, nodeErr error) error
}

// StoreExecutionLog writes the audit trail through a RecordStore.
type StoreExecutionLog struct {
	store RecordStore
}

func NewStoreExecutionLog(store RecordStore) *StoreExecutionLog {
	return &StoreExecutionLog{store: store}
}

func (l *StoreExecutionLog) RunStarted(ctx context.Context, ec *ExecutionContext) error {
	_, err := l.store.Insert(ctx, "workflow_executions", map[string]any{
		"execution_id": ec.ExecutionID,
		"workflow_id":  ec.WorkflowID,
		"status":       StatusRunning,
		"started_at":   ec.StartTime.UTC(),
		"variables":    ec.Variables,
	})
	return err
}

func (l *StoreExecutionLog) RunFinished(ctx context.Context, result *ExecutionResult, variables map[string]any) error {
	patch := map[string]any{
		"status":       result.Status,
		"completed_at": result.EndTime,
		"variables":    variables,
	}
	if result.Error != "" {
		patch["error_message"] = result.Error
	}
	_, err := l.store.Update(ctx, "workflow_executions", map[string]any{"execution_id": result.ExecutionID}, patch)
	return err
}

func (l *StoreExecutionLog) NodeStatus(ctx context.Context, executionID, nodeID, status string, nodeErr error) error {
	row := map[string]any{
		"execution_id": executionID,
		"node_id":      nodeID,
		"status":       status,
		"timestamp":    time.Now().UTC(),
	}
	if nodeErr != nil {
		row["error_message"] = nodeErr.Error()
	}
	_, err := l.store.Insert(ctx, "workflow_node_executions", row)
	return err
}

type nopExecutionLog struct{}

func (nopExecutionLog) RunStarted(context.Context, *ExecutionContext) error { return nil }

func (nopExecutionLog) RunFinished(context.Context, *ExecutionResult, map[string]any) error {
	return nil
}

func (nopExecutionLog) NodeStatus(context.Context, string, string, string, error) error { return nil }
