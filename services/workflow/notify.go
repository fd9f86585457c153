package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the run outcome a notification reports.
type NotificationKind string

const (
	NotificationStarted NotificationKind = "started"
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
)

// Notification describes a run outcome for people watching the automation.
type Notification struct {
	Kind         NotificationKind
	WorkflowID   string
	WorkflowName string
	ExecutionID  string
	Message      string
	Duration     time.Duration
}

// NotificationSink consumes run outcomes. It is never on the run's critical path:
// the engine logs and ignores sink errors.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// StoreSink records notifications in the notifications table.
type StoreSink struct {
	store RecordStore
	now   func() time.Time
}

func NewStoreSink(store RecordStore) *StoreSink {
	return &StoreSink{store: store, now: time.Now}
}

func (s *StoreSink) Notify(ctx context.Context, n Notification) error {
	_, err := s.store.Insert(ctx, "notifications", map[string]any{
		"id":            uuid.New().String(),
		"kind":          string(n.Kind),
		"workflow_id":   n.WorkflowID,
		"workflow_name": n.WorkflowName,
		"execution_id":  n.ExecutionID,
		"message":       n.Message,
		"created_at":    s.now().UTC(),
	})
	return err
}

// MultiSink fans a notification out to every sink and joins their errors.
type MultiSink []NotificationSink

func (m MultiSink) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, Notification) error { return nil }
