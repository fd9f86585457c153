package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine runs workflow graphs: it finds the start nodes, dispatches each reachable
// node to its registered handler at most once per run, and follows outgoing connections
// depth-first.
type Engine struct {
	registry    *Registry
	store       RecordStore
	log         ExecutionLog
	sink        NotificationSink
	nodeTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence collaborator handed to handlers through the execution context.
func WithStore(store RecordStore) Option {
	return func(e *Engine) { e.store = store }
}

func WithExecutionLog(log ExecutionLog) Option {
	return func(e *Engine) { e.log = log }
}

func WithNotifier(sink NotificationSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithNodeTimeout bounds every handler invocation. Zero disables the bound.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// NewEngine creates an Engine dispatching through registry.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		log:      nopExecutionLog{},
		sink:     nopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs wf once with the given initial variables.
// Run failures are reported in the result (Success false, Err set); the returned
// error is non-nil only when wf is nil.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, variables map[string]any) (*ExecutionResult, error) {
	if wf == nil {
		return nil, errors.New("workflow is required")
	}
	// A started run always finishes; only the node timeout bounds it.
	ctx = context.WithoutCancel(ctx)

	ec := NewExecutionContext(wf, uuid.New().String(), variables, e.store)
	logger := slog.With("workflow_id", wf.ID, "execution_id", ec.ExecutionID)
	logger.Info("Workflow run started", "name", wf.Name)

	e.audit(logger, "run start", e.log.RunStarted(ctx, ec))
	e.notify(ctx, logger, Notification{
		Kind:         NotificationStarted,
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		ExecutionID:  ec.ExecutionID,
		Message:      fmt.Sprintf("Workflow %q started", wf.Name),
	})

	r := &run{engine: e, ec: ec, logger: logger}
	err := r.execute(ctx, wf)

	return e.finish(ctx, logger, ec, r.steps, err), nil
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, ec *ExecutionContext, steps []ExecutionStep, runErr error) *ExecutionResult {
	end := time.Now()
	result := &ExecutionResult{
		Success:       runErr == nil,
		Status:        StatusCompleted,
		ExecutionID:   ec.ExecutionID,
		WorkflowID:    ec.WorkflowID,
		StartTime:     ec.StartTime.UTC(),
		EndTime:       end.UTC(),
		TotalDuration: end.Sub(ec.StartTime).Milliseconds(),
		NodeResults:   ec.NodeResults,
		Steps:         steps,
	}

	n := Notification{
		Kind:         NotificationSuccess,
		WorkflowID:   ec.WorkflowID,
		WorkflowName: ec.WorkflowName,
		ExecutionID:  ec.ExecutionID,
		Message:      fmt.Sprintf("Workflow %q completed", ec.WorkflowName),
		Duration:     end.Sub(ec.StartTime),
	}

	if runErr != nil {
		result.Status = StatusFailed
		result.Err = runErr
		result.Error = runErr.Error()
		n.Kind = NotificationError
		n.Message = fmt.Sprintf("Workflow %q failed: %s", ec.WorkflowName, runErr.Error())
		logger.Error("Workflow run failed", "error", runErr, "duration_ms", result.TotalDuration)
	} else {
		logger.Info("Workflow run completed", "nodes", len(ec.NodeResults), "duration_ms", result.TotalDuration)
	}

	e.audit(logger, "run finish", e.log.RunFinished(ctx, result, ec.Variables))
	e.notify(ctx, logger, n)
	return result
}

// audit logs a failed audit-trail write. Audit failures never fail a run.
func (e *Engine) audit(logger *slog.Logger, what string, err error) {
	if err != nil {
		logger.Warn("Failed to write execution log", "entry", what, "error", err)
	}
}

func (e *Engine) notify(ctx context.Context, logger *slog.Logger, n Notification) {
	if err := e.sink.Notify(ctx, n); err != nil {
		logger.Warn("Failed to emit notification", "kind", n.Kind, "error", err)
	}
}

// run holds the bookkeeping of one Execute call.
type run struct {
	engine *Engine
	ec     *ExecutionContext
	logger *slog.Logger
	steps  []ExecutionStep
}

func (r *run) execute(ctx context.Context, wf *Workflow) error {
	g, err := buildGraph(wf)
	if err != nil {
		return err
	}

	starts := g.startNodes()
	if len(starts) == 0 {
		return ErrNoStartNode
	}

	for _, start := range starts {
		if err := r.traverse(ctx, g, start.ID); err != nil {
			return err
		}
	}
	return nil
}

// traverse visits everything reachable from startID depth-first using an explicit stack.
// Children are pushed in reverse so they pop in connection order; a node already in
// NodeResults is skipped, which also stops cycles.
func (r *run) traverse(ctx context.Context, g *graph, startID string) error {
	stack := []string{startID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, done := r.ec.NodeResults[id]; done {
			continue
		}

		output, err := r.executeNode(ctx, *g.nodes[id])
		if err != nil {
			return err
		}

		targets := g.next(id, output)
		for i := len(targets) - 1; i >= 0; i-- {
			stack = append(stack, targets[i])
		}
	}
	return nil
}

func (r *run) executeNode(ctx context.Context, node Node) (map[string]any, error) {
	e := r.engine
	logger := r.logger.With("node_id", node.ID, "node_type", node.Type)

	step := ExecutionStep{
		StepNumber: len(r.steps) + 1,
		NodeID:     node.ID,
		NodeType:   node.Type,
	}

	handler, ok := e.registry.Get(node.Type)
	if !ok {
		err := &HandlerNotFoundError{Type: node.Type}
		r.recordFailure(ctx, logger, step, 0, err)
		return nil, err
	}

	logger.Debug("Node started")
	e.audit(logger, "node start", e.log.NodeStatus(ctx, r.ec.ExecutionID, node.ID, StatusRunning, nil))

	nodeCtx := ctx
	cancel := func() {}
	if e.nodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
	}
	started := time.Now()
	output, err := invoke(nodeCtx, handler, node, r.ec)
	cancel()
	duration := time.Since(started)

	if err != nil {
		err = fmt.Errorf("node %s (%s): %w", node.ID, node.Type, err)
		r.recordFailure(ctx, logger, step, duration, err)
		return nil, err
	}
	if output == nil {
		output = map[string]any{}
	}
	r.ec.NodeResults[node.ID] = output

	step.Status = StatusCompleted
	step.Duration = duration.Milliseconds()
	step.Output = output
	step.Timestamp = time.Now().UTC().Format(time.RFC3339)
	r.steps = append(r.steps, step)

	logger.Debug("Node completed", "duration_ms", step.Duration)
	e.audit(logger, "node finish", e.log.NodeStatus(ctx, r.ec.ExecutionID, node.ID, StatusCompleted, nil))
	return output, nil
}

// invoke calls the handler, turning a panic into an error so it fails only this run.
func invoke(ctx context.Context, h NodeHandler, node Node, ec *ExecutionContext) (output map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h.Execute(ctx, node, ec)
}

func (r *run) recordFailure(ctx context.Context, logger *slog.Logger, step ExecutionStep, duration time.Duration, err error) {
	step.Status = StatusFailed
	step.Duration = duration.Milliseconds()
	step.Error = err.Error()
	step.Timestamp = time.Now().UTC().Format(time.RFC3339)
	r.steps = append(r.steps, step)

	logger.Error("Node failed", "error", err)
	r.engine.audit(logger, "node failure", r.engine.log.NodeStatus(ctx, r.ec.ExecutionID, step.NodeID, StatusFailed, err))
}
