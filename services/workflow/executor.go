package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RecordStore is the persistence collaborator handlers and audit sinks write through.
type RecordStore interface {
	Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error)
	Update(ctx context.Context, table string, filter, patch map[string]any) (map[string]any, error)
	Select(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error)
}

// ExecutionContext is the per-run mutable state shared by the handlers of one run.
// It is owned by a single run and never shared across runs.
type ExecutionContext struct {
	WorkflowID   string
	WorkflowName string
	ExecutionID  string
	StartTime    time.Time

	// NodeResults memoizes each node's output; a node with an entry never runs again in this run.
	NodeResults map[string]map[string]any
	// Variables is the shared scratch space handlers read from and write derived values into.
	Variables map[string]any

	Store RecordStore
}

// NewExecutionContext creates the state of a fresh run. variables is copied.
func NewExecutionContext(wf *Workflow, executionID string, variables map[string]any, store RecordStore) *ExecutionContext {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &ExecutionContext{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		ExecutionID:  executionID,
		StartTime:    time.Now(),
		NodeResults:  make(map[string]map[string]any),
		Variables:    vars,
		Store:        store,
	}
}

// NodeHandler executes a single node type. Handlers must not modify node.
type NodeHandler interface {
	Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error)
}

// HandlerFunc adapts a function to NodeHandler.
type HandlerFunc func(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	return f(ctx, node, ec)
}

// Registry maps node type tags to their handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]NodeHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]NodeHandler)}
}

// Register adds the handler for nodeType, replacing any previous one.
func (r *Registry) Register(nodeType string, h NodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[nodeType] = h
}

func (r *Registry) Get(nodeType string) (NodeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dependencies are the external collaborators the built-in handlers call out to.
type Dependencies struct {
	Mailer            Mailer
	Analyzer          Analyzer
	Links             LinkCreator
	Bridge            BridgeCaller
	DefaultLinkExpiry int
	Now               func() time.Time
}

// NewDefaultRegistry creates a registry populated with all built-in node types.
func NewDefaultRegistry(deps Dependencies) *Registry {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	r := NewRegistry()
	r.Register("start", &StartHandler{now: now})
	r.Register("end", &EndHandler{now: now})
	r.Register("email", &EmailHandler{mailer: deps.Mailer, now: now})
	r.Register("createTask", &CreateTaskHandler{now: now})
	r.Register("dataCondition", &DataConditionHandler{})
	r.Register("timeCondition", &TimeConditionHandler{now: now})
	r.Register("dynamicLink", &DynamicLinkHandler{links: deps.Links, defaultExpiry: deps.DefaultLinkExpiry})
	r.Register("aiAnalysis", &AIAnalysisHandler{analyzer: deps.Analyzer, now: now})
	r.Register("webhook", &WebhookHandler{bridge: deps.Bridge})
	return r
}
