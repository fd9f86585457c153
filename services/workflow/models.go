package workflow

import "time"

// Workflow is a persisted automation: a graph of nodes and connections plus the triggers that launch it.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Triggers    []Trigger    `json:"triggers"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Definition is the JSON document stored for a workflow graph.
type Definition struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Triggers    []Trigger    `json:"triggers"`
}

// Node is a single step in a workflow graph. Data carries the type-specific configuration.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Inputs   []Port         `json:"inputs,omitempty"`
	Outputs  []Port         `json:"outputs,omitempty"`
	Position Position       `json:"position"`
}

// Port is a named input or output declared by a node. Ports are descriptive; values flow through variables.
type Port struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is a directed edge from a source node output to a target node input.
type Connection struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceOutput string `json:"sourceOutput,omitempty"`
	Target       string `json:"target"`
	TargetInput  string `json:"targetInput,omitempty"`
}

// TriggerType discriminates the Trigger union.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerWebhook  TriggerType = "webhook"
)

// Trigger launches a workflow. Which fields apply depends on Type.
type Trigger struct {
	ID   string      `json:"id,omitempty"`
	Type TriggerType `json:"type"`

	// schedule
	Cron         string     `json:"cron,omitempty"`
	Timezone     string     `json:"timezone,omitempty"`
	LastExecuted *time.Time `json:"lastExecuted,omitempty"`

	// event
	EventType  string         `json:"eventType,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`

	// webhook
	Endpoint string `json:"endpoint,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Run and node statuses recorded in results and the execution log.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExecutionResult is the immutable outcome of one run.
type ExecutionResult struct {
	Success       bool                      `json:"success"`
	Status        string                    `json:"status"`
	ExecutionID   string                    `json:"executionId"`
	WorkflowID    string                    `json:"workflowId"`
	StartTime     time.Time                 `json:"startTime"`
	EndTime       time.Time                 `json:"endTime"`
	TotalDuration int64                     `json:"totalDuration"`
	NodeResults   map[string]map[string]any `json:"nodeResults"`
	Steps         []ExecutionStep           `json:"steps"`
	Error         string                    `json:"error,omitempty"`
	Err           error                     `json:"-"`
}

// ExecutionStep records a single node execution within a run, in execution order.
type ExecutionStep struct {
	StepNumber int            `json:"stepNumber"`
	NodeID     string         `json:"nodeId"`
	NodeType   string         `json:"nodeType"`
	Status     string         `json:"status"`
	Duration   int64          `json:"duration"`
	Output     map[string]any `json:"output,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Error      string         `json:"error,omitempty"`
}

// ExecuteRequest is the JSON body of a manual run.
type ExecuteRequest struct {
	Variables map[string]any `json:"variables"`
}

// EventRequest is the JSON body of an incoming business event.
type EventRequest struct {
	EventType string         `json:"eventType"`
	EventData map[string]any `json:"eventData"`
}
