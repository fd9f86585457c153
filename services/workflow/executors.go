package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crm-automation/api/services/links"
)

// LinkCreator is the part of the dynamic link service the workflow engine needs.
type LinkCreator interface {
	Create(ctx context.Context, req links.CreateRequest) (*links.Link, error)
}

// StartHandler handles the "start" node type. It marks the beginning of a graph.
type StartHandler struct {
	now func() time.Time
}

func (h *StartHandler) Execute(_ context.Context, _ Node, ec *ExecutionContext) (map[string]any, error) {
	return map[string]any{
		"message":   "Workflow execution started",
		"startedAt": h.now().UTC().Format(time.RFC3339),
		"variables": len(ec.Variables),
	}, nil
}

// EndHandler handles the "end" node type. It marks a terminal point of a graph.
type EndHandler struct {
	now func() time.Time
}

func (h *EndHandler) Execute(_ context.Context, _ Node, _ *ExecutionContext) (map[string]any, error) {
	return map[string]any{
		"message":     "Workflow execution completed",
		"completedAt": h.now().UTC().Format(time.RFC3339),
	}, nil
}

// EmailHandler handles the "email" node type. Recipient, subject and body are interpolated.
type EmailHandler struct {
	mailer Mailer
	now    func() time.Time
}

func (h *EmailHandler) Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	recipient, err := requireString(node, "recipient", ec.Variables)
	if err != nil {
		return nil, err
	}
	subject, err := requireString(node, "subject", ec.Variables)
	if err != nil {
		return nil, err
	}
	body, err := requireString(node, "body", ec.Variables)
	if err != nil {
		return nil, err
	}

	if h.mailer == nil {
		return nil, errors.New("no mailer configured")
	}
	if err := h.mailer.Send(ctx, Message{To: recipient, Subject: subject, Body: body}); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}

	return map[string]any{
		"success":   true,
		"recipient": recipient,
		"subject":   subject,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}, nil
}

// CreateTaskHandler handles the "createTask" node type. It stores a task tagged with the run's execution id.
type CreateTaskHandler struct {
	now func() time.Time
}

func (h *CreateTaskHandler) Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	description, err := requireString(node, "description", ec.Variables)
	if err != nil {
		return nil, err
	}
	assignee := stringParam(node, "assignee", ec.Variables)
	dueDate := stringParam(node, "dueDate", ec.Variables)

	if ec.Store == nil {
		return nil, errors.New("no record store configured")
	}

	taskID := uuid.New().String()
	row := map[string]any{
		"id":           taskID,
		"description":  description,
		"status":       "open",
		"workflow_id":  ec.WorkflowID,
		"execution_id": ec.ExecutionID,
		"created_at":   h.now().UTC(),
	}
	if assignee != "" {
		row["assignee"] = assignee
	}
	if dueDate != "" {
		row["due_date"] = dueDate
	}

	if _, err := ec.Store.Insert(ctx, "tasks", row); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if out := stringParam(node, "outputVariable", nil); out != "" {
		ec.Variables[out] = taskID
	}

	return map[string]any{
		"taskId":      taskID,
		"description": description,
		"assignee":    assignee,
		"dueDate":     dueDate,
	}, nil
}

// DynamicLinkHandler handles the "dynamicLink" node type. It creates a share link and
// writes its URL into an output variable for later nodes.
type DynamicLinkHandler struct {
	links         LinkCreator
	defaultExpiry int
}

const defaultLinkVariable = "linkUrl"

func (h *DynamicLinkHandler) Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	linkType, err := requireString(node, "linkType", ec.Variables)
	if err != nil {
		return nil, err
	}
	title, err := requireString(node, "title", ec.Variables)
	if err != nil {
		return nil, err
	}

	resourceID := stringParam(node, "resourceId", ec.Variables)
	if name, _ := node.Data["resourceIdVariable"].(string); name != "" {
		if v, ok := lookupPath(ec.Variables, name); ok && v != nil {
			resourceID = stringify(v)
		}
	}

	expires := h.defaultExpiry
	if raw, ok := node.Data["expiresInDays"]; ok {
		n, ok := toFloat64(raw)
		if !ok || n < 0 {
			return nil, errInvalid(node.ID, "expiresInDays", "must be a non-negative number")
		}
		expires = int(n)
	}

	output := stringParam(node, "outputVariable", nil)
	if output == "" {
		output = defaultLinkVariable
	}

	if h.links == nil {
		return nil, errors.New("no link service configured")
	}
	link, err := h.links.Create(ctx, links.CreateRequest{
		LinkType:      linkType,
		ResourceID:    resourceID,
		Title:         title,
		Description:   stringParam(node, "description", ec.Variables),
		ExpiresInDays: expires,
		Password:      stringParam(node, "password", ec.Variables),
		CreatedBy:     "workflow:" + ec.WorkflowID,
		Metadata: map[string]any{
			"workflowId":  ec.WorkflowID,
			"executionId": ec.ExecutionID,
			"nodeId":      node.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create dynamic link: %w", err)
	}

	ec.Variables[output] = link.URL

	result := map[string]any{
		"url":      link.URL,
		"token":    link.Token,
		"linkType": link.LinkType,
		"variable": output,
	}
	if link.ExpiresAt != nil {
		result["expiresAt"] = link.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return result, nil
}

// AIAnalysisHandler handles the "aiAnalysis" node type. It sends the prompt and the
// input data to the AI analysis collaborator and returns whatever it answers.
type AIAnalysisHandler struct {
	analyzer Analyzer
	now      func() time.Time
}

func (h *AIAnalysisHandler) Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	input, err := analysisInput(node, ec.Variables)
	if err != nil {
		return nil, err
	}
	prompt, err := requireString(node, "prompt", ec.Variables)
	if err != nil {
		return nil, err
	}

	if h.analyzer == nil {
		return nil, errors.New("no AI analyzer configured")
	}
	result, err := h.analyzer.Analyze(ctx, composeAnalysisMessage(prompt, input))
	if err != nil {
		return nil, fmt.Errorf("AI analysis: %w", err)
	}

	if out := stringParam(node, "outputVariable", nil); out != "" {
		ec.Variables[out] = result
	}

	return map[string]any{
		"result":     result,
		"prompt":     prompt,
		"analyzedAt": h.now().UTC().Format(time.RFC3339),
	}, nil
}

// analysisInput interpolates inputData and decodes it when it looks like JSON.
func analysisInput(node Node, variables map[string]any) (any, error) {
	raw, ok := node.Data["inputData"]
	if !ok || raw == nil {
		return nil, errMissing(node.ID, "inputData")
	}
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}

	s = strings.TrimSpace(Interpolate(s, variables))
	if s == "" {
		return nil, errMissing(node.ID, "inputData")
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded, nil
		}
	}
	return s, nil
}

func composeAnalysisMessage(prompt string, input any) string {
	data, ok := input.(string)
	if !ok {
		b, err := json.MarshalIndent(input, "", "  ")
		if err != nil {
			data = fmt.Sprint(input)
		} else {
			data = string(b)
		}
	}
	return prompt + "\n\nAnalyze the following data. Respond with JSON when the answer is structured.\n\nData:\n" + data
}

// WebhookHandler handles the "webhook" node type: it hands the node to an HTTP backend.
type WebhookHandler struct {
	bridge BridgeCaller
}

func (h *WebhookHandler) Execute(ctx context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	if h.bridge == nil {
		return nil, errors.New("no webhook bridge configured")
	}

	resp, err := h.bridge.Call(ctx, stringParam(node, "url", ec.Variables), BridgeRequest{
		NodeID:      node.ID,
		NodeData:    interpolateData(node.Data, ec.Variables),
		WorkflowID:  ec.WorkflowID,
		ExecutionID: ec.ExecutionID,
		Variables:   ec.Variables,
	})
	if err != nil {
		return nil, err
	}

	if out := stringParam(node, "outputVariable", nil); out != "" {
		ec.Variables[out] = resp.Body
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"response":   resp.Body,
	}, nil
}

// interpolateData returns a copy of data with top-level string values interpolated.
func interpolateData(data map[string]any, variables map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = Interpolate(s, variables)
			continue
		}
		out[k] = v
	}
	return out
}

// toFloat64 converts an any value to float64, handling json.Number, numeric types and numeric strings.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
