package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"crm-automation/api/pkg/db"
)

var workflowColumns = []string{"id", "name", "description", "definition", "is_active", "created_at", "updated_at"}

// workflowRow is a workflows table row; the graph lives in the definition document.
type workflowRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Definition  []byte    `db:"definition"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r workflowRow) toWorkflow() (*Workflow, error) {
	var def Definition
	if len(r.Definition) > 0 {
		if err := json.Unmarshal(r.Definition, &def); err != nil {
			return nil, fmt.Errorf("unmarshal definition of workflow %s: %w", r.ID, err)
		}
	}
	return &Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Nodes:       def.Nodes,
		Connections: def.Connections,
		Triggers:    def.Triggers,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// Repository handles workflow persistence in PostgreSQL.
type Repository struct {
	db  db.DB
	now func() time.Time
}

// NewRepository creates a new Repository backed by the given connection.
func NewRepository(conn db.DB) *Repository {
	return &Repository{db: conn, now: time.Now}
}

// Get retrieves a workflow by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	query, args, err := squirrel.Select(workflowColumns...).
		From("workflows").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var row workflowRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return row.toWorkflow()
}

// ListActive returns every active workflow, oldest first.
func (r *Repository) ListActive(ctx context.Context) ([]*Workflow, error) {
	query, args, err := squirrel.Select(workflowColumns...).
		From("workflows").
		Where(squirrel.Eq{"is_active": true}).
		OrderBy("created_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var rows []workflowRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	workflows := make([]*Workflow, 0, len(rows))
	for _, row := range rows {
		wf, err := row.toWorkflow()
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// UpdateTriggers replaces the triggers inside the stored definition, leaving nodes and connections untouched.
func (r *Repository) UpdateTriggers(ctx context.Context, workflowID string, triggers []Trigger) error {
	if triggers == nil {
		triggers = []Trigger{}
	}
	raw, err := json.Marshal(triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}

	query, args, err := squirrel.Update("workflows").
		Set("definition", squirrel.Expr("jsonb_set(definition, '{triggers}', ?::jsonb)", string(raw))).
		Set("updated_at", r.now().UTC()).
		Where(squirrel.Eq{"id": workflowID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update triggers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update triggers of workflow %s: %w", workflowID, db.ErrNotFound)
	}
	return nil
}

// Create inserts wf unless a workflow with the same id exists.
func (r *Repository) Create(ctx context.Context, wf *Workflow) error {
	def, err := json.Marshal(Definition{Nodes: wf.Nodes, Connections: wf.Connections, Triggers: wf.Triggers})
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	now := r.now().UTC()
	query, args, err := squirrel.Insert("workflows").
		Columns(workflowColumns...).
		Values(wf.ID, wf.Name, wf.Description, string(def), wf.IsActive, now, now).
		Suffix("ON CONFLICT (id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// Seed inserts the sample lead follow-up workflow if it does not already exist.
func (r *Repository) Seed(ctx context.Context) error {
	if err := r.Create(ctx, SampleWorkflow()); err != nil {
		return fmt.Errorf("seed workflow: %w", err)
	}
	return nil
}

const sampleWorkflowID = "550e8400-e29b-41d4-a716-446655440000"

// SampleWorkflow is a lead follow-up automation: on a new high-value lead it shares a
// proposal link with the owner, otherwise it files a nurture task.
func SampleWorkflow() *Workflow {
	return &Workflow{
		ID:          sampleWorkflowID,
		Name:        "Lead Follow-up",
		Description: "Routes new leads by deal value",
		IsActive:    true,
		Nodes: []Node{
			{ID: "start", Type: "start", Position: Position{X: 0, Y: 200}},
			{
				ID: "check-value", Type: "dataCondition",
				Position: Position{X: 240, Y: 200},
				Data: map[string]any{
					"field":    "lead.value",
					"operator": "greaterThanOrEqual",
					"value":    10000,
				},
				Outputs: []Port{{ID: "true", Label: "High value"}, {ID: "false", Label: "Standard"}},
			},
			{
				ID: "proposal-link", Type: "dynamicLink",
				Position: Position{X: 480, Y: 80},
				Data: map[string]any{
					"linkType":           "proposal",
					"title":              "Proposal for {{lead.company}}",
					"resourceIdVariable": "lead.id",
					"expiresInDays":      14,
					"outputVariable":     "proposalUrl",
				},
			},
			{
				ID: "notify-owner", Type: "email",
				Position: Position{X: 720, Y: 80},
				Data: map[string]any{
					"recipient": "{{lead.ownerEmail}}",
					"subject":   "High-value lead: {{lead.company}}",
					"body":      "{{lead.name}} from {{lead.company}} is worth {{lead.value}}. Proposal: {{proposalUrl}}",
				},
			},
			{
				ID: "nurture-task", Type: "createTask",
				Position: Position{X: 480, Y: 320},
				Data: map[string]any{
					"description": "Add {{lead.name}} ({{lead.company}}) to the nurture sequence",
					"assignee":    "{{lead.ownerEmail}}",
				},
			},
			{ID: "end", Type: "end", Position: Position{X: 960, Y: 200}},
		},
		Connections: []Connection{
			{ID: "c1", Source: "start", Target: "check-value"},
			{ID: "c2", Source: "check-value", SourceOutput: "true", Target: "proposal-link"},
			{ID: "c3", Source: "check-value", SourceOutput: "false", Target: "nurture-task"},
			{ID: "c4", Source: "proposal-link", Target: "notify-owner"},
			{ID: "c5", Source: "notify-owner", Target: "end"},
			{ID: "c6", Source: "nurture-task", Target: "end"},
		},
		Triggers: []Trigger{
			{ID: "lead-created", Type: TriggerEvent, EventType: "lead.created"},
		},
	}
}
