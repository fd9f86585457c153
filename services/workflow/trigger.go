package workflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// TriggerRepo is the workflow persistence the trigger evaluator needs.
type TriggerRepo interface {
	ListActive(ctx context.Context) ([]*Workflow, error)
	UpdateTriggers(ctx context.Context, workflowID string, triggers []Trigger) error
}

// Runner executes a workflow. *Engine implements it.
type Runner interface {
	Execute(ctx context.Context, wf *Workflow, variables map[string]any) (*ExecutionResult, error)
}

// ErrUnauthorizedWebhook is returned when a webhook call carries the wrong secret.
var ErrUnauthorizedWebhook = errors.New("webhook secret mismatch")

// TriggerEvaluator decides which workflows to launch for schedule ticks, business
// events and inbound webhooks, and supplies their initial variables.
type TriggerEvaluator struct {
	repo        TriggerRepo
	runner      Runner
	concurrency int
	now         func() time.Time
}

func NewTriggerEvaluator(repo TriggerRepo, runner Runner, concurrency int) *TriggerEvaluator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TriggerEvaluator{repo: repo, runner: runner, concurrency: concurrency, now: time.Now}
}

// scheduleAliases maps bare schedule words to cron descriptors.
var scheduleAliases = map[string]string{
	"hourly":  "@hourly",
	"daily":   "@daily",
	"weekly":  "@weekly",
	"monthly": "@monthly",
	"yearly":  "@yearly",
}

// ShouldFire reports whether a schedule trigger is due at now. A trigger that never ran
// is due. With a cron expression it is due once the first activation after lastExecuted
// has passed; without one it is due when at least an hour has passed.
func ShouldFire(t Trigger, now time.Time) (bool, error) {
	if t.LastExecuted == nil {
		return true, nil
	}
	last := *t.LastExecuted

	spec := strings.TrimSpace(t.Cron)
	if alias, ok := scheduleAliases[strings.ToLower(spec)]; ok {
		spec = alias
	}
	if spec == "" {
		return now.Sub(last) >= time.Hour, nil
	}

	loc := time.UTC
	if t.Timezone != "" {
		l, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid timezone %q: %w", t.Timezone, err)
		}
		loc = l
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return false, fmt.Errorf("invalid cron %q: %w", t.Cron, err)
	}
	return !sched.Next(last.In(loc)).After(now), nil
}

// RunSchedules fires every active workflow that has at least one due schedule trigger,
// then stamps lastExecuted on the due triggers. A workflow runs once per tick however
// many of its triggers are due. Run failures are reported in the results; the returned
// error joins the persistence failures.
func (e *TriggerEvaluator) RunSchedules(ctx context.Context) ([]*ExecutionResult, error) {
	workflows, err := e.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	now := e.now()
	var (
		mu      sync.Mutex
		results []*ExecutionResult
		errs    []error
	)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, wf := range workflows {
		due := dueSchedules(wf, now)
		if len(due) == 0 {
			continue
		}

		g.Go(func() error {
			result, err := e.runner.Execute(ctx, wf, map[string]any{
				"triggerType": string(TriggerSchedule),
				"triggeredAt": now.UTC().Format(time.RFC3339),
			})

			triggers := make([]Trigger, len(wf.Triggers))
			copy(triggers, wf.Triggers)
			stamp := now.UTC()
			for _, i := range due {
				triggers[i].LastExecuted = &stamp
			}
			updateErr := e.repo.UpdateTriggers(ctx, wf.ID, triggers)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("run workflow %s: %w", wf.ID, err))
			}
			if result != nil {
				results = append(results, result)
			}
			if updateErr != nil {
				errs = append(errs, fmt.Errorf("update triggers of workflow %s: %w", wf.ID, updateErr))
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("Schedule tick evaluated", "workflows", len(workflows), "fired", len(results))
	return results, errors.Join(errs...)
}

// dueSchedules returns the indexes of wf's schedule triggers that are due at now.
// Unparseable schedules are logged and skipped.
func dueSchedules(wf *Workflow, now time.Time) []int {
	var due []int
	for i, t := range wf.Triggers {
		if t.Type != TriggerSchedule {
			continue
		}
		fire, err := ShouldFire(t, now)
		if err != nil {
			slog.Warn("Skipping schedule trigger", "workflow_id", wf.ID, "trigger_id", t.ID, "error", err)
			continue
		}
		if fire {
			due = append(due, i)
		}
	}
	return due
}

// HandleEvent launches every active workflow with an event trigger matching eventType
// whose conditions all hold against eventData.
func (e *TriggerEvaluator) HandleEvent(ctx context.Context, eventType string, eventData map[string]any) ([]*ExecutionResult, error) {
	workflows, err := e.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	var matched []*Workflow
	for _, wf := range workflows {
		for _, t := range wf.Triggers {
			if t.Type == TriggerEvent && t.EventType == eventType && conditionsHold(t.Conditions, eventData) {
				matched = append(matched, wf)
				break
			}
		}
	}

	slog.Info("Event evaluated", "event_type", eventType, "matched", len(matched))
	return e.runAll(ctx, matched, func() map[string]any { return eventVariables(eventType, eventData) })
}

// HandleWebhook launches every active workflow with a webhook trigger on endpoint whose
// secret, if set, equals secret. Workflows with a different secret are skipped; when some
// workflow listens on endpoint but none accepts the secret, ErrUnauthorizedWebhook is returned.
func (e *TriggerEvaluator) HandleWebhook(ctx context.Context, endpoint, secret string, payload map[string]any) ([]*ExecutionResult, error) {
	workflows, err := e.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	var (
		matched   []*Workflow
		listening bool
	)
	for _, wf := range workflows {
		for _, t := range wf.Triggers {
			if t.Type != TriggerWebhook || t.Endpoint != endpoint {
				continue
			}
			listening = true
			if t.Secret != "" && subtle.ConstantTimeCompare([]byte(t.Secret), []byte(secret)) != 1 {
				continue
			}
			matched = append(matched, wf)
			break
		}
	}
	if listening && len(matched) == 0 {
		return nil, ErrUnauthorizedWebhook
	}

	return e.runAll(ctx, matched, func() map[string]any {
		vars := make(map[string]any, len(payload)+2)
		for k, v := range payload {
			vars[k] = v
		}
		vars["triggerType"] = string(TriggerWebhook)
		vars["endpoint"] = endpoint
		return vars
	})
}

// runAll executes workflows with bounded concurrency, each with a fresh variable map.
func (e *TriggerEvaluator) runAll(ctx context.Context, workflows []*Workflow, variables func() map[string]any) ([]*ExecutionResult, error) {
	results := make([]*ExecutionResult, len(workflows))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, wf := range workflows {
		g.Go(func() error {
			result, err := e.runner.Execute(ctx, wf, variables())
			if err != nil {
				return fmt.Errorf("run workflow %s: %w", wf.ID, err)
			}
			results[i] = result
			return nil
		})
	}
	err := g.Wait()

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, err
}

// conditionsHold reports whether every path in conditions resolves in data to an equal value.
func conditionsHold(conditions map[string]any, data map[string]any) bool {
	for path, expected := range conditions {
		actual, ok := lookupPath(data, path)
		if !ok || !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}

// eventVariables copies eventData and adds eventType unless the payload carries one.
func eventVariables(eventType string, eventData map[string]any) map[string]any {
	vars := make(map[string]any, len(eventData)+1)
	for k, v := range eventData {
		vars[k] = v
	}
	if _, ok := vars["eventType"]; !ok {
		vars["eventType"] = eventType
	}
	return vars
}
