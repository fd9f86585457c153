package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRepo implements the Get method for testing without a database.
type stubRepo struct {
	workflow *Workflow
	err      error
}

func (r *stubRepo) Get(_ context.Context, _ string) (*Workflow, error) {
	return r.workflow, r.err
}

type testDeps struct {
	mailer   *fakeMailer
	store    *fakeStore
	triggers *fakeTriggerRepo
}

func newTestService(wf *Workflow) (*Service, *testDeps) {
	deps := &testDeps{mailer: &fakeMailer{}, store: &fakeStore{}, triggers: &fakeTriggerRepo{}}
	if wf != nil {
		deps.triggers.workflows = []*Workflow{wf}
	}
	engine := NewEngine(NewDefaultRegistry(Dependencies{Mailer: deps.mailer, Now: fixedClock}), WithStore(deps.store))
	evaluator := NewTriggerEvaluator(deps.triggers, engine, 2)
	evaluator.now = fixedClock
	return NewService(&stubRepo{workflow: wf}, engine, evaluator), deps
}

func setupRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func serve(router http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body["message"]
}

const testWorkflowPath = "/api/v1/workflows/550e8400-e29b-41d4-a716-446655440000"

func TestHandleGetWorkflow_Success(t *testing.T) {
	svc, _ := newTestService(testWorkflow())

	w := serve(setupRouter(svc), "GET", testWorkflowPath, nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result Workflow
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", result.ID)
	assert.Len(t, result.Nodes, 5)
	assert.Len(t, result.Connections, 5)
}

func TestHandleGetWorkflow_NotFound(t *testing.T) {
	svc, _ := newTestService(nil)

	w := serve(setupRouter(svc), "GET", testWorkflowPath, nil, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "workflow not found", decodeMessage(t, w))
}

func TestHandleGetWorkflow_InvalidID(t *testing.T) {
	svc, _ := newTestService(testWorkflow())

	w := serve(setupRouter(svc), "GET", "/api/v1/workflows/not-a-uuid", nil, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid workflow id", decodeMessage(t, w))
}

func TestHandleGetWorkflow_RepoError(t *testing.T) {
	svc := NewService(&stubRepo{err: errors.New("connection refused")}, nil, nil)

	w := serve(setupRouter(svc), "GET", testWorkflowPath, nil, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeMessage(t, w))
}

func TestHandleExecuteWorkflow_Success(t *testing.T) {
	svc, deps := newTestService(testWorkflow())
	body, _ := json.Marshal(ExecuteRequest{Variables: orderVariables(250)})

	w := serve(setupRouter(svc), "POST", testWorkflowPath+"/execute", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var result ExecutionResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, []string{"start", "big-order", "thank-you", "end"}, stepIDs(result.Steps))
	assert.Len(t, deps.mailer.sent, 1)
}

func TestHandleExecuteWorkflow_FailedRunStillReturnsResult(t *testing.T) {
	svc, _ := newTestService(testWorkflow())
	svc.runner = NewEngine(NewDefaultRegistry(Dependencies{Mailer: &fakeMailer{err: errors.New("relay down")}, Now: fixedClock}))
	body, _ := json.Marshal(ExecuteRequest{Variables: orderVariables(250)})

	w := serve(setupRouter(svc), "POST", testWorkflowPath+"/execute", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var result ExecutionResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.Equal(t, "failed", result.Status)
	assert.Contains(t, result.Error, "relay down")
}

func TestHandleExecuteWorkflow_EmptyBody(t *testing.T) {
	svc, _ := newTestService(&Workflow{ID: "wf", Nodes: []Node{{ID: "start", Type: "start"}}})

	w := serve(setupRouter(svc), "POST", testWorkflowPath+"/execute", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleExecuteWorkflow_NotFound(t *testing.T) {
	svc, _ := newTestService(nil)

	w := serve(setupRouter(svc), "POST", testWorkflowPath+"/execute", []byte(`{"variables":{}}`), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "workflow not found", decodeMessage(t, w))
}

func TestHandleExecuteWorkflow_InvalidJSON(t *testing.T) {
	svc, _ := newTestService(testWorkflow())

	w := serve(setupRouter(svc), "POST", testWorkflowPath+"/execute", []byte(`{invalid`), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decodeMessage(t, w))
}

func TestHandleExecuteWorkflow_InvalidID(t *testing.T) {
	svc, _ := newTestService(testWorkflow())

	w := serve(setupRouter(svc), "POST", "/api/v1/workflows/123/execute", []byte(`{}`), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEventRoute(t *testing.T) {
	wf := testWorkflow()
	wf.Triggers = []Trigger{{Type: TriggerEvent, EventType: "order.placed"}}
	svc, deps := newTestService(wf)
	body, _ := json.Marshal(EventRequest{EventType: "order.placed", EventData: orderVariables(20)})

	w := serve(setupRouter(svc), "POST", "/api/v1/events", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Executions []ExecutionResult `json:"executions"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Executions, 1)
	assert.True(t, resp.Executions[0].Success)
	assert.Len(t, deps.store.insertsInto("tasks"), 1)
}

func TestHandleEventRoute_Validation(t *testing.T) {
	svc, _ := newTestService(nil)
	router := setupRouter(svc)

	w := serve(router, "POST", "/api/v1/events", []byte(`{"eventData":{}}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "eventType is required", decodeMessage(t, w))

	w = serve(router, "POST", "/api/v1/events", []byte(`[`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEventRoute_NoMatch(t *testing.T) {
	svc, _ := newTestService(testWorkflow())

	w := serve(setupRouter(svc), "POST", "/api/v1/events", []byte(`{"eventType":"lead.lost"}`), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"executions":[]}`, w.Body.String())
}

func TestHandleTick(t *testing.T) {
	wf := &Workflow{
		ID:       "scheduled",
		Nodes:    []Node{{ID: "start", Type: "start"}},
		Triggers: []Trigger{{ID: "t1", Type: TriggerSchedule, Cron: "daily"}},
	}
	svc, deps := newTestService(wf)

	w := serve(setupRouter(svc), "POST", "/api/v1/triggers/tick", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, deps.triggers.updated, "scheduled")
	assert.True(t, deps.triggers.updated["scheduled"][0].LastExecuted.Equal(fixedNow))
}

func TestHandleTick_ListFailure(t *testing.T) {
	svc, deps := newTestService(nil)
	deps.triggers.listErr = errors.New("db down")

	w := serve(setupRouter(svc), "POST", "/api/v1/triggers/tick", nil, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleWebhookRoute(t *testing.T) {
	wf := &Workflow{
		ID:       "hooked",
		Nodes:    []Node{{ID: "start", Type: "start"}},
		Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "signup", Secret: "s3cret"}},
	}
	svc, _ := newTestService(wf)
	router := setupRouter(svc)

	w := serve(router, "POST", "/api/v1/hooks/signup", []byte(`{"email":"a@example.com"}`), map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, "POST", "/api/v1/hooks/signup", nil, map[string]string{"X-Webhook-Secret": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid webhook secret", decodeMessage(t, w))

	w = serve(router, "POST", "/api/v1/hooks/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, "POST", "/api/v1/hooks/signup", []byte(`"text"`), map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhookRoute_SharedEndpoint(t *testing.T) {
	svc, _ := newTestService(nil)
	svc.triggers = NewTriggerEvaluator(&fakeTriggerRepo{workflows: []*Workflow{
		{ID: "a", Nodes: []Node{{ID: "start", Type: "start"}}, Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "hook", Secret: "s1"}}},
		{ID: "b", Nodes: []Node{{ID: "start", Type: "start"}}, Triggers: []Trigger{{Type: TriggerWebhook, Endpoint: "hook", Secret: "s2"}}},
	}}, svc.runner, 2)
	router := setupRouter(svc)

	w := serve(router, "POST", "/api/v1/hooks/hook", nil, map[string]string{"X-Webhook-Secret": "s2"})
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Executions []ExecutionResult `json:"executions"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Executions, 1)
	assert.Equal(t, "b", resp.Executions[0].WorkflowID)

	w = serve(router, "POST", "/api/v1/hooks/hook", nil, map[string]string{"X-Webhook-Secret": "s9"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
