package workflow

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// HandleGetWorkflow loads a workflow definition from the database and returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wf)
}

// HandleExecuteWorkflow runs a workflow with the variables from the request body
// and returns the execution result. A failed run is still a 200: the result says why.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Executing workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow for execution", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	result, err := s.runner.Execute(r.Context(), wf, req.Variables)
	if err != nil {
		slog.Error("Workflow execution failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// HandleEvent launches the workflows listening for the posted business event.
func (s *Service) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "eventType is required")
		return
	}

	results, err := s.triggers.HandleEvent(r.Context(), req.EventType, req.EventData)
	if err != nil {
		slog.Error("Failed to handle event", "event_type", req.EventType, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeExecutions(w, results)
}

// HandleTick evaluates every schedule trigger once.
func (s *Service) HandleTick(w http.ResponseWriter, r *http.Request) {
	results, err := s.triggers.RunSchedules(r.Context())
	if err != nil {
		if results == nil {
			slog.Error("Schedule tick failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		slog.Warn("Schedule tick completed with errors", "error", err)
	}

	writeExecutions(w, results)
}

// HandleWebhook launches the workflows whose webhook trigger listens on the endpoint.
// The request body, when present, must be a JSON object and becomes the run variables.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]

	var payload map[string]any
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.triggers.HandleWebhook(r.Context(), endpoint, r.Header.Get("X-Webhook-Secret"), payload)
	if errors.Is(err, ErrUnauthorizedWebhook) {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	if err != nil {
		slog.Error("Failed to handle webhook", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "no workflow listens on this endpoint")
		return
	}

	writeExecutions(w, results)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeExecutions(w http.ResponseWriter, results []*ExecutionResult) {
	if results == nil {
		results = []*ExecutionResult{}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"executions": results})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
