package workflow

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
)

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
}

// Service wires together the repository, the execution engine and the trigger evaluator.
type Service struct {
	repo     WorkflowRepo
	runner   Runner
	triggers *TriggerEvaluator
}

// NewService creates a Service. runner is usually an *Engine.
func NewService(repo WorkflowRepo, runner Runner, triggers *TriggerEvaluator) *Service {
	return &Service{repo: repo, runner: runner, triggers: triggers}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow and trigger HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")

	triggers := parentRouter.NewRoute().Subrouter()
	triggers.Use(jsonMiddleware)

	triggers.HandleFunc("/events", s.HandleEvent).Methods("POST")
	triggers.HandleFunc("/triggers/tick", s.HandleTick).Methods("POST")
	triggers.HandleFunc("/hooks/{endpoint}", s.HandleWebhook).Methods("POST")
}
