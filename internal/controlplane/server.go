package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/weft-dev/weft/internal/models"
	"github.com/weft-dev/weft/internal/queue"
)

// Server provides the HTTP API for Weft.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Handler returns the configured route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Lock endpoints
	mux.HandleFunc("/locks", s.handleLocks)
	mux.HandleFunc("/locks/release", s.handleLockRelease)

	// Context endpoints
	mux.HandleFunc("/contexts", s.handleContexts)
	mux.HandleFunc("/contexts/", s.handleContextByID)

	// Event log
	mux.HandleFunc("/events", s.handleEvents)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting Weft daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleLocks handles POST /locks and GET /locks
func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.acquireLock(w, r)
	case http.MethodGet:
		s.listLocks(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLockRelease handles POST /locks/release
func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.releaseLock(w, r)
}

// handleContexts handles POST /contexts and GET /contexts
func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createContext(w, r)
	case http.MethodGet:
		s.listContexts(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleContextByID handles /contexts/{id}, /contexts/{id}/events, and
// /contexts/{id}/actions
func (s *Server) handleContextByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/contexts/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "context id required", http.StatusBadRequest)
		return
	}

	contextID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getContext(w, r, contextID)
	case action == "events" && r.Method == http.MethodGet:
		s.listContextEvents(w, r, contextID)
	case action == "actions" && r.Method == http.MethodPost:
		s.submitAction(w, r, contextID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleEvents handles GET /events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.listEvents(w, r, r.URL.Query().Get("context_id"))
}

// --- Lock Handlers ---

type acquireLockRequest struct {
	Scope     string `json:"scope"`
	ScopeKind string `json:"scope_kind"`
	Mode      string `json:"mode"`
	ContextID string `json:"context_id"`
	Recursive bool   `json:"recursive"`
}

func (s *Server) acquireLock(w http.ResponseWriter, r *http.Request) {
	var req acquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	lock, err := s.service.AcquireLock(req.Scope, models.LockScopeKind(req.ScopeKind), models.LockMode(req.Mode), req.ContextID, req.Recursive)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidScope) || errors.Is(err, ErrInvalidMode) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(lock)
}

type releaseLockRequest struct {
	Scope     string `json:"scope"`
	ContextID string `json:"context_id"`
}

func (s *Server) releaseLock(w http.ResponseWriter, r *http.Request) {
	var req releaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.service.ReleaseLock(req.Scope, req.ContextID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrLockNotHeld):
			status = http.StatusForbidden
		case errors.Is(err, ErrInvalidScope):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"released"}`))
}

func (s *Server) listLocks(w http.ResponseWriter, r *http.Request) {
	locks := s.service.ListLocks(r.URL.Query().Get("context_id"))
	if locks == nil {
		locks = []models.Lock{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(locks)
}

// --- Context Handlers ---

type createContextRequest struct {
	Workspace string `json:"workspace"`
}

func (s *Server) createContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ec, err := s.service.CreateContext(req.Workspace)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ec)
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request, contextID string) {
	ec, err := s.service.GetContext(contextID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "context not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ec)
}

func (s *Server) listContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := s.service.ListContexts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if contexts == nil {
		contexts = []models.ExecutionContext{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contexts)
}

// --- Action Handlers ---

type submitActionRequest struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Command string `json:"command,omitempty"`
}

type actionResponse struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) submitAction(w http.ResponseWriter, r *http.Request, contextID string) {
	var req submitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	result, err := s.service.SubmitAction(r.Context(), contextID, models.Action{
		Kind:    models.ActionKind(req.Kind),
		Path:    req.Path,
		Content: req.Content,
		Command: req.Command,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrInvalidAction):
			status = http.StatusBadRequest
		case errors.Is(err, queue.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	resp := actionResponse{
		ActionID: result.Action.ID,
		Status:   string(result.Status),
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Event Handlers ---

func (s *Server) listContextEvents(w http.ResponseWriter, r *http.Request, contextID string) {
	s.listEvents(w, r, contextID)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, contextID string) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.service.ListEvents(contextID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.ActionEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
