package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nidhogg/overseer/internal/checkpoint"
	"github.com/nidhogg/overseer/internal/orchestrator"
	"github.com/nidhogg/overseer/internal/plan"
	"go.uber.org/zap"
)

// runHandle tracks an in-flight or recently finished run and its
// cancellation handle.
type runHandle struct {
	ID        string
	cancel    context.CancelFunc
	mu        sync.Mutex
	result    *orchestrator.Result
	startedAt time.Time
}

func (h *runHandle) setResult(res *orchestrator.Result) {
	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
}

func (h *runHandle) getResult() *orchestrator.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	planner     orchestrator.Planner
	engine      *orchestrator.Engine
	checkpoints *checkpoint.Store
	logger      *zap.Logger
	mu          sync.RWMutex
	runs        map[string]*runHandle
}

// NewHandler creates a new API handler. The checkpoint store may be nil.
func NewHandler(planner orchestrator.Planner, engine *orchestrator.Engine, cps *checkpoint.Store, logger *zap.Logger) *Handler {
	return &Handler{
		planner:     planner,
		engine:      engine,
		checkpoints: cps,
		logger:      logger,
		runs:        make(map[string]*runHandle),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/runs", h.listRuns)
		r.Post("/runs", h.startRun)
		r.Get("/runs/{id}", h.getRun)
		r.Post("/runs/{id}/cancel", h.cancelRun)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startRunRequest starts a run either from a conversation (planned by
// the planner capability) or from explicit tasks.
type startRunRequest struct {
	Conversation string      `json:"conversation,omitempty"`
	Tasks        []plan.Task `json:"tasks,omitempty"`
}

type startRunResponse struct {
	RunID string      `json:"run_id"`
	Tasks []plan.Task `json:"tasks"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	tasks := req.Tasks
	if len(tasks) == 0 {
		if req.Conversation == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation or tasks required"})
			return
		}
		if h.planner == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "planner not configured"})
			return
		}
		planned, err := h.planner.Plan(r.Context(), req.Conversation)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		tasks = planned
	}

	compiled, err := plan.Compile(tasks)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, plan.ErrInvalidPlan) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	runID := uuid.New().String()
	handle := h.launch(runID, compiled)

	h.logger.Info("run started",
		zap.String("run", runID),
		zap.Int("tasks", compiled.Len()))
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: handle.ID, Tasks: compiled.Tasks()})
}

// launch registers a handle and drives the run in the background. The
// run context is detached from the HTTP request: callers poll the run
// or cancel it explicitly.
func (h *Handler) launch(runID string, compiled *plan.Plan) *runHandle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{ID: runID, cancel: cancel, startedAt: time.Now()}

	h.mu.Lock()
	h.runs[runID] = handle
	h.mu.Unlock()

	go func() {
		defer cancel()
		res, err := h.engine.Run(ctx, runID, compiled)
		if err != nil {
			h.logger.Error("run aborted", zap.String("run", runID), zap.Error(err))
			res = &orchestrator.Result{
				RunID:    runID,
				State:    orchestrator.RunFailed,
				Critique: err.Error(),
			}
		}
		handle.setResult(res)
	}()

	return handle
}

type runStatusResponse struct {
	RunID  string                `json:"run_id"`
	State  orchestrator.RunState `json:"state"`
	Result *orchestrator.Result  `json:"result,omitempty"`
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	handle, ok := h.runs[id]
	h.mu.RUnlock()

	if ok {
		if res := handle.getResult(); res != nil {
			writeJSON(w, http.StatusOK, runStatusResponse{RunID: id, State: res.State, Result: res})
			return
		}
		writeJSON(w, http.StatusOK, runStatusResponse{RunID: id, State: orchestrator.RunRunning})
		return
	}

	// Not in memory: fall back to the checkpoint store for runs from a
	// previous process.
	if h.checkpoints != nil {
		cp, err := h.checkpoints.LoadCheckpoint(r.Context(), id)
		if err == nil {
			resp := runStatusResponse{RunID: id, State: cp.State}
			if cp.State != orchestrator.RunRunning {
				resp.Result = cp.Result()
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	handle, ok := h.runs[id]
	h.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if handle.getResult() != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already finished"})
		return
	}

	handle.cancel()
	h.logger.Info("run cancel requested", zap.String("run", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "canceling"})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints != nil {
		runs, err := h.checkpoints.ListRuns(r.Context(), 50)
		if err == nil {
			writeJSON(w, http.StatusOK, runs)
			return
		}
		h.logger.Warn("listing persisted runs failed", zap.Error(err))
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]runStatusResponse, 0, len(h.runs))
	for id, handle := range h.runs {
		st := orchestrator.RunRunning
		if res := handle.getResult(); res != nil {
			st = res.State
		}
		out = append(out, runStatusResponse{RunID: id, State: st})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
