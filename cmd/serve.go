package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/monitoring"
	"github.com/sells-group/formflow/internal/registry"
	"github.com/sells-group/formflow/internal/resilience"
	"github.com/sells-group/formflow/internal/store"
	"github.com/sells-group/formflow/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for sessions, review, and document runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitor.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitor),
				cfg.Monitor,
			)
			go checker.Run(ctx)
		}

		router := buildRouter(ctx, env, cfg.Server.AllowedOrigins)
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value and falls back to the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// api serves the HTTP surface. Runs started without ?wait=true continue on
// ctx after the request returns.
type api struct {
	ctx       context.Context
	env       *appEnv
	collector *monitoring.Collector
}

// buildRouter wires every route onto a chi router. env's Machine and Runner
// may be nil, in which case the routes that need them answer 503.
func buildRouter(ctx context.Context, env *appEnv, allowedOrigins []string) http.Handler {
	a := &api{ctx: ctx, env: env, collector: monitoring.NewCollector(env.Store)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Get("/stats", a.stats)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.startSession)
		r.Get("/", a.listSessions)
		r.Get("/{id}", a.getSession)
		r.Post("/{id}/review", a.reviewSession)
		r.Post("/{id}/continue", a.continueSession)
	})

	r.Route("/plans/{task}", func(r chi.Router) {
		r.Get("/", a.getPlan)
		r.Get("/runs", a.listRuns)
		r.Post("/runs", a.startRun)
	})

	r.Get("/runs/{id}", a.getRun)

	return r
}

// sessionResponse pairs a session with the operator summary.
type sessionResponse struct {
	State   *model.WorkflowState `json:"state"`
	Summary string               `json:"summary"`
}

// healthResponse reports liveness plus the state of each remote service's
// circuit breaker. Status is "degraded" while any breaker is open.
type healthResponse struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.env.Breakers != nil {
		resp.Breakers = make(map[string]string)
		for service, st := range a.env.Breakers.States() {
			resp.Breakers[service] = st.String()
			if st == resilience.CircuitOpen {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// stats reports run and session health over ?hours= (default 24).
func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r.URL.Query().Get("hours"))
	if hours <= 0 {
		hours = 24
	}
	snap, err := a.collector.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) startSession(w http.ResponseWriter, r *http.Request) {
	if a.env.Machine == nil {
		writeMessage(w, http.StatusServiceUnavailable, "decomposition is not configured")
		return
	}

	var req struct {
		SessionID string     `json:"session_id"`
		Form      model.Form `json:"form"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	registry.NormalizeForm(&req.Form)
	if err := registry.ValidateForm(&req.Form); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	// A client disconnect must not strand the session mid-transition.
	state, err := a.env.Machine.Start(context.WithoutCancel(r.Context()), req.SessionID, req.Form)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{State: state, Summary: workflow.Summary(state)})
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := a.env.Store.ListSessions(r.Context(), store.SessionFilter{
		Status: model.WorkflowStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []model.WorkflowState{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	state, err := a.env.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: state, Summary: workflow.Summary(state)})
}

func (a *api) reviewSession(w http.ResponseWriter, r *http.Request) {
	if a.env.Machine == nil {
		writeMessage(w, http.StatusServiceUnavailable, "decomposition is not configured")
		return
	}

	var d workflow.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := a.env.Machine.Resume(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: state, Summary: workflow.Summary(state)})
}

// continueSession re-runs a session left in progress by an interrupted
// start or review, for example after a server restart.
func (a *api) continueSession(w http.ResponseWriter, r *http.Request) {
	if a.env.Machine == nil {
		writeMessage(w, http.StatusServiceUnavailable, "decomposition is not configured")
		return
	}

	state, err := a.env.Machine.Continue(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: state, Summary: workflow.Summary(state)})
}

func (a *api) getPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := a.env.Store.GetPlan(r.Context(), chi.URLParam(r, "task"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := a.env.Store.ListRuns(r.Context(), store.RunFilter{
		TaskName: chi.URLParam(r, "task"),
		Status:   model.RunStatus(q.Get("status")),
		Limit:    queryInt(q.Get("limit")),
		Offset:   queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// startRun executes a stored plan against the posted document. With
// ?wait=true the response carries the completed run; otherwise the run is
// accepted and continues in the background.
func (a *api) startRun(w http.ResponseWriter, r *http.Request) {
	if a.env.Runner == nil {
		writeMessage(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}

	var doc model.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if doc.ID == "" {
		writeMessage(w, http.StatusBadRequest, "id is required")
		return
	}

	plan, err := a.env.Store.GetPlan(r.Context(), chi.URLParam(r, "task"))
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := a.env.Store.CreateRun(r.Context(), plan.TaskName, doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		completed, err := finishRun(r.Context(), a.env.Store, a.env.Runner, plan, doc, run.ID)
		if completed == nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, completed)
		return
	}

	go func() {
		completed, err := finishRun(a.ctx, a.env.Store, a.env.Runner, plan, doc, run.ID)
		if err != nil {
			zap.L().Error("serve: run failed",
				zap.String("run", run.ID),
				zap.String("task", plan.TaskName),
				zap.String("document", doc.ID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("serve: run complete",
			zap.String("run", run.ID),
			zap.String("status", string(completed.Status)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": run.ID,
	})
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrSessionExists), errors.Is(err, workflow.ErrNotAwaitingReview),
		errors.Is(err, workflow.ErrNotContinuable):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrFeedbackRequired):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("serve: request failed", zap.Error(err))
	}
	writeMessage(w, status, err.Error())
}

func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
