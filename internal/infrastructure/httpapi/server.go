// Package httpapi serves the event intake and run history over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/plan"
)

const maxBody = 5 << 20

type Dispatcher interface {
	Plans(ev domain.Event) ([]*plan.Plan, error)
	Dispatch(ctx context.Context, ev domain.Event) ([]domain.Run, error)
}

type Server struct {
	log  *zap.Logger
	disp Dispatcher
	runs domain.RunStore

	// base outlives requests; background dispatches stop when it is done.
	base context.Context
	wg   sync.WaitGroup
}

func New(ctx context.Context, l *zap.Logger, disp Dispatcher, runs domain.RunStore) *Server {
	return &Server{log: l, disp: disp, runs: runs, base: ctx}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/events", s.handleEvent)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
	})
	return r
}

// Wait blocks until background dispatches started by POST /events end.
func (s *Server) Wait() { s.wg.Wait() }

type eventResponse struct {
	Event     domain.Event `json:"event"`
	Workflows []string     `json:"workflows"`
	Runs      []domain.Run `json:"runs,omitempty"`
	Errors    []string     `json:"errors,omitempty"`
}

// handleEvent accepts either an event document or, with X-GitHub-Event
// set, a GitHub webhook payload. Triggered workflows run in the background
// unless ?wait=true is given.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var ev domain.Event
	if kind := r.Header.Get("X-GitHub-Event"); kind != "" {
		if kind == "ping" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
			return
		}
		ev, err = decodeGitHub(kind, body)
	} else {
		err = json.Unmarshal(body, &ev)
	}
	if err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.Kind == "" || (ev.Ref == "" && ev.Kind != domain.EventPullRequest) {
		http.Error(w, "event needs a kind and a ref", http.StatusBadRequest)
		return
	}
	ev.Ref = domain.NormalizeRef(ev.Ref)

	resp := eventResponse{Event: ev, Workflows: []string{}}
	plans, perr := s.disp.Plans(ev)
	for _, p := range plans {
		if p.Triggered {
			resp.Workflows = append(resp.Workflows, p.Workflow.Name)
		}
	}
	if perr != nil {
		resp.Errors = append(resp.Errors, perr.Error())
	}
	if len(resp.Workflows) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		runs, err := s.disp.Dispatch(r.Context(), ev)
		resp.Runs = runs
		if err != nil && !errors.Is(err, context.Canceled) {
			resp.Errors = append(resp.Errors, err.Error())
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.disp.Dispatch(s.base, ev); err != nil {
			s.log.Warn("dispatch failed", zap.String("ref", ev.Ref), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case err != nil:
		s.log.Error("get run", zap.Error(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
