// Package server exposes the pipeline over HTTP: submit a FOIA request, poll
// run state, or stream progress over a websocket.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openrecords/foiabuddy/internal/pipeline"
	"github.com/openrecords/foiabuddy/internal/progress"
	"github.com/openrecords/foiabuddy/internal/store"
)

// Runner starts pipeline runs. *pipeline.Driver satisfies it.
type Runner interface {
	Launch(ctx context.Context, input pipeline.Input) *pipeline.RunState
	Hub() *progress.Hub
}

// SnapshotStore persists run snapshots. *store.RunStore satisfies it.
type SnapshotStore interface {
	SaveRun(snap pipeline.Snapshot, foiaRequest string) error
	GetRun(runID string) (pipeline.Snapshot, error)
	ListRuns(limit int) ([]store.RunSummary, error)
}

// Server serves the request API. Live runs are tracked in memory; finished
// runs are answered from the store.
type Server struct {
	runner    Runner
	store     SnapshotStore
	outputDir string
	logger    pipeline.Logger

	mu       sync.RWMutex
	live     map[string]*pipeline.RunState
	requests map[string]string

	upgrader websocket.Upgrader
}

// New wires the API over a runner and a store. The store may be nil; then
// finished runs are only available while the process lives.
func New(runner Runner, snapshots SnapshotStore, outputDir string, logger pipeline.Logger) *Server {
	s := &Server{
		runner:    runner,
		store:     snapshots,
		outputDir: outputDir,
		logger:    logger,
		live:      make(map[string]*pipeline.RunState),
		requests:  make(map[string]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser dashboards connect from their own origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	// Persist each run once it reaches a terminal state.
	runner.Hub().Attach(progress.ObserverFunc(func(e progress.Event) error {
		if e.Type == progress.EventCompleted || e.Type == progress.EventError {
			s.persist(e.RunID)
		}
		return nil
	}))
	return s
}

// persist writes the terminal snapshot through to the store.
func (s *Server) persist(runID string) {
	s.mu.RLock()
	state, ok := s.live[runID]
	request := s.requests[runID]
	s.mu.RUnlock()
	if !ok || s.store == nil {
		return
	}
	if err := s.store.SaveRun(state.Snapshot(), request); err != nil {
		s.logger.Printf("server: persist run %s: %v", runID, err)
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/requests", s.handleSubmit)
	mux.HandleFunc("GET /api/requests", s.handleList)
	mux.HandleFunc("GET /api/requests/{id}", s.handleGet)
	mux.HandleFunc("GET /api/requests/{id}/ws", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type submitRequest struct {
	FOIARequest string `json:"foia_request"`
}

type submitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FOIARequest == "" {
		writeError(w, http.StatusBadRequest, "foia_request is required")
		return
	}

	runID := "foia-" + uuid.NewString()[:12]
	input := pipeline.Input{
		RunID:       runID,
		FOIARequest: req.FOIARequest,
		OutputDir:   s.outputDir,
	}

	// The run outlives the request; detach it from the request context.
	state := s.runner.Launch(context.Background(), input)

	s.mu.Lock()
	s.live[runID] = state
	s.requests[runID] = req.FOIARequest
	s.mu.Unlock()

	// The run may already be terminal if it raced the map insert above;
	// persist is an upsert, so running it twice is harmless.
	if snap := state.Snapshot(); snap.Status == pipeline.StatusCompleted || snap.Status == pipeline.StatusFailed {
		s.persist(runID)
	}

	writeJSON(w, http.StatusAccepted, submitResponse{RunID: runID, Status: string(pipeline.StatusPending)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	s.mu.RLock()
	state, ok := s.live[runID]
	s.mu.RUnlock()
	if ok {
		writeJSON(w, http.StatusOK, state.Snapshot())
		return
	}

	if s.store != nil {
		snap, err := s.store.GetRun(runID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, snap)
			return
		case !errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusInternalServerError, "run lookup failed")
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown run %q", runID))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.RunSummary{})
		return
	}
	runs, err := s.store.ListRuns(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run listing failed")
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleStream upgrades to a websocket and forwards this run's progress
// events until the run reaches a terminal state or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	defer conn.Close()

	// Buffered so a slow client stalls itself, not the pipeline. When the
	// buffer fills the observer errors out and the hub drops it.
	events := make(chan progress.Event, 64)
	detach := s.runner.Hub().Attach(progress.ObserverFunc(func(e progress.Event) error {
		if e.RunID != runID {
			return nil
		}
		select {
		case events <- e:
			return nil
		default:
			return errors.New("websocket client too slow")
		}
	}))
	defer detach()

	for {
		select {
		case e := <-events:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
			if e.Type == progress.EventCompleted || e.Type == progress.EventError {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
