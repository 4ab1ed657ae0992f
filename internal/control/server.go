// Package control exposes the scheduler's operational surface over a
// unix domain socket: wake, spawn, kill, pause/resume, reconfigure,
// status and agent queries, and shutdown. The CLI is the only intended
// client; the socket's file permissions are the auth boundary.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gyredev/gyre/internal/config"
	"github.com/gyredev/gyre/internal/coordinator"
	"github.com/gyredev/gyre/internal/registry"
	"github.com/gyredev/gyre/internal/store"
)

// ShutdownFunc is invoked when a shutdown request arrives. killWorkers
// selects whether live workers get terminated or left running detached.
type ShutdownFunc func(killWorkers bool)

// Server is the control-channel listener.
type Server struct {
	coord      *coordinator.Coordinator
	socketPath string
	onShutdown ShutdownFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a control server for the given coordinator.
func NewServer(coord *coordinator.Coordinator, socketPath string, onShutdown ShutdownFunc) *Server {
	return &Server{
		coord:      coord,
		socketPath: socketPath,
		onShutdown: onShutdown,
	}
}

// Start binds the unix socket and serves until Stop. A stale socket
// file from a previous run is removed first.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("control server already started")
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /wake", s.handleWake)
	mux.HandleFunc("POST /spawn", s.handleSpawn)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("POST /kill", s.handleKill)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /pause", s.handlePause)
	mux.HandleFunc("POST /resume", s.handleResume)
	mux.HandleFunc("POST /reconfigure", s.handleReconfigure)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	s.listener = ln
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: control server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARNING: encoding control response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	s.coord.Wake()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// SpawnRequest asks for a direct dispatch bypassing the ready set.
type SpawnRequest struct {
	Task    string `json:"task"`
	Backend string `json:"backend,omitempty"`
	Model   string `json:"model,omitempty"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, errors.New("task is required"))
		return
	}

	agent, err := s.coord.Spawn(r.Context(), req.Task, req.Backend, req.Model)
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrClaimConflict):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, agent)
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.coord.Agents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// KillRequest names an agent to terminate.
type KillRequest struct {
	Agent string `json:"agent"`
	Force bool   `json:"force,omitempty"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req KillRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Agent == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent is required"))
		return
	}

	err := s.coord.KillAgent(r.Context(), req.Agent, req.Force, 5*time.Second)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	case errors.Is(err, registry.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.coord.Pause()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.coord.Resume()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ReconfigureRequest carries the runtime-adjustable settings. Zero
// values leave the current setting untouched.
type ReconfigureRequest struct {
	Concurrency    int    `json:"concurrency,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	DefaultBackend string `json:"default_backend,omitempty"`
	DefaultModel   string `json:"default_model,omitempty"`
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var req ReconfigureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PollInterval != "" {
		if _, err := time.ParseDuration(req.PollInterval); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad poll_interval: %w", err))
			return
		}
	}

	s.coord.Reconfigure(func(cfg *config.Config) {
		if req.Concurrency > 0 {
			cfg.Scheduler.Concurrency = req.Concurrency
		}
		if req.PollInterval != "" {
			cfg.Scheduler.PollInterval = req.PollInterval
		}
		if req.DefaultBackend != "" {
			cfg.Scheduler.DefaultBackend = req.DefaultBackend
		}
		if req.DefaultModel != "" {
			cfg.Scheduler.DefaultModel = req.DefaultModel
		}
	})
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ShutdownRequest selects the shutdown mode.
type ShutdownRequest struct {
	KillWorkers bool `json:"kill_workers,omitempty"`
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req ShutdownRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
	if s.onShutdown != nil {
		// Respond first; the process is about to stop serving.
		go s.onShutdown(req.KillWorkers)
	}
}
