// Package api exposes the HTTP trigger surface: cron endpoints that enqueue
// background work, a synchronous copy endpoint and the run log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
)

// Prefix is the path prefix of the trigger endpoints.
const Prefix = "/data_steward/v1/"

// Copier copies a site bucket into the DRC bucket.
type Copier interface {
	CopyFiles(ctx context.Context, hpoID string) (int, error)
}

// RunLister reads the submission run log.
type RunLister interface {
	Recent(ctx context.Context, hpoID string, limit int) ([]model.Run, error)
}

// Authenticator validates a signed trigger request.
type Authenticator interface {
	Validate(path, expires, signature string) bool
}

// Config wires the server's collaborators.
type Config struct {
	Address    string
	Queue      queue.Enqueuer
	Copier     Copier
	Runs       RunLister
	Auth       Authenticator
	Retraction queue.RetractionPayload
	Logger     *slog.Logger
}

// Server exposes HTTP endpoints for triggers and run visibility.
type Server struct {
	cfg     Config
	log     *slog.Logger
	handler http.Handler
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, log: logger}
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		triggers := http.NewServeMux()
		triggers.HandleFunc("GET "+Prefix+"ValidateAllHpoFiles", s.handleValidateAll)
		triggers.HandleFunc("GET "+Prefix+"ValidateHpoFiles/{hpo_id}", s.handleValidateSite)
		triggers.HandleFunc("GET "+Prefix+"UploadAchillesFiles/{hpo_id}", s.handleUploadAchilles)
		triggers.HandleFunc("GET "+Prefix+"CopyFiles/{hpo_id}", s.handleCopyFiles)
		triggers.HandleFunc("GET "+Prefix+"UnionEHR", s.handleUnion)
		triggers.HandleFunc("GET "+Prefix+"RetractPids", s.handleRetract)
		triggers.HandleFunc("GET /submissions/{hpo_id}", s.handleSubmissions)

		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", s.handleHealth)
		mux.Handle("/", chain(triggers, cronAuth(s.cfg.Auth, s.log)))
		s.handler = chain(mux, requestLogging(s.log))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValidateAll(w http.ResponseWriter, r *http.Request) {
	id, err := queue.EnqueueValidateAll(r.Context(), s.cfg.Queue)
	s.respondQueued(w, id, err)
}

func (s *Server) handleValidateSite(w http.ResponseWriter, r *http.Request) {
	hpoID := r.PathValue("hpo_id")
	id, err := queue.EnqueueValidateSite(r.Context(), s.cfg.Queue, hpoID, true)
	s.respondQueued(w, id, err)
}

func (s *Server) handleUploadAchilles(w http.ResponseWriter, r *http.Request) {
	id, err := queue.EnqueueUploadAchilles(r.Context(), s.cfg.Queue, r.PathValue("hpo_id"))
	s.respondQueued(w, id, err)
}

func (s *Server) handleUnion(w http.ResponseWriter, r *http.Request) {
	id, err := queue.EnqueueUnion(r.Context(), s.cfg.Queue)
	s.respondQueued(w, id, err)
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	payload := s.cfg.Retraction
	q := r.URL.Query()
	if v := q.Get("hpo_id"); v != "" {
		payload.HPOID = v
	}
	if v := q.Get("retraction_type"); v != "" {
		payload.Type = v
	}
	if v := q.Get("submission_folder"); v != "" {
		payload.Folder = v
	}
	if payload.PIDDataset == "" || payload.PIDTable == "" {
		http.Error(w, "retraction pid table is not configured", http.StatusBadRequest)
		return
	}
	id, err := queue.EnqueueRetraction(r.Context(), s.cfg.Queue, payload)
	s.respondQueued(w, id, err)
}

func (s *Server) handleCopyFiles(w http.ResponseWriter, r *http.Request) {
	hpoID := r.PathValue("hpo_id")
	n, err := s.cfg.Copier.CopyFiles(r.Context(), hpoID)
	if err != nil {
		s.log.Error("copy files failed", "hpo_id", hpoID, "err", err)
		http.Error(w, "copy failed", statusFor(err))
		return
	}
	s.log.Info("copied site files", "hpo_id", hpoID, "objects", n)
	respondJSON(w, http.StatusOK, map[string]string{"copy-status": "done"})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.cfg.Runs.Recent(r.Context(), r.PathValue("hpo_id"), limit)
	if err != nil {
		s.log.Error("list runs failed", "err", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) respondQueued(w http.ResponseWriter, id string, err error) {
	if err != nil {
		s.log.Error("enqueue failed", "err", err)
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "queued"})
}

func statusFor(err error) int {
	if errors.Is(err, model.ErrBucketNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "err", err)
	}
}
