// Package server exposes the HTTP surface: job enrollment and control,
// the incremental worker endpoint, and the progress poll and stream
// paths.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clipdex/clipdex/classify"
	"github.com/clipdex/clipdex/config"
	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/job"
	"github.com/clipdex/clipdex/logger"
	"github.com/clipdex/clipdex/queue"
	"github.com/clipdex/clipdex/video"
)

// Server wires the job engine behind HTTP handlers.
type Server struct {
	cfg        *config.Config
	ledger     *job.Ledger
	step       *job.StepRunner
	runner     *job.ConcurrentRunner
	progress   *job.ProgressPublisher
	videos     *video.Store
	stats      *video.StatsCache
	dispatcher queue.Dispatcher

	mux *http.ServeMux
	log *zap.SugaredLogger

	// ctx bounds detached job runs; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

type Deps struct {
	Ledger     *job.Ledger
	Step       *job.StepRunner
	Runner     *job.ConcurrentRunner
	Progress   *job.ProgressPublisher
	Videos     *video.Store
	Stats      *video.StatsCache
	Dispatcher queue.Dispatcher
}

func New(cfg *config.Config, deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		ledger:     deps.Ledger,
		step:       deps.Step,
		runner:     deps.Runner,
		progress:   deps.Progress,
		videos:     deps.Videos,
		stats:      deps.Stats,
		dispatcher: deps.Dispatcher,
		mux:        http.NewServeMux(),
		log:        logger.Named("server"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/pause", s.handlePauseJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/resume", s.handleResumeJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	s.mux.HandleFunc("POST /api/worker/step", s.handleWorkerStep)
	s.mux.HandleFunc("GET /api/progress", s.handleProgress)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe blocks serving HTTP until the listener fails.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.log.Infow("listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Shutdown stops detached job runs.
func (s *Server) Shutdown() {
	s.cancel()
}

// ownerID resolves the requesting principal. Token exchange happens
// upstream; by the time a request reaches this service the gateway has
// stamped the owner header.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsInvalidTransition(err), errors.IsAlreadyExists(err), errors.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, errors.ErrForbidden):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// libraryAdapter bridges the video store to the processing loop's
// item and apply contracts.
type libraryAdapter struct {
	videos *video.Store
}

func (a *libraryAdapter) Items(ctx context.Context, ids []string) ([]job.Item, error) {
	videos, err := a.videos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]job.Item, 0, len(videos))
	for _, v := range videos {
		items = append(items, job.Item{
			Item: classify.Item{
				ID:          v.ID,
				Title:       v.Title,
				Channel:     v.Channel,
				Description: v.Description,
				DurationSec: v.DurationSec,
			},
			Classified: v.Classified,
		})
	}
	return items, nil
}

func (a *libraryAdapter) Apply(ctx context.Context, itemID string, result classify.Result) error {
	return a.videos.Apply(ctx, itemID, result)
}

// NewLibrary adapts the video store into the job engine's persistence
// gateway.
func NewLibrary(videos *video.Store) job.Library {
	return &libraryAdapter{videos: videos}
}
