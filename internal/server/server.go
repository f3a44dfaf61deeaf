// Package server exposes the HTTP surface: health probes, Prometheus
// metrics, the speech websocket, and the JSON API for set selection,
// learning statistics, and pattern export/import.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxrip/voxrip/internal/app"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/fault"
	"github.com/voxrip/voxrip/internal/health"
	"github.com/voxrip/voxrip/internal/learning"
	"github.com/voxrip/voxrip/internal/observe"
	"github.com/voxrip/voxrip/internal/speech"
	"github.com/voxrip/voxrip/internal/training"
)

// maxImportBytes bounds the pattern-import request body.
const maxImportBytes = 4 << 20

// SetSource lists and searches the catalog's card sets.
type SetSource interface {
	ListSets(ctx context.Context) ([]catalog.SetInfo, error)
	SearchSets(ctx context.Context, term string) ([]catalog.SetInfo, error)
}

// SetSelector is the pipeline surface the set-selection endpoints need.
type SetSelector interface {
	SetCurrentSet(ctx context.Context, setCode string) error
	CurrentSet() string
}

// LearningAdmin is the learning-store surface the stats and pattern
// endpoints need.
type LearningAdmin interface {
	GetStats() learning.Stats
	RecentAccuracy() float64
	ExportPatterns() ([]byte, error)
	ImportPatterns(blob []byte, merge bool) error
	Persist(ctx context.Context) error
}

// TrainingGateway is the app surface the training endpoints need.
type TrainingGateway interface {
	StartTraining(ctx context.Context) error
	ActivePrompt() *app.Prompt
	SubmitSelection(cmd app.SelectionCommand) error
}

// Config carries the collaborators for [New]. All fields except Logger
// are required.
type Config struct {
	Health   *health.Handler
	Metrics  *observe.Metrics
	Sets     SetSource
	Pipeline SetSelector
	Learning LearningAdmin
	Training TrainingGateway
	Speech   *speech.Socket

	// BaseCtx outlives individual requests; websocket read loops run
	// on it so a finished HTTP handler does not kill the connection.
	BaseCtx context.Context

	Logger *slog.Logger
}

// Server routes HTTP traffic to the voxrip subsystems.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New wires a Server. Call [Server.Routes] for the http.Handler.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

// Routes builds the chi router with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.cfg.Metrics))

	r.Get("/healthz", s.cfg.Health.Healthz)
	r.Get("/readyz", s.cfg.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/ws/speech", s.handleSpeech)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sets", s.handleSets)
		r.Get("/sets/current", s.handleCurrentSet)
		r.Put("/sets/current", s.handleSelectSet)
		r.Get("/stats", s.handleStats)
		r.Get("/patterns", s.handleExportPatterns)
		r.Post("/patterns", s.handleImportPatterns)
		r.Post("/training/start", s.handleTrainingStart)
		r.Get("/training/prompt", s.handleTrainingPrompt)
		r.Post("/training/select", s.handleTrainingSelect)
	})

	return r
}

// ── Speech websocket ─────────────────────────────────────────────────────────

// handleSpeech upgrades the request and hands the connection to the
// speech source. One source, latest client wins; an older client is
// closed with StatusGoingAway by the source itself.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("speech websocket accept failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	s.log.Info("speech client connected", "session_id", sessionID, "remote", r.RemoteAddr)

	gone := s.cfg.Speech.Attach(s.cfg.BaseCtx, conn)
	s.cfg.Metrics.ActiveSpeechClients.Add(r.Context(), 1)
	go func() {
		<-gone
		s.cfg.Metrics.ActiveSpeechClients.Add(context.Background(), -1)
		s.log.Info("speech client gone", "session_id", sessionID)
	}()
}

// ── Sets ─────────────────────────────────────────────────────────────────────

func (s *Server) handleSets(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))

	var (
		sets []catalog.SetInfo
		err  error
	)
	if term == "" {
		sets, err = s.cfg.Sets.ListSets(r.Context())
	} else {
		sets, err = s.cfg.Sets.SearchSets(r.Context(), term)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"sets": sets})
}

func (s *Server) handleCurrentSet(w http.ResponseWriter, _ *http.Request) {
	s.writeData(w, http.StatusOK, map[string]any{"set_code": s.cfg.Pipeline.CurrentSet()})
}

func (s *Server) handleSelectSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SetCode string `json:"set_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Wrap(fault.KindBadFormat, "decode set selection", err))
		return
	}
	if strings.TrimSpace(req.SetCode) == "" {
		s.writeError(w, fault.New(fault.KindBadFormat, "set_code is required"))
		return
	}
	if err := s.cfg.Pipeline.SetCurrentSet(r.Context(), req.SetCode); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("active set changed", "set_code", s.cfg.Pipeline.CurrentSet())
	s.writeData(w, http.StatusOK, map[string]any{"set_code": s.cfg.Pipeline.CurrentSet()})
}

// ── Stats ────────────────────────────────────────────────────────────────────

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.cfg.Learning.GetStats()
	s.writeData(w, http.StatusOK, map[string]any{
		"stats":           stats,
		"recent_accuracy": s.cfg.Learning.RecentAccuracy(),
	})
}

// ── Patterns export/import ───────────────────────────────────────────────────

func (s *Server) handleExportPatterns(w http.ResponseWriter, _ *http.Request) {
	blob, err := s.cfg.Learning.ExportPatterns()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="voxrip-patterns.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (s *Server) handleImportPatterns(w http.ResponseWriter, r *http.Request) {
	merge := r.URL.Query().Get("merge") != "false"

	blob, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		s.writeError(w, fault.Wrap(fault.KindBadFormat, "read import body", err))
		return
	}
	if err := s.cfg.Learning.ImportPatterns(blob, merge); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.cfg.Learning.Persist(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("patterns imported", "merge", merge, "bytes", len(blob))
	s.writeData(w, http.StatusOK, map[string]any{
		"patterns": s.cfg.Learning.GetStats().PatternsLearned,
	})
}

// ── Training prompt ──────────────────────────────────────────────────────────

// handleTrainingStart opens a correction flow for the last recognition,
// the manual path for retraining an already-emitted result. The flow is
// asynchronous; the prompt arrives via GET /api/training/prompt.
func (s *Server) handleTrainingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Training.StartTraining(r.Context()); err != nil {
		switch {
		case errors.Is(err, app.ErrNothingToTrain):
			s.writeError(w, fault.Wrap(fault.KindNotFound, "start training", err))
		case errors.Is(err, training.ErrBusy), errors.Is(err, training.ErrDebounced):
			s.writeError(w, fault.Wrap(fault.KindServiceUnavailable, "start training", err))
		default:
			s.writeError(w, err)
		}
		return
	}
	s.writeData(w, http.StatusAccepted, map[string]any{"started": true})
}

func (s *Server) handleTrainingPrompt(w http.ResponseWriter, _ *http.Request) {
	prompt := s.cfg.Training.ActivePrompt()
	s.writeData(w, http.StatusOK, map[string]any{"prompt": prompt})
}

func (s *Server) handleTrainingSelect(w http.ResponseWriter, r *http.Request) {
	var cmd app.SelectionCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.writeError(w, fault.Wrap(fault.KindBadFormat, "decode selection", err))
		return
	}
	if err := s.cfg.Training.SubmitSelection(cmd); err != nil {
		switch {
		case errors.Is(err, app.ErrNoActivePrompt), errors.Is(err, app.ErrStalePrompt):
			s.writeError(w, fault.Wrap(fault.KindNotFound, "submit selection", err))
		default:
			s.writeError(w, fault.Wrap(fault.KindBadFormat, "submit selection", err))
		}
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"accepted": true})
}

// ── JSON envelope ────────────────────────────────────────────────────────────

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	encErr := json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error:   &apiError{Kind: string(kind), Message: err.Error()},
	})
	if encErr != nil {
		s.log.Warn("response encode failed", "error", encErr)
	}
}

// statusForKind maps error kinds onto HTTP statuses.
func statusForKind(k fault.Kind) int {
	switch k {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindBadFormat:
		return http.StatusBadRequest
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindNetwork, fault.KindBadResponse:
		return http.StatusBadGateway
	case fault.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case fault.KindNoCardsLoaded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
