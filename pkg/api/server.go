package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vjranagit/keyframes/pkg/curve"
	"github.com/vjranagit/keyframes/pkg/curveset"
	"github.com/vjranagit/keyframes/pkg/storage"
	"github.com/vjranagit/keyframes/pkg/types"
)

// Config holds server configuration
type Config struct {
	Addr         string
	Timeout      time.Duration
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server implements the HTTP API server
type Server struct {
	cfg     Config
	builder *curveset.Builder
	archive storage.Archive
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. archive may be nil, in which case clips
// are optimized but never stored.
func NewServer(cfg Config, builder *curveset.Builder, archive storage.Archive) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		builder: builder,
		archive: archive,
		logger:  logger,
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/clips", func(r chi.Router) {
		r.Post("/", s.handleOptimize)
		r.Get("/", s.handleList)

		r.Route("/{clip}", func(r chi.Router) {
			r.Use(s.requireArchive)
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/info", s.handleInfo)
			r.Get("/channels/{channel}", s.handleEvaluate)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleOptimize builds the curve set of an uploaded clip and stores it
// unless ?store=false is given.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var clip types.Clip
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&clip); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid clip: %w", err))
		return
	}

	store := s.archive != nil && r.URL.Query().Get("store") != "false"
	if store && clip.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("clip name is required"))
		return
	}

	ctx := r.Context()
	set, stats, err := s.builder.Build(ctx, &clip)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	if store {
		if err := s.archive.Put(ctx, clip.Name, set); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, &types.CurveSetResponse{
		Clip:     clip.Name,
		Channels: set.Channels(),
		Stats:    &stats,
	})
}

// handleList lists stored clips. Each ?select=Entity.channel or ?entity=Entity
// narrows the result to clips animating it.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("storage is disabled"))
		return
	}

	query := r.URL.Query()
	var selectors []curveset.ChannelID
	for _, entity := range query["entity"] {
		selectors = append(selectors, curveset.ChannelID{Entity: entity})
	}
	for _, sel := range query["select"] {
		id, err := curveset.ParseChannelID(sel)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		selectors = append(selectors, id)
	}

	clips, err := s.archive.Find(r.Context(), selectors...)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if clips == nil {
		clips = []string{}
	}

	s.writeJSON(w, http.StatusOK, map[string][]string{"clips": clips})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "clip")
	set, err := s.archive.Get(r.Context(), name)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, &types.CurveSetResponse{
		Clip:     name,
		Channels: set.Channels(),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.archive.Delete(r.Context(), chi.URLParam(r, "clip")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.archive.Info(r.Context(), chi.URLParam(r, "clip"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleEvaluate interpolates one stored channel at ?frame=
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, err := curveset.ParseChannelID(chi.URLParam(r, "channel"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	frame, err := strconv.ParseFloat(r.URL.Query().Get("frame"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("frame must be a number"))
		return
	}

	c, err := storage.Curve(r.Context(), s.archive, chi.URLParam(r, "clip"), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	value, err := c.Evaluate(frame)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"channel": id.String(),
		"frame":   frame,
		"value":   value,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"storage": s.archive != nil,
	})
}

func (s *Server) requireArchive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.archive == nil {
			s.writeError(w, http.StatusServiceUnavailable, errors.New("storage is disabled"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrClipNotFound), errors.Is(err, storage.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, curveset.ErrUnknownChannel),
		errors.Is(err, curveset.ErrDuplicateFrame),
		errors.Is(err, storage.ErrInvalidClipName),
		errors.Is(err, curve.ErrEmptyCurve),
		errors.Is(err, curve.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "status", status, "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
