package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/app"
	"github.com/JakeFAU/crag-crawler/internal/config"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/metrics"
)

// LoadFunc loads and validates a configuration file.
type LoadFunc func(path string) (config.Config, error)

// RunFunc executes one harvest for cfg.
type RunFunc func(ctx context.Context, cfg config.Config) (harvest.RunSummary, error)

// Server wires HTTP handlers to configuration loading and the orchestrator.
type Server struct {
	router chi.Router
	load   LoadFunc
	run    RunFunc
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Nil load and run
// default to config.Load and AppRunner.
func NewServer(load LoadFunc, run RunFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if load == nil {
		load = config.Load
	}
	if run == nil {
		run = AppRunner(logger)
	}
	s := &Server{load: load, run: run, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.With(timeoutMiddleware(5*time.Second)).Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs", s.createRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AppRunner builds the services for cfg, runs one harvest and releases them.
func AppRunner(logger *zap.Logger) RunFunc {
	return func(ctx context.Context, cfg config.Config) (harvest.RunSummary, error) {
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return harvest.RunSummary{}, fmt.Errorf("init services: %w", err)
		}
		defer a.Close()
		return a.Orchestrator().Run(ctx)
	}
}

type runRequest struct {
	Config  string `json:"config"`
	Output  string `json:"output"`
	GeoJSON string `json:"geojson"`
}

type runFailure struct {
	Error   string              `json:"error"`
	Summary *harvest.RunSummary `json:"summary,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Config) == "" {
		writeError(w, http.StatusBadRequest, "config path required")
		return
	}

	cfg, err := s.load(req.Config)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if req.Output != "" {
		cfg.Output.NDJSONPath = req.Output
	}
	if req.GeoJSON != "" {
		cfg.Output.GeoJSONPath = req.GeoJSON
	}

	summary, err := s.run(r.Context(), cfg)
	if err != nil {
		s.logger.Error("run failed", zap.String("config", req.Config), zap.Error(err))
		resp := runFailure{Error: err.Error()}
		if summary.RunID != "" {
			resp.Summary = &summary
		}
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func statusFor(err error) int {
	var cerr *harvest.ConfigError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &cerr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
