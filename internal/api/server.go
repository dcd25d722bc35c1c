package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/metrics"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

// Store is the read side of the record store the listener needs.
type Store interface {
	Ping(ctx context.Context) error
	GetResort(ctx context.Context, url string) (model.Resort, error)
	ListResorts(ctx context.Context, limit, offset int) ([]model.Resort, error)
	ListRuns(ctx context.Context, limit int) ([]store.CrawlRun, error)
	ListPatterns(ctx context.Context, field model.Field) ([]model.ExtractionPattern, error)
}

// Trigger starts a crawl in the background. It returns false when one is already running.
type Trigger interface {
	Trigger() bool
}

// Server wires HTTP handlers to the record store.
type Server struct {
	router  chi.Router
	store   Store
	trigger Trigger
	logger  *zap.Logger
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// NewServer constructs a Server with middleware and routes. trigger may be nil.
func NewServer(s Store, trigger Trigger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{store: s, trigger: trigger, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(srv.loggingMiddleware)
	r.Use(srv.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", srv.healthz)
	r.Get("/readyz", srv.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/resorts", srv.listResorts)
		r.Get("/resorts/lookup", srv.getResort)
		r.Get("/runs", srv.listRuns)
		r.Get("/patterns/{field}", srv.listPatterns)
		r.Post("/crawl", srv.triggerCrawl)
	})

	srv.router = r
	return srv
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listResorts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r, true)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resorts, err := s.store.ListResorts(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list resorts failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list resorts failed")
		return
	}
	out := make([]resortResponse, 0, len(resorts))
	for _, res := range resorts {
		out = append(out, toResortResponse(res))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"resorts": out, "limit": limit, "offset": offset})
}

func (s *Server) getResort(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	res, err := s.store.GetResort(r.Context(), u)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "resort not found")
		return
	}
	if err != nil {
		s.logger.Error("get resort failed", zap.String("url", u), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "get resort failed")
		return
	}
	s.writeJSON(w, http.StatusOK, toResortResponse(res))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pagination(r, false)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) listPatterns(w http.ResponseWriter, r *http.Request) {
	field, ok := model.ParseField(chi.URLParam(r, "field"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown field")
		return
	}
	patterns, err := s.store.ListPatterns(r.Context(), field)
	if err != nil {
		s.logger.Error("list patterns failed", zap.String("field", string(field)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list patterns failed")
		return
	}
	out := make([]patternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, patternResponse{
			ID:         p.ID,
			Pattern:    p.Pattern,
			Source:     string(p.Source),
			Confidence: p.Confidence,
			CreatedAt:  p.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"field": field, "patterns": out})
}

func (s *Server) triggerCrawl(w http.ResponseWriter, _ *http.Request) {
	if s.trigger == nil {
		s.writeError(w, http.StatusNotImplemented, "crawl trigger not configured")
		return
	}
	if !s.trigger.Trigger() {
		s.writeError(w, http.StatusConflict, "a crawl is already running")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func pagination(r *http.Request, withOffset bool) (int, int, error) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(n, maxPageSize)
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); withOffset && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
