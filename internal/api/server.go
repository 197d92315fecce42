package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/id/uuid"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/store"
)

const (
	defaultListLimit = 100
	requestTimeout   = 30 * time.Second
	checkTimeout     = 3 * time.Second
)

// Check reports whether a downstream dependency is reachable.
type Check func(ctx context.Context) error

// Deps are the stores the admin endpoints read from.
type Deps struct {
	Queues  queue.Store
	Records store.Store
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]Check
}

// Server wires HTTP handlers to the queue and record stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Queues == nil || deps.Records == nil {
		return nil, errors.New("api server requires queue and record stores")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queues/{name}", s.getQueue)
		r.Route("/records/{namespace}", func(r chi.Router) {
			r.Get("/", s.getRecords)
			r.Get("/keys/{key}", s.getRecord)
			r.Get("/fields/{field}", s.getField)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := s.deps.Checks[name](ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

type queueResponse struct {
	Queue  string            `json:"queue"`
	Length int64             `json:"length"`
	Items  []json.RawMessage `json:"items"`
}

// getQueue lists a window of a queue without leasing anything. start and
// limit default to the head and 100 items.
func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	start, err := queryInt(r, "start", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	length, err := s.deps.Queues.Len(r.Context(), name)
	if err != nil {
		s.storeError(w, "queue length", err)
		return
	}
	metrics.ObserveQueueDepth(name, length)
	items, err := s.deps.Queues.List(r.Context(), name, start, start+limit-1)
	if err != nil {
		s.storeError(w, "list queue", err)
		return
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, queueResponse{Queue: name, Length: length, Items: items})
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Records.GetAll(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		s.storeError(w, "get records", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.deps.Records.Lookup(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "key"))
	if err != nil {
		s.storeError(w, "lookup record", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getField(w http.ResponseWriter, r *http.Request) {
	values, err := s.deps.Records.Get(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "field"))
	if err != nil {
		s.storeError(w, "get field", err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, queue.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("admin request failed", zap.String("op", op), zap.Error(err))
	writeError(w, status, fmt.Sprintf("%s: %v", op, err))
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			if id, err := requestIDs.NewID(); err == nil {
				reqID = id
			}
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
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r.Context())),
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

type requestIDKey struct{}

var requestIDs = uuid.New()

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
