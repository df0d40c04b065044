// Package httpapi is the JSON control plane: a chi.Router exposing the
// maintenance/review/browse surface of spec.md §6 over plain HTTP, since
// the memory core's actual transport (MCP) is out of scope. Grounded on
// the teacher's pkg/api.HealthServer for the health/metrics mux shape and
// pkg/api.ReadOnlyInterceptor for the read/write authorization split,
// adapted from a gRPC interceptor to net/http middleware.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/memorypalace/core/pkg/core"
	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/metrics"
	"github.com/memorypalace/core/pkg/tools"
)

// Server is the HTTP control plane over one Core.
type Server struct {
	core   *core.Core
	tools  *tools.Tools
	router chi.Router
	http   *http.Server
}

// New builds a Server over c. Call Start to begin listening.
func New(c *core.Core) *Server {
	s := &Server{core: c, tools: tools.New(c)}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root http.Handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	// Browse-tree reads are unauthenticated per spec.md §6.
	r.Group(func(r chi.Router) {
		r.Get("/memory", s.handleReadMemory)
		r.Get("/search", s.handleSearchMemory)
		r.Get("/browse/*", s.handleBrowse)
		r.Get("/index/status", s.handleIndexStatus)
	})

	// Every write path requires an API key.
	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(s.core.Config))
		r.Post("/memory", s.handleCreateMemory)
		r.Patch("/memory", s.handleUpdateMemory)
		r.Delete("/memory", s.handleDeleteMemory)
		r.Post("/alias", s.handleAddAlias)
		r.Post("/compact", s.handleCompactContext)
		r.Post("/index/rebuild", s.handleRebuildIndex)
		r.Post("/index/jobs/{id}/retry", s.handleRetryIndexJob)
		r.Post("/vitality/cleanup/prepare", s.handlePrepareCleanup)
		r.Post("/vitality/cleanup/confirm", s.handleConfirmCleanup)
		r.Post("/vitality/sleep/preview", s.handleSleepPreview)
		r.Post("/vitality/sleep/apply", s.handleSleepApply)
	})

	return r
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(sw.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("httpapi").Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, kind errs.Kind, message string) {
	writeJSON(w, status, map[string]string{"error": string(kind), "message": message})
}

// handleError maps a core error to an HTTP status and reason code, falling
// back to 500/internal_error when err carries no Kind.
func handleError(w http.ResponseWriter, err error) {
	kind, ok := errs.KindOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeError(w, statusFor(kind), kind, err.Error())
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.AddressNotFound, errs.JobNotFound, errs.ReviewNotFound:
		return http.StatusNotFound
	case errs.InvalidDomain, errs.InvalidPath, errs.InvalidTitle, errs.InvalidPriority,
		errs.InvalidRequest, errs.AddressAmbiguousPatch, errs.PatchAmbiguous, errs.PatchNotFound,
		errs.ConfirmationMismatch:
		return http.StatusBadRequest
	case errs.InvalidAPIKey, errs.APIKeyNotConfigured, errs.InsecureLocalOverride:
		return http.StatusUnauthorized
	case errs.QueueFull, errs.IndexEnqueueDropped, errs.PendingReviewsFull:
		return http.StatusServiceUnavailable
	case errs.LaneTimeout, errs.WaitTimeout, errs.MigrationLockTimeout:
		return http.StatusGatewayTimeout
	case errs.StaleState, errs.ReviewExpired, errs.JobAlreadyFinalized:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
