// Package api exposes the upload workflow over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stefando/mediaupload/internal/auth"
	"github.com/stefando/mediaupload/internal/logging"
	"github.com/stefando/mediaupload/internal/metrics"
	"github.com/stefando/mediaupload/internal/upload"
)

// UploadService is the upload workflow the handlers drive. *upload.Service
// implements it.
type UploadService interface {
	Init(ctx context.Context, req upload.InitRequest) (*upload.InitResponse, error)
	UploadPart(ctx context.Context, req upload.PartRequest) (*upload.PartResponse, error)
	Complete(ctx context.Context, req upload.CompleteRequest) (*upload.CompleteResponse, error)
	Abort(ctx context.Context, req upload.AbortRequest) (*upload.AbortResponse, error)
	ListFiles(ctx context.Context) ([]upload.FileInfo, error)
	ListSessions(ctx context.Context) ([]upload.OpenSession, error)
	ListParts(ctx context.Context, session upload.Session) ([]upload.StoredPart, error)
}

var _ UploadService = (*upload.Service)(nil)

// Options configures the router.
type Options struct {
	Logger *log.Logger
	// Metrics, when set, instruments every request and serves /metrics.
	Metrics *metrics.Metrics
	// MaxPartBytes caps the size of a single part body.
	MaxPartBytes int64
}

type handler struct {
	svc          UploadService
	logger       *log.Logger
	maxPartBytes int64
}

// NewRouter creates the chi router serving the upload API.
func NewRouter(svc UploadService, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	h := &handler{
		svc:          svc,
		logger:       opts.Logger,
		maxPartBytes: opts.MaxPartBytes,
	}

	r := chi.NewRouter()

	// Middleware for all routes
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(auth.IdentityMiddleware(opts.Logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
	})

	r.Route("/api/upload", func(r chi.Router) {
		r.Post("/init", h.handleInit)
		r.Put("/part", h.handlePart)
		r.Post("/complete", h.handleComplete)
		r.Delete("/abort", h.handleAbort)
		r.Get("/files", h.handleFiles)
		r.Get("/sessions", h.handleSessions)
		r.Get("/parts", h.handleParts)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return r
}

// requestLogger logs one line per request once it has been served.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				kv := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr,
				}
				if c, ok := auth.GetCaller(r.Context()); ok {
					kv = append(kv, "caller", c.Subject)
				}
				if status >= http.StatusInternalServerError {
					logger.Warn("request served", kv...)
					return
				}
				logger.Info("request served", kv...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
