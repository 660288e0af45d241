package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/api/handlers"
	apiMiddleware "github.com/marmos91/dicomul/pkg/api/middleware"
	"github.com/marmos91/dicomul/pkg/auth/jwt"
	"github.com/marmos91/dicomul/pkg/metrics"
)

// requestTimeout bounds every API request.
const requestTimeout = 30 * time.Second

// Deps are the collaborators the routes read from. Every field is optional.
type Deps struct {
	// Associations lists running associations. The DICOM adapter.
	Associations handlers.AssociationLister

	// Audit reads finished associations.
	Audit handlers.AuditReader

	// Stores are probed by /health/stores.
	Stores []handlers.StoreCheck

	// Tokens validates Bearer tokens when APIConfig.RequireToken is set.
	Tokens *jwt.Service
}

// NewRouter builds the status API:
//
//	GET /health                          liveness
//	GET /health/ready                    readiness
//	GET /health/stores                   store probes
//	GET /metrics                         Prometheus, 404 when metrics are off
//	GET /api/v1/associations             running associations
//	GET /api/v1/associations/recent      audit log, ?limit=N
//	GET /api/v1/associations/{id}        one audited association
//
// Only /api/v1 is behind the token check.
func NewRouter(config APIConfig, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer, middleware.Timeout(requestTimeout))

	health := handlers.NewHealthHandler(deps.Associations, deps.Stores)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
		r.Get("/stores", health.Stores)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	assocs := handlers.NewAssociationHandler(deps.Associations, deps.Audit)
	r.Route("/api/v1/associations", func(r chi.Router) {
		if config.RequireToken && deps.Tokens != nil {
			r.Use(apiMiddleware.JWTAuth(deps.Tokens))
		}
		r.Get("/", assocs.Active)
		r.Get("/recent", assocs.Recent)
		r.Get("/{id}", assocs.Get)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})
	return r
}

// requestLogger logs one line per request. Probes and scrapes log at DEBUG.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := logger.Info
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/health") {
			log = logger.Debug
		}
		log("API request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(float64(time.Since(start).Microseconds())/1000))
	})
}
