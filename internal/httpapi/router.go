package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fedmesh/node/internal/metrics"
	"github.com/fedmesh/node/internal/planner"
	"github.com/fedmesh/node/internal/registry"
	"github.com/fedmesh/node/internal/resultstore"
	"github.com/fedmesh/node/internal/scheduler"
	"github.com/fedmesh/node/internal/session"
	"github.com/fedmesh/node/internal/storage"
	"github.com/fedmesh/node/pkg/logger"
)

// Deps bundles everything the route handlers need.
type Deps struct {
	Session    *session.Service
	Planner    *planner.Planner
	Scheduler  *scheduler.Scheduler
	Results    *resultstore.Store
	Registry   *registry.Registry
	Stores     storage.Stores
	Log        *logger.Logger
}

// NewRouter builds the node's full route table: join/key/leave/metadata
// under /node, the client heartbeat poll under /client, task
// fetch/result/error under /worker, and artifact submission/status/result
// lookup under /workbench.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{deps: deps}

	r.Get("/node/key", h.nodeKey)
	r.Post("/node/join", h.nodeJoin)
	r.Post("/node/leave", h.nodeLeave)
	r.Post("/node/metadata", h.nodeMetadata)

	r.Get("/client/update", h.clientUpdate)

	r.Get("/worker/task/{job_id}", h.workerTask)
	r.Post("/worker/result/{job_id}", h.workerResult)
	r.Post("/worker/error", h.workerError)
	r.Get("/worker/result/{result_id}", h.workerResultByID)

	r.Post("/workbench/artifact/submit", h.workbenchSubmit)
	r.Get("/workbench/artifact/status/{id}", h.workbenchStatus)
	r.Get("/workbench/result/{id}", h.workbenchResult)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			log.WithField("method", req.Method).
				WithField("path", req.URL.Path).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Debug("handled request")
		})
	}
}

type handlers struct {
	deps Deps
}
