package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fedmesh/node/internal/corekit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the node-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fedmesh",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedmesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedmesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedmesh",
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Total number of job state transitions.",
		},
		[]string{"kind", "from", "to"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedmesh",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration a job spent RUNNING before reaching a terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind", "status"},
	)

	heartbeatPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedmesh",
			Subsystem: "heartbeat",
			Name:      "polls_total",
			Help:      "Total number of client heartbeat polls, by resulting action.",
		},
		[]string{"action"},
	)

	cryptoOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedmesh",
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Total number of envelope encrypt/decrypt/sign/verify operations.",
		},
		[]string{"operation", "status"},
	)

	cryptoBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedmesh",
			Subsystem: "crypto",
			Name:      "bytes_total",
			Help:      "Total plaintext bytes streamed through envelope operations.",
		},
		[]string{"operation"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		jobTransitions,
		jobDuration,
		heartbeatPolls,
		cryptoOperations,
		cryptoBytes,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordJobTransition records a job status transition.
func RecordJobTransition(kind, from, to string) {
	jobTransitions.WithLabelValues(kind, from, to).Inc()
}

// RecordJobRunDuration records how long a job spent RUNNING before reaching
// a terminal state.
func RecordJobRunDuration(kind, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// RecordHeartbeatPoll records the action a heartbeat poll resolved to.
func RecordHeartbeatPoll(action string) {
	if action == "" {
		action = "nothing"
	}
	heartbeatPolls.WithLabelValues(action).Inc()
}

// RecordCryptoOperation records an envelope/signature operation outcome.
func RecordCryptoOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cryptoOperations.WithLabelValues(operation, status).Inc()
}

// RecordCryptoBytes records plaintext bytes streamed through an envelope
// operation (encrypt or decrypt).
func RecordCryptoBytes(operation string, n int) {
	if n <= 0 {
		return
	}
	cryptoBytes.WithLabelValues(operation).Add(float64(n))
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates corekit observation hooks backed by Prometheus metrics.
func ObservationHooks(namespace, subsystem, name string) corekit.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return corekit.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["artifact_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["job_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["component_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// SchedulerTickHooks captures one scheduler tick pass (lease reclaim).
func SchedulerTickHooks() corekit.ObservationHooks {
	return ObservationHooks("fedmesh", "scheduler", "tick")
}

// PlannerHooks captures artifact planning attempts.
func PlannerHooks() corekit.ObservationHooks {
	return ObservationHooks("fedmesh", "planner", "plan")
}

// DispatchHooks captures task-executor dispatch attempts.
func DispatchHooks() corekit.DispatchHooks {
	return corekit.DispatchHooks(ObservationHooks("fedmesh", "dispatch", "execute"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path segments that carry an id into a stable label
// so per-id cardinality never leaks into Prometheus label values.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "worker":
		if len(parts) >= 2 {
			return "/worker/" + parts[1] + "/:id"
		}
		return "/worker"
	case "workbench":
		if len(parts) >= 2 {
			return "/workbench/" + parts[1] + "/:id"
		}
		return "/workbench"
	default:
		return "/" + parts[0]
	}
}
