// Package dispatch defines the TaskExecutor capability and an in-process
// implementation. In-process, cross-process, and remote executors all
// satisfy the same interface so the client's heartbeat loop never needs to
// know which one is wired in.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/fedmesh/node/internal/corekit"
	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/metrics"
	"github.com/fedmesh/node/internal/registry"
)

// Task is the decrypted parameters for one job execution: the descriptor to
// resolve in the registry, the opaque extract/transform query, and the
// content ids (datasource hashes for a PARTIAL job, result ids for an
// AGGREGATION job) to run against.
type Task struct {
	Job        job.Job
	Descriptor artifact.Descriptor
	Query      []byte
	ContentIDs []string
}

// Outcome is what a TaskExecutor returns: either a successful blob payload
// or a TaskError describing why execution failed. Exactly one is set.
type Outcome struct {
	Blob  []byte
	Error *TaskError
}

// TaskError is the in-band execution failure a client reports back to the
// coordinator; it is persisted as a Result with IsError set rather than
// retried by the core.
type TaskError struct {
	Message string
}

func (e *TaskError) Error() string { return e.Message }

// TaskExecutor runs one Task to completion. Implementations may run
// in-process, in a subprocess, or on a remote worker; the caller never
// branches on which.
type TaskExecutor interface {
	Execute(ctx context.Context, task Task) (Outcome, error)
}

// InProcessExecutor resolves the task's descriptor in a registry and runs
// it synchronously in the calling goroutine.
type InProcessExecutor struct {
	registry *registry.Registry
	tracer   corekit.Tracer
	run      func(ctx context.Context, task Task, cap registry.Capability) (Outcome, error)
}

// NewInProcessExecutor constructs an InProcessExecutor. run is the actual
// training/estimation/aggregation routine invoked once the task's
// descriptor has been resolved against reg.
func NewInProcessExecutor(reg *registry.Registry, run func(ctx context.Context, task Task, cap registry.Capability) (Outcome, error)) *InProcessExecutor {
	return &InProcessExecutor{registry: reg, tracer: corekit.NoopTracer, run: run}
}

// WithTracer configures a tracer for execution spans.
func (e *InProcessExecutor) WithTracer(tracer corekit.Tracer) {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	e.tracer = tracer
}

func (e *InProcessExecutor) Execute(ctx context.Context, task Task) (Outcome, error) {
	spanCtx, finish := e.tracer.StartSpan(ctx, "dispatch.execute", map[string]string{
		"job_id": task.Job.ID,
		"kind":   string(task.Job.Kind),
	})
	cap, err := e.registry.Resolve(task.Descriptor)
	if err != nil {
		finish(err)
		return Outcome{}, fmt.Errorf("dispatch: resolve capability: %w", err)
	}

	start := time.Now()
	outcome, err := e.run(spanCtx, task, cap)
	status := "ok"
	if err != nil || outcome.Error != nil {
		status = "error"
	}
	metrics.RecordJobRunDuration(string(task.Job.Kind), status, time.Since(start))
	finish(err)
	if err != nil {
		return Outcome{}, fmt.Errorf("dispatch: execute task: %w", err)
	}
	return outcome, nil
}
