// Package artifact holds the Artifact entity: an immutable user submission
// that the planner expands into a job DAG.
package artifact

import (
	"errors"
	"time"
)

// Status tracks an artifact through planning and execution.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// QueryPlan is the opaque extract/transform query the planner hands to every
// partial job unchanged; the core never interprets its contents.
type QueryPlan struct {
	Query []byte
}

// DescriptorKind distinguishes a model from an estimator. Exactly one of the
// two may be set on an Artifact (see Validate).
type DescriptorKind string

const (
	KindModel     DescriptorKind = "MODEL"
	KindEstimator DescriptorKind = "ESTIMATOR"
)

// Descriptor is the tagged-variant handle the core transfers and counts
// without interpreting; concrete model/estimator implementations live behind
// internal/registry, keyed by Tag.
type Descriptor struct {
	Kind DescriptorKind
	Tag  string // registry key, e.g. "logistic_regression", "mean_estimator"
	Spec []byte // opaque serialized hyperparameters
}

// ExecutionPlan declares how many rounds an artifact runs and how partials
// are combined each round.
type ExecutionPlan struct {
	Iterations          int
	AggregationStrategy string
}

// Artifact is immutable once accepted: the planner reads it to build the job
// DAG and never rewrites it except to record Status and CurrentIteration.
type Artifact struct {
	ID              string
	ProjectToken    string
	Query           QueryPlan
	Descriptor      Descriptor
	Execution       ExecutionPlan
	Status          Status
	CurrentIteration int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate enforces the invariants from the data model: exactly one of
// {model, estimator} is set and iterations is at least 1.
func (a Artifact) Validate() error {
	switch a.Descriptor.Kind {
	case KindModel, KindEstimator:
	default:
		return errInvalidDescriptor
	}
	if a.Execution.Iterations < 1 {
		return errInvalidIterations
	}
	return nil
}

var (
	errInvalidDescriptor = errors.New("artifact must set exactly one of model or estimator")
	errInvalidIterations = errors.New("artifact iterations must be >= 1")
)
