// Package result holds the Result entity: a pointer to an opaque blob plus
// its provenance.
package result

import "time"

// Result tracks one partial or aggregated output and links it back to the
// job and artifact that produced it. Its blob Path is assigned at creation
// by the result store and never rewritten.
type Result struct {
	ID           string
	JobID        string
	ArtifactID   string
	ProducerID   string // component that produced it
	Iteration    int
	IsModel      bool
	IsEstimation bool
	IsAggregation bool
	IsError      bool
	Path         string
	CreatedAt    time.Time
}

// Tag derives the blob-path tag used by the result store: PARTIAL,
// AGGREGATED, or ERROR.
func (r Result) Tag() string {
	switch {
	case r.IsError:
		return "ERROR"
	case r.IsAggregation:
		return "AGGREGATED"
	default:
		return "PARTIAL"
	}
}

// Suffix derives the blob-path suffix: .model or .estimator.
func (r Result) Suffix() string {
	if r.IsModel {
		return ".model"
	}
	if r.IsEstimation {
		return ".estimator"
	}
	return ""
}
