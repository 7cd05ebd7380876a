// Package job holds the Job entity: one unit of scheduled work and its
// state machine.
package job

import "time"

// Kind distinguishes a per-datasource partial job from a per-iteration
// aggregation job.
type Kind string

const (
	KindPartial     Kind = "PARTIAL"
	KindAggregation Kind = "AGGREGATION"
)

// Status is a Job's position in its state machine. CREATED and SCHEDULED
// are pre-execution; RUNNING is leased to a worker; DONE and ERROR are
// terminal and absorbing — no transition leaves them.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusDone      Status = "DONE"
	StatusError     Status = "ERROR"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// legalTransitions enumerates the only state changes the scheduler may make.
// Re-entering a terminal state (old == new) is always a legal no-op and is
// checked separately by CanTransition.
var legalTransitions = map[Status]map[Status]bool{
	StatusCreated:   {StatusScheduled: true},
	StatusScheduled: {StatusRunning: true, StatusError: true},
	StatusRunning:   {StatusDone: true, StatusError: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal. A
// terminal 'from' only permits staying put (to == from), which callers
// should treat as a no-op rather than re-applying side effects.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return legalTransitions[from][to]
}

// Job is a unit of scheduled work. It is mutated only by the planner on
// creation, the scheduler on transition, and the owning worker on
// completion.
type Job struct {
	ID          string
	ArtifactID  string
	ComponentID string // who must execute it
	Iteration   int    // 0-based
	Kind        Kind
	Status      Status
	ContentIDs  []string // datasource hashes for PARTIAL, result ids for AGGREGATION
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}
