// Package datasource holds the DataSource entity: a dataset owned by one
// component and identified by a content-derived hash.
package datasource

import "time"

// DataSource is owned by one component and carries the feature metadata the
// planner uses to decide how a submitted artifact decomposes.
type DataSource struct {
	Hash          string // content-derived identity
	ComponentID   string // owning component
	ProjectToken  string
	Name          string
	NumFeatures   int
	NumRecords    int
	Removed       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
