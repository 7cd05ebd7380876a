// Package project holds the Project entity: a named capability scope bound
// to a token that references a set of datasources.
package project

import "time"

// Project is a named capability scope. A workbench submission operates
// against exactly one project.
type Project struct {
	Token       string // the project token, distinct from a component's auth token
	Name        string
	Description string
	CreatedAt   time.Time
}
