// Package planner defines the boundary to the collaborator that turns a
// task's query into a structured result. Natural-language interpretation is
// out of scope here: implementations report their outcome through the
// explicit Result.Status field, never through the text itself.
package planner

import "context"

type Status string

const (
	StatusWorking       Status = "working"
	StatusInputRequired Status = "input_required"
	StatusCompleted     Status = "completed"
)

type Result struct {
	Status Status
	Text   string
}

type Planner interface {
	// Invoke resolves the query synchronously.
	Invoke(ctx context.Context, query, sessionID string) (Result, error)
	// Stream yields incremental results; the channel closes after the last
	// one. The final result's status decides the task's terminal state.
	Stream(ctx context.Context, query, sessionID string) (<-chan Result, error)
}
