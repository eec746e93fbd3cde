// Package store persists jobs and tasks. Records are stored as JSON blobs
// keyed by their identifiers, with the columns the API needs to filter on
// lifted out. State survives process restarts, which is what makes resuming
// and inspecting past research jobs possible.
package store

import (
	"context"

	"github.com/casualjim/delver/research"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a job or task does not exist.
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.What + " " + e.ID + " not found"
}

// Store is the persistence boundary of the orchestrator. All methods are safe
// for concurrent use.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, job *research.Job) error

	// GetJob loads a job by ID. Returns *NotFoundError when it does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*research.Job, error)

	// ListJobs returns all jobs, newest first.
	ListJobs(ctx context.Context) ([]*research.Job, error)

	// SaveJob overwrites the stored job with the given state.
	SaveJob(ctx context.Context, job *research.Job) error

	// InsertTasks persists the tasks of a freshly planned job, in plan order.
	InsertTasks(ctx context.Context, tasks []research.Task) error

	// GetTask loads one task. Returns *NotFoundError when it does not exist.
	GetTask(ctx context.Context, jobID uuid.UUID, taskID string) (*research.Task, error)

	// TasksForJob returns a job's tasks in plan order.
	TasksForJob(ctx context.Context, jobID uuid.UUID) ([]research.Task, error)

	// SaveTask overwrites the stored task with the given state.
	SaveTask(ctx context.Context, task *research.Task) error

	Close() error
}
