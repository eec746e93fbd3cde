package research

import (
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TaskKind identifies which worker executes a task.
type TaskKind string

const (
	KindSearch TaskKind = "search"
	KindFilter TaskKind = "filter"
	KindReason TaskKind = "reason"
)

// TaskStatus tracks one task through its lifecycle. Transitions are monotone
// except for the retrying -> running loop: pending -> running ->
// {completed | retrying -> running ... | failed}.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskRetrying  TaskStatus = "retrying"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ValidTransition reports whether moving from one status to another is
// allowed by the task state machine.
func ValidTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskCompleted || to == TaskRetrying || to == TaskFailed
	case TaskRetrying:
		return to == TaskRunning || to == TaskFailed
	default:
		return false
	}
}

// Task is one step of a job's plan. Payload and Result are opaque JSON so
// each task kind can define its own shape without the store caring.
type Task struct {
	ID          string          `json:"id"`
	JobID       uuid.UUID       `json:"job_id"`
	Kind        TaskKind        `json:"kind"`
	Title       string          `json:"title"`
	Status      TaskStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   strfmt.DateTime `json:"created_at"`
	UpdatedAt   strfmt.DateTime `json:"updated_at"`
}

// Ready reports whether every dependency of the task appears in the set of
// completed task IDs.
func (t *Task) Ready(completed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}
