package research

import (
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// JobStatus tracks a research job through its lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobPlanning  JobStatus = "planning"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a single research request. Its plan is produced by the planner
// agent and its report by the reasoner once every task has completed.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Query      string          `json:"query"`
	Status     JobStatus       `json:"status"`
	MaxResults int             `json:"max_results,omitempty"`
	Report     *Report         `json:"report,omitempty"`
	Failure    string          `json:"failure,omitempty"`
	CreatedAt  strfmt.DateTime `json:"created_at"`
	UpdatedAt  strfmt.DateTime `json:"updated_at"`
}

// Report is the final product of a job: a rendered markdown document plus
// the structured findings and the sources they were drawn from.
type Report struct {
	Markdown string   `json:"markdown"`
	Findings []string `json:"findings,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}
