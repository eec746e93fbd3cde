package events

import (
	"errors"
	"fmt"

	"github.com/casualjim/delver/research"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	jobQueuedJSON     = []byte(`{"type":"job_queued"}`)
	planReadyJSON     = []byte(`{"type":"plan_ready"}`)
	taskStartedJSON   = []byte(`{"type":"task_started"}`)
	taskCompletedJSON = []byte(`{"type":"task_completed"}`)
	taskRetryingJSON  = []byte(`{"type":"task_retrying"}`)
	taskFailedJSON    = []byte(`{"type":"task_failed"}`)
	jobCompletedJSON  = []byte(`{"type":"job_completed"}`)
	errorJSON         = []byte(`{"type":"error"}`)
)

type Event interface {
	event()
}

// JobQueued is published when a job has been accepted and persisted.
type JobQueued struct {
	JobID     uuid.UUID       `json:"job_id"`
	Query     string          `json:"query"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (JobQueued) event() {}

// PlanReady is published when the planner produced a plan for the job.
// Fallback reports whether the default plan was used because the model's
// plan was invalid.
type PlanReady struct {
	JobID     uuid.UUID       `json:"job_id"`
	Plan      json.RawMessage `json:"plan"`
	Fallback  bool            `json:"fallback,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (PlanReady) event() {}

// TaskStarted is published at the beginning of every task attempt.
type TaskStarted struct {
	JobID     uuid.UUID         `json:"job_id"`
	TaskID    string            `json:"task_id"`
	Kind      research.TaskKind `json:"kind"`
	Attempt   int               `json:"attempt"`
	Timestamp strfmt.DateTime   `json:"timestamp,omitempty"`
}

func (TaskStarted) event() {}

// TaskCompleted is published when a task produced its result.
type TaskCompleted struct {
	JobID     uuid.UUID         `json:"job_id"`
	TaskID    string            `json:"task_id"`
	Kind      research.TaskKind `json:"kind"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Timestamp strfmt.DateTime   `json:"timestamp,omitempty"`
}

func (TaskCompleted) event() {}

// TaskRetrying is published when an attempt failed but the task has
// attempts left.
type TaskRetrying struct {
	JobID     uuid.UUID       `json:"job_id"`
	TaskID    string          `json:"task_id"`
	Attempt   int             `json:"attempt"`
	Err       error           `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (TaskRetrying) event() {}

// TaskFailed is published when a task exhausted its attempts. The job fails
// with it.
type TaskFailed struct {
	JobID     uuid.UUID       `json:"job_id"`
	TaskID    string          `json:"task_id"`
	Err       error           `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (TaskFailed) event() {}

// JobCompleted is published when the job's report is ready.
type JobCompleted struct {
	JobID     uuid.UUID       `json:"job_id"`
	Report    json.RawMessage `json:"report,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (JobCompleted) event() {}

// Error is an event that carries a failure with its run context.
type Error struct {
	JobID     uuid.UUID       `json:"job_id"`
	Sender    string          `json:"sender,omitempty"`
	Err       error           `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Error) event() {}

func (e Error) Error() string {
	return fmt.Sprintf("job_id: %s, sender: %s, timestamp: %s, error: %v", e.JobID, e.Sender, e.Timestamp, e.Err)
}

// MarshalJSON implements custom JSON marshaling for JobQueued
func (e JobQueued) MarshalJSON() ([]byte, error) {
	result, err := setCommon(jobQueuedJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "query", e.Query)
}

// UnmarshalJSON implements custom JSON unmarshaling for JobQueued
func (e *JobQueued) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "job_queued", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	e.Query = gjson.GetBytes(data, "query").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for PlanReady
func (e PlanReady) MarshalJSON() ([]byte, error) {
	result, err := setCommon(planReadyJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if len(e.Plan) > 0 {
		result, err = sjson.SetRawBytes(result, "plan", e.Plan)
		if err != nil {
			return nil, err
		}
	}
	if e.Fallback {
		result, err = sjson.SetBytes(result, "fallback", true)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for PlanReady
func (e *PlanReady) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "plan_ready", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	if plan := gjson.GetBytes(data, "plan"); plan.Exists() {
		e.Plan = json.RawMessage(plan.Raw)
	}
	e.Fallback = gjson.GetBytes(data, "fallback").Bool()
	return nil
}

// MarshalJSON implements custom JSON marshaling for TaskStarted
func (e TaskStarted) MarshalJSON() ([]byte, error) {
	result, err := setCommon(taskStartedJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "task_id", e.TaskID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "kind", string(e.Kind))
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "attempt", e.Attempt)
}

// UnmarshalJSON implements custom JSON unmarshaling for TaskStarted
func (e *TaskStarted) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "task_started", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	e.TaskID = gjson.GetBytes(data, "task_id").String()
	e.Kind = research.TaskKind(gjson.GetBytes(data, "kind").String())
	e.Attempt = int(gjson.GetBytes(data, "attempt").Int())
	return nil
}

// MarshalJSON implements custom JSON marshaling for TaskCompleted
func (e TaskCompleted) MarshalJSON() ([]byte, error) {
	result, err := setCommon(taskCompletedJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "task_id", e.TaskID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "kind", string(e.Kind))
	if err != nil {
		return nil, err
	}
	if len(e.Result) > 0 {
		result, err = sjson.SetRawBytes(result, "result", e.Result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for TaskCompleted
func (e *TaskCompleted) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "task_completed", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	e.TaskID = gjson.GetBytes(data, "task_id").String()
	e.Kind = research.TaskKind(gjson.GetBytes(data, "kind").String())
	if res := gjson.GetBytes(data, "result"); res.Exists() {
		e.Result = json.RawMessage(res.Raw)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for TaskRetrying
func (e TaskRetrying) MarshalJSON() ([]byte, error) {
	result, err := setCommon(taskRetryingJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "task_id", e.TaskID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "attempt", e.Attempt)
	if err != nil {
		return nil, err
	}
	return setErr(result, e.Err)
}

// UnmarshalJSON implements custom JSON unmarshaling for TaskRetrying
func (e *TaskRetrying) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "task_retrying", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	e.TaskID = gjson.GetBytes(data, "task_id").String()
	e.Attempt = int(gjson.GetBytes(data, "attempt").Int())
	e.Err = parseErr(data)
	return nil
}

// MarshalJSON implements custom JSON marshaling for TaskFailed
func (e TaskFailed) MarshalJSON() ([]byte, error) {
	result, err := setCommon(taskFailedJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "task_id", e.TaskID)
	if err != nil {
		return nil, err
	}
	return setErr(result, e.Err)
}

// UnmarshalJSON implements custom JSON unmarshaling for TaskFailed
func (e *TaskFailed) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "task_failed", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	e.TaskID = gjson.GetBytes(data, "task_id").String()
	e.Err = parseErr(data)
	return nil
}

// MarshalJSON implements custom JSON marshaling for JobCompleted
func (e JobCompleted) MarshalJSON() ([]byte, error) {
	result, err := setCommon(jobCompletedJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if len(e.Report) > 0 {
		result, err = sjson.SetRawBytes(result, "report", e.Report)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for JobCompleted
func (e *JobCompleted) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "job_completed", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	if rep := gjson.GetBytes(data, "report"); rep.Exists() {
		e.Report = json.RawMessage(rep.Raw)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for Error
func (e Error) MarshalJSON() ([]byte, error) {
	result, err := setCommon(errorJSON, e.JobID, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if e.Sender != "" {
		result, err = sjson.SetBytes(result, "sender", e.Sender)
		if err != nil {
			return nil, err
		}
	}
	return setErr(result, e.Err)
}

// UnmarshalJSON implements custom JSON unmarshaling for Error
func (e *Error) UnmarshalJSON(data []byte) error {
	if err := parseCommon(data, "error", &e.JobID, &e.Timestamp); err != nil {
		return err
	}
	e.Sender = gjson.GetBytes(data, "sender").String()
	e.Err = parseErr(data)
	return nil
}

// ToJSON marshals any event to its wire representation.
func ToJSON(event Event) ([]byte, error) {
	switch e := event.(type) {
	case JobQueued:
		return e.MarshalJSON()
	case PlanReady:
		return e.MarshalJSON()
	case TaskStarted:
		return e.MarshalJSON()
	case TaskCompleted:
		return e.MarshalJSON()
	case TaskRetrying:
		return e.MarshalJSON()
	case TaskFailed:
		return e.MarshalJSON()
	case JobCompleted:
		return e.MarshalJSON()
	case Error:
		return e.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown event type: %T", event)
	}
}

// FromJSON decodes an event from its wire representation, dispatching on the
// "type" discriminator.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}

	switch kind := gjson.GetBytes(data, "type").String(); kind {
	case "job_queued":
		var e JobQueued
		return e, e.UnmarshalJSON(data)
	case "plan_ready":
		var e PlanReady
		return e, e.UnmarshalJSON(data)
	case "task_started":
		var e TaskStarted
		return e, e.UnmarshalJSON(data)
	case "task_completed":
		var e TaskCompleted
		return e, e.UnmarshalJSON(data)
	case "task_retrying":
		var e TaskRetrying
		return e, e.UnmarshalJSON(data)
	case "task_failed":
		var e TaskFailed
		return e, e.UnmarshalJSON(data)
	case "job_completed":
		var e JobCompleted
		return e, e.UnmarshalJSON(data)
	case "error":
		var e Error
		return e, e.UnmarshalJSON(data)
	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
}

func setCommon(marker []byte, jobID uuid.UUID, ts strfmt.DateTime) ([]byte, error) {
	result, err := sjson.SetBytes(marker, "job_id", jobID.String())
	if err != nil {
		return nil, err
	}
	if !ts.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", ts.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func parseCommon(data []byte, want string, jobID *uuid.UUID, ts *strfmt.DateTime) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != want {
		return fmt.Errorf("missing or invalid type, expected %q", want)
	}

	raw := gjson.GetBytes(data, "job_id")
	if !raw.Exists() {
		return fmt.Errorf("missing required field 'job_id'")
	}
	if err := jobID.UnmarshalText([]byte(raw.String())); err != nil {
		return fmt.Errorf("invalid job_id: %w", err)
	}

	if stamp := gjson.GetBytes(data, "timestamp"); stamp.Exists() {
		return ts.UnmarshalText([]byte(stamp.String()))
	}
	return nil
}

func setErr(result []byte, err error) ([]byte, error) {
	if err == nil {
		return result, nil
	}
	return sjson.SetBytes(result, "error", err.Error())
}

func parseErr(data []byte) error {
	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		return errors.New(msg.String())
	}
	return nil
}
