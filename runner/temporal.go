package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/delver/agent"
	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/filter"
	"github.com/casualjim/delver/internal/broker"
	"github.com/casualjim/delver/planner"
	"github.com/casualjim/delver/provider/models"
	"github.com/casualjim/delver/reason"
	"github.com/casualjim/delver/research"
	"github.com/casualjim/delver/search"
	"github.com/casualjim/delver/store"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the queue research workflows and their activities run on.
const TaskQueue = "delver-research"

var _ Runner = (*TemporalProxy)(nil)

// TemporalProxy submits jobs as Temporal workflows. The workflow and its
// activities run on a worker built with NewWorker, retries are handled by
// Temporal's retry policies instead of in-process backoff.
type TemporalProxy struct {
	client   client.Client
	broker   broker.Broker
	planner  api.Agent
	reasoner api.Agent
}

func NewTemporalProxy(c client.Client, b broker.Broker, plannerAgent, reasonerAgent api.Agent) *TemporalProxy {
	return &TemporalProxy{
		client:   c,
		broker:   b,
		planner:  plannerAgent,
		reasoner: reasonerAgent,
	}
}

func (t *TemporalProxy) Run(ctx context.Context, cmd JobCommand, promise Promise) error {
	if err := cmd.Validate(); err != nil {
		promise.Error(err)
		return err
	}

	topic := t.broker.Topic(ctx, cmd.ID().String())
	sub, err := topic.Subscribe(ctx, cmd.Hook)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fut, err := t.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "research-" + cmd.ID().String(),
		TaskQueue: TaskQueue,
	}, "ResearchJob", RemoteJobCommand{
		ID:          cmd.ID(),
		Query:       cmd.Query,
		MaxResults:  cmd.MaxResults,
		MaxAttempts: cmd.MaxAttempts,
		Planner:     remoteAgentFrom(t.planner),
		Reasoner:    remoteAgentFrom(t.reasoner),
	})
	if err != nil {
		promise.Error(err)
		return err
	}

	var report string
	if err := fut.Get(ctx, &report); err != nil {
		promise.Error(err)
		return err
	}
	promise.Complete(report)
	return nil
}

// RemoteJobCommand is the serializable form of a job submission. Agents
// travel as name + model + instructions, the worker rehydrates the model
// from its own registry.
type RemoteJobCommand struct {
	ID          uuid.UUID   `json:"id"`
	Query       string      `json:"query"`
	MaxResults  int         `json:"max_results"`
	MaxAttempts int         `json:"max_attempts"`
	Planner     RemoteAgent `json:"planner"`
	Reasoner    RemoteAgent `json:"reasoner"`
}

type RemoteAgent struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

func remoteAgentFrom(a api.Agent) RemoteAgent {
	return RemoteAgent{
		Name:         a.Name(),
		Model:        a.Model().Name(),
		Instructions: a.Instructions(),
	}
}

func (a RemoteAgent) rehydrate() (api.Agent, error) {
	model, ok := models.Get(a.Model)
	if !ok {
		return nil, fmt.Errorf("model %s not registered on this worker", a.Model)
	}
	return agent.New(
		agent.Name(a.Name),
		agent.Model(model),
		agent.Instructions(a.Instructions),
	), nil
}

// Temporal carries the worker-side dependencies of the research workflow.
type Temporal struct {
	store    store.Store
	broker   broker.Broker
	searcher search.Searcher
}

// NewWorker builds a Temporal worker serving the research task queue.
func NewWorker(c client.Client, st store.Store, br broker.Broker, searcher search.Searcher) worker.Worker {
	t := &Temporal{store: st, broker: br, searcher: searcher}
	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(t.ResearchJob, workflow.RegisterOptions{Name: "ResearchJob"})
	w.RegisterActivity(t.PlanJob)
	w.RegisterActivity(t.ExecuteTask)
	w.RegisterActivity(t.CompleteJob)
	w.RegisterActivity(t.FailJob)
	return w
}

// planOutcome is what the planning activity hands back to the workflow.
type planOutcome struct {
	Tasks []research.Task `json:"tasks"`
}

// taskRef identifies one task execution inside the workflow.
type taskRef struct {
	JobID    uuid.UUID   `json:"job_id"`
	TaskID   string      `json:"task_id"`
	Query    string      `json:"query"`
	MaxTotal int         `json:"max_total"`
	Reasoner RemoteAgent `json:"reasoner"`
}

// ResearchJob is the workflow: plan, run tasks stage by stage, complete.
// Task-level retries are delegated to the activity retry policy.
func (t *Temporal) ResearchJob(ctx workflow.Context, cmd RemoteJobCommand) (string, error) {
	planCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    2,
		},
	})

	var outcome planOutcome
	if err := workflow.ExecuteActivity(planCtx, t.PlanJob, cmd).Get(ctx, &outcome); err != nil {
		return "", t.failWorkflow(ctx, cmd.ID, err)
	}

	completed := make(map[string]bool, len(outcome.Tasks))
	for len(completed) < len(outcome.Tasks) {
		var stage []research.Task
		for _, task := range outcome.Tasks {
			if completed[task.ID] || !task.Ready(completed) {
				continue
			}
			stage = append(stage, task)
		}
		if len(stage) == 0 {
			err := errors.New("no runnable tasks remain")
			return "", t.failWorkflow(ctx, cmd.ID, err)
		}

		futures := make([]workflow.Future, len(stage))
		for i, task := range stage {
			taskCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
				StartToCloseTimeout: 10 * time.Minute,
				HeartbeatTimeout:    time.Minute,
				RetryPolicy: &temporal.RetryPolicy{
					InitialInterval:    time.Second,
					MaximumInterval:    30 * time.Second,
					BackoffCoefficient: 2.0,
					MaximumAttempts:    int32(task.MaxAttempts),
				},
			})
			futures[i] = workflow.ExecuteActivity(taskCtx, t.ExecuteTask, taskRef{
				JobID:    cmd.ID,
				TaskID:   task.ID,
				Query:    cmd.Query,
				MaxTotal: cmd.MaxResults,
				Reasoner: cmd.Reasoner,
			})
		}
		for i, fut := range futures {
			if err := fut.Get(ctx, nil); err != nil {
				return "", t.failWorkflow(ctx, cmd.ID, fmt.Errorf("task %s: %w", stage[i].ID, err))
			}
			completed[stage[i].ID] = true
		}
	}

	finishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	var report string
	if err := workflow.ExecuteActivity(finishCtx, t.CompleteJob, cmd.ID).Get(ctx, &report); err != nil {
		return "", t.failWorkflow(ctx, cmd.ID, err)
	}
	return report, nil
}

func (t *Temporal) failWorkflow(ctx workflow.Context, jobID uuid.UUID, cause error) error {
	failCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    100 * time.Millisecond,
			MaximumInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	})
	if err := workflow.ExecuteActivity(failCtx, t.FailJob, jobID, cause.Error()).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to mark job as failed", "error", err)
	}
	return cause
}

// PlanJob creates and plans the job. It publishes JobQueued and PlanReady
// and leaves the job in the running state with its tasks persisted.
func (t *Temporal) PlanJob(ctx context.Context, cmd RemoteJobCommand) (planOutcome, error) {
	log := activity.GetLogger(ctx)
	log.Info("planning research job", "job_id", cmd.ID, "query", cmd.Query)

	plannerAgent, err := cmd.Planner.rehydrate()
	if err != nil {
		return planOutcome{}, err
	}

	job := &research.Job{
		ID:         cmd.ID,
		Query:      cmd.Query,
		Status:     research.JobPending,
		MaxResults: cmd.MaxResults,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return planOutcome{}, err
	}
	topic := t.broker.Topic(ctx, job.ID.String())
	_ = topic.Publish(ctx, events.JobQueued{JobID: job.ID, Query: job.Query, Timestamp: now()})

	job.Status = research.JobPlanning
	job.UpdatedAt = now()
	if err := t.store.SaveJob(ctx, job); err != nil {
		return planOutcome{}, err
	}

	plan, fallback, err := planner.New(plannerAgent).BuildPlan(ctx, job.ID, job.Query, job.MaxResults)
	if err != nil {
		return planOutcome{}, err
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return planOutcome{}, err
	}
	_ = topic.Publish(ctx, events.PlanReady{JobID: job.ID, Plan: planJSON, Fallback: fallback, Timestamp: now()})

	tasks := materializeTasks(job, plan, cmd.MaxAttempts)
	if err := t.store.InsertTasks(ctx, tasks); err != nil {
		return planOutcome{}, err
	}

	job.Status = research.JobRunning
	job.UpdatedAt = now()
	if err := t.store.SaveJob(ctx, job); err != nil {
		return planOutcome{}, err
	}
	return planOutcome{Tasks: tasks}, nil
}

// ExecuteTask runs a single attempt of one task. Temporal drives the retry
// loop, the attempt number comes from the activity info.
func (t *Temporal) ExecuteTask(ctx context.Context, ref taskRef) error {
	attempt := int(activity.GetInfo(ctx).Attempt)
	topic := t.broker.Topic(ctx, ref.JobID.String())

	task, err := t.store.GetTask(ctx, ref.JobID, ref.TaskID)
	if err != nil {
		return err
	}

	if task.Status == research.TaskRetrying {
		_ = topic.Publish(ctx, events.TaskRetrying{
			JobID: ref.JobID, TaskID: task.ID, Attempt: attempt,
			Err: errors.New(task.LastError), Timestamp: now(),
		})
		task.Status = research.TaskRunning
	} else {
		task.Status = research.TaskRunning
	}
	task.Attempts = attempt
	task.UpdatedAt = now()
	if err := t.store.SaveTask(ctx, task); err != nil {
		return err
	}
	_ = topic.Publish(ctx, events.TaskStarted{
		JobID: ref.JobID, TaskID: task.ID, Kind: task.Kind, Attempt: attempt, Timestamp: now(),
	})

	result, runErr := t.runTaskOnce(ctx, ref, task)
	if runErr != nil {
		task.LastError = runErr.Error()
		if attempt >= task.MaxAttempts {
			task.Status = research.TaskFailed
			task.UpdatedAt = now()
			_ = t.store.SaveTask(ctx, task)
			_ = topic.Publish(ctx, events.TaskFailed{JobID: ref.JobID, TaskID: task.ID, Err: runErr, Timestamp: now()})
			return temporal.NewNonRetryableApplicationError("task attempts exhausted", "task_failed", runErr)
		}
		task.Status = research.TaskRetrying
		task.UpdatedAt = now()
		_ = t.store.SaveTask(ctx, task)
		return runErr
	}

	task.Result = result
	task.LastError = ""
	task.Status = research.TaskCompleted
	task.UpdatedAt = now()
	if err := t.store.SaveTask(ctx, task); err != nil {
		return err
	}
	_ = topic.Publish(ctx, events.TaskCompleted{
		JobID: ref.JobID, TaskID: task.ID, Kind: task.Kind, Result: result, Timestamp: now(),
	})
	return nil
}

func (t *Temporal) runTaskOnce(ctx context.Context, ref taskRef, task *research.Task) (json.RawMessage, error) {
	switch task.Kind {
	case research.KindSearch:
		var payload searchPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode search payload: %w", err)
		}
		results, err := t.searcher.Search(ctx, payload.Query, payload.MaxResults)
		if err != nil {
			return nil, err
		}
		return json.Marshal(taskOutput{Results: results})

	case research.KindFilter:
		gathered, err := t.gatherDependencies(ctx, ref.JobID, task)
		if err != nil {
			return nil, err
		}
		return json.Marshal(taskOutput{Results: filter.Apply(gathered, ref.MaxTotal)})

	case research.KindReason:
		reasonerAgent, err := ref.Reasoner.rehydrate()
		if err != nil {
			return nil, err
		}
		gathered, err := t.gatherDependencies(ctx, ref.JobID, task)
		if err != nil {
			return nil, err
		}
		report, err := reason.New(reasonerAgent).Summarize(ctx, ref.JobID, ref.Query, gathered)
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)

	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (t *Temporal) gatherDependencies(ctx context.Context, jobID uuid.UUID, task *research.Task) ([]research.SearchResult, error) {
	var all []research.SearchResult
	for _, dep := range task.DependsOn {
		d, err := t.store.GetTask(ctx, jobID, dep)
		if err != nil {
			return nil, err
		}
		var out taskOutput
		if err := json.Unmarshal(d.Result, &out); err != nil {
			return nil, fmt.Errorf("decode result of task %s: %w", dep, err)
		}
		all = append(all, out.Results...)
	}
	return all, nil
}

// CompleteJob decodes the reason task's report, marks the job completed and
// publishes the terminal event. Returns the report JSON.
func (t *Temporal) CompleteJob(ctx context.Context, jobID uuid.UUID) (string, error) {
	tasks, err := t.store.TasksForJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	var report research.Report
	var found bool
	for _, task := range tasks {
		if task.Kind == research.KindReason {
			if err := json.Unmarshal(task.Result, &report); err != nil {
				return "", fmt.Errorf("decode report: %w", err)
			}
			found = true
			break
		}
	}
	if !found {
		return "", errors.New("job has no reason task")
	}

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	job.Report = &report
	job.Status = research.JobCompleted
	job.Failure = ""
	job.UpdatedAt = now()
	if err := t.store.SaveJob(ctx, job); err != nil {
		return "", err
	}

	reportJSON, err := json.Marshal(&report)
	if err != nil {
		return "", err
	}
	_ = t.broker.Topic(ctx, jobID.String()).Publish(ctx, events.JobCompleted{
		JobID: jobID, Report: reportJSON, Timestamp: now(),
	})
	return string(reportJSON), nil
}

// FailJob marks the job failed and publishes the terminal error event.
func (t *Temporal) FailJob(ctx context.Context, jobID uuid.UUID, cause string) error {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = research.JobFailed
	job.Failure = cause
	job.UpdatedAt = now()
	if err := t.store.SaveJob(ctx, job); err != nil {
		return err
	}
	_ = t.broker.Topic(ctx, jobID.String()).Publish(ctx, events.Error{
		JobID: jobID, Sender: "runner", Err: errors.New(cause), Timestamp: now(),
	})
	return nil
}
