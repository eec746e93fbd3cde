package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/filter"
	"github.com/casualjim/delver/internal/broker"
	"github.com/casualjim/delver/pkg/slogx"
	"github.com/casualjim/delver/planner"
	"github.com/casualjim/delver/reason"
	"github.com/casualjim/delver/research"
	"github.com/casualjim/delver/search"
	"github.com/casualjim/delver/store"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Runner executes one job to completion, resolving the promise with the
// report JSON or the terminal error.
type Runner interface {
	Run(ctx context.Context, command JobCommand, promise Promise) error
}

var _ Runner = (*Local)(nil)

// Local runs jobs in-process. Search tasks of the same stage run
// concurrently, filter and reason tasks run sequentially once their
// dependencies completed.
type Local struct {
	store     store.Store
	broker    broker.Broker
	planner   *planner.Planner
	searcher  search.Searcher
	reasoner  *reason.Reasoner
	retryBase time.Duration
}

var (
	Store    = opts.ForName[Local, store.Store]("store")
	Broker   = opts.ForName[Local, broker.Broker]("broker")
	Planner  = opts.ForName[Local, *planner.Planner]("planner")
	Searcher = opts.ForName[Local, search.Searcher]("searcher")
	Reasoner = opts.ForName[Local, *reason.Reasoner]("reasoner")
	// RetryBase sets the initial retry backoff interval. Tests shrink it.
	RetryBase = opts.ForName[Local, time.Duration]("retryBase")
)

// NewLocal builds a local runner. Store, broker, planner, searcher and
// reasoner are all required.
func NewLocal(options ...opts.Option[Local]) (*Local, error) {
	l := &Local{retryBase: 250 * time.Millisecond}
	if err := opts.Apply(l, options); err != nil {
		return nil, err
	}

	var err error
	if l.store == nil {
		err = errors.Join(err, errors.New("store is required"))
	}
	if l.broker == nil {
		err = errors.Join(err, errors.New("broker is required"))
	}
	if l.planner == nil {
		err = errors.Join(err, errors.New("planner is required"))
	}
	if l.searcher == nil {
		err = errors.Join(err, errors.New("searcher is required"))
	}
	if l.reasoner == nil {
		err = errors.Join(err, errors.New("reasoner is required"))
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// searchPayload is the stored input of a search task.
type searchPayload struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// taskOutput is the stored result of search and filter tasks.
type taskOutput struct {
	Results []research.SearchResult `json:"results"`
}

func now() strfmt.DateTime {
	return strfmt.DateTime(time.Now().UTC())
}

func (l *Local) Run(ctx context.Context, command JobCommand, promise Promise) error {
	if err := command.Validate(); err != nil {
		return err
	}

	job := &research.Job{
		ID:         command.ID(),
		Query:      command.Query,
		Status:     research.JobPending,
		MaxResults: command.MaxResults,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}

	topic := l.broker.Topic(ctx, job.ID.String())
	sub, err := topic.Subscribe(ctx, command.Hook)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if err := l.store.CreateJob(ctx, job); err != nil {
		promise.Error(err)
		return err
	}
	l.publish(ctx, topic, events.JobQueued{JobID: job.ID, Query: job.Query, Timestamp: now()})

	fail := func(cause error) error {
		job.Status = research.JobFailed
		job.Failure = cause.Error()
		job.UpdatedAt = now()
		if serr := l.store.SaveJob(ctx, job); serr != nil {
			slog.ErrorContext(ctx, "failed to persist failed job", slogx.JobID(job.ID), slogx.Error(serr))
		}
		l.publish(ctx, topic, events.Error{JobID: job.ID, Sender: "runner", Err: cause, Timestamp: now()})
		promise.Error(cause)
		return cause
	}

	job.Status = research.JobPlanning
	job.UpdatedAt = now()
	if err := l.store.SaveJob(ctx, job); err != nil {
		return fail(err)
	}

	plan, fallback, err := l.planner.BuildPlan(ctx, job.ID, job.Query, job.MaxResults)
	if err != nil {
		return fail(err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fail(err)
	}
	l.publish(ctx, topic, events.PlanReady{JobID: job.ID, Plan: planJSON, Fallback: fallback, Timestamp: now()})

	tasks := materializeTasks(job, plan, command.MaxAttempts)
	if err := l.store.InsertTasks(ctx, tasks); err != nil {
		return fail(err)
	}

	job.Status = research.JobRunning
	job.UpdatedAt = now()
	if err := l.store.SaveJob(ctx, job); err != nil {
		return fail(err)
	}

	report, err := l.executePlan(ctx, topic, job, tasks)
	if err != nil {
		return fail(err)
	}

	job.Report = report
	job.Status = research.JobCompleted
	job.Failure = ""
	job.UpdatedAt = now()
	if err := l.store.SaveJob(ctx, job); err != nil {
		return fail(err)
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fail(err)
	}
	l.publish(ctx, topic, events.JobCompleted{JobID: job.ID, Report: reportJSON, Timestamp: now()})
	promise.Complete(string(reportJSON))
	return nil
}

// materializeTasks turns plan steps into pending tasks, in plan order.
func materializeTasks(job *research.Job, plan *research.Plan, maxAttempts int) []research.Task {
	steps := plan.Steps()
	tasks := make([]research.Task, 0, len(steps))
	for _, step := range steps {
		attempts := step.MaxAttempts
		if attempts <= 0 {
			attempts = maxAttempts
		}
		task := research.Task{
			ID:          step.ID,
			JobID:       job.ID,
			Kind:        step.Kind,
			Title:       step.Title,
			Status:      research.TaskPending,
			MaxAttempts: attempts,
			DependsOn:   step.DependsOn,
			CreatedAt:   now(),
			UpdatedAt:   now(),
		}
		if step.Kind == research.KindSearch {
			// Payload marshaling of a plain struct cannot fail.
			task.Payload, _ = json.Marshal(searchPayload{Query: step.Query, MaxResults: step.MaxResults})
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// executePlan runs tasks stage by stage until the reason task yields the
// report. A stage is the set of tasks whose dependencies have all completed.
func (l *Local) executePlan(ctx context.Context, topic broker.Topic, job *research.Job, tasks []research.Task) (*research.Report, error) {
	byID := make(map[string]*research.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	completed := make(map[string]bool, len(tasks))
	for len(completed) < len(tasks) {
		var searches, rest []*research.Task
		for i := range tasks {
			task := &tasks[i]
			if task.Status != research.TaskPending || !task.Ready(completed) {
				continue
			}
			if task.Kind == research.KindSearch {
				searches = append(searches, task)
			} else {
				rest = append(rest, task)
			}
		}
		if len(searches) == 0 && len(rest) == 0 {
			return nil, fmt.Errorf("no runnable tasks remain, %d of %d completed", len(completed), len(tasks))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, task := range searches {
			g.Go(func() error {
				return l.runTask(gctx, topic, job, task, byID)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, task := range searches {
			completed[task.ID] = true
		}

		for _, task := range rest {
			// Dependencies may include search tasks from this same stage.
			if !task.Ready(completed) {
				continue
			}
			if err := l.runTask(ctx, topic, job, task, byID); err != nil {
				return nil, err
			}
			completed[task.ID] = true
		}
	}

	for i := range tasks {
		if tasks[i].Kind == research.KindReason {
			var report research.Report
			if err := json.Unmarshal(tasks[i].Result, &report); err != nil {
				return nil, fmt.Errorf("decode report: %w", err)
			}
			return &report, nil
		}
	}
	return nil, fmt.Errorf("plan completed without a reason task")
}

// runTask executes one task with retries. Every transition is persisted and
// published in that order.
func (l *Local) runTask(ctx context.Context, topic broker.Topic, job *research.Job, task *research.Task, byID map[string]*research.Task) error {
	bo := newBackOff(l.retryBase)
	for {
		if err := l.transition(task, research.TaskRunning); err != nil {
			return err
		}
		task.Attempts++
		if err := l.store.SaveTask(ctx, task); err != nil {
			return err
		}
		l.publish(ctx, topic, events.TaskStarted{
			JobID: job.ID, TaskID: task.ID, Kind: task.Kind, Attempt: task.Attempts, Timestamp: now(),
		})

		result, err := l.execute(ctx, job, task, byID)
		if err == nil {
			task.Result = result
			task.LastError = ""
			if terr := l.transition(task, research.TaskCompleted); terr != nil {
				return terr
			}
			if serr := l.store.SaveTask(ctx, task); serr != nil {
				return serr
			}
			l.publish(ctx, topic, events.TaskCompleted{
				JobID: job.ID, TaskID: task.ID, Kind: task.Kind, Result: result, Timestamp: now(),
			})
			return nil
		}

		task.LastError = err.Error()
		if task.Attempts >= task.MaxAttempts || ctx.Err() != nil {
			if terr := l.transition(task, research.TaskFailed); terr != nil {
				return terr
			}
			if serr := l.store.SaveTask(ctx, task); serr != nil {
				return serr
			}
			l.publish(ctx, topic, events.TaskFailed{JobID: job.ID, TaskID: task.ID, Err: err, Timestamp: now()})
			return fmt.Errorf("task %s failed after %d attempts: %w", task.ID, task.Attempts, err)
		}

		if terr := l.transition(task, research.TaskRetrying); terr != nil {
			return terr
		}
		if serr := l.store.SaveTask(ctx, task); serr != nil {
			return serr
		}
		l.publish(ctx, topic, events.TaskRetrying{
			JobID: job.ID, TaskID: task.ID, Attempt: task.Attempts, Err: err, Timestamp: now(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (l *Local) transition(task *research.Task, to research.TaskStatus) error {
	if !research.ValidTransition(task.Status, to) {
		return fmt.Errorf("task %s: invalid transition %s -> %s", task.ID, task.Status, to)
	}
	task.Status = to
	task.UpdatedAt = now()
	return nil
}

func (l *Local) execute(ctx context.Context, job *research.Job, task *research.Task, byID map[string]*research.Task) (json.RawMessage, error) {
	switch task.Kind {
	case research.KindSearch:
		var payload searchPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode search payload: %w", err)
		}
		results, err := l.searcher.Search(ctx, payload.Query, payload.MaxResults)
		if err != nil {
			return nil, err
		}
		return json.Marshal(taskOutput{Results: results})

	case research.KindFilter:
		gathered, err := dependencyResults(task, byID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(taskOutput{Results: filter.Apply(gathered, job.MaxResults)})

	case research.KindReason:
		gathered, err := dependencyResults(task, byID)
		if err != nil {
			return nil, err
		}
		report, err := l.reasoner.Summarize(ctx, job.ID, job.Query, gathered)
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)

	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// dependencyResults concatenates the search results produced by the task's
// dependencies, in dependency order.
func dependencyResults(task *research.Task, byID map[string]*research.Task) ([]research.SearchResult, error) {
	var all []research.SearchResult
	for _, dep := range task.DependsOn {
		d, ok := byID[dep]
		if !ok {
			return nil, fmt.Errorf("task %s depends on unknown task %s", task.ID, dep)
		}
		var out taskOutput
		if err := json.Unmarshal(d.Result, &out); err != nil {
			return nil, fmt.Errorf("decode result of task %s: %w", dep, err)
		}
		all = append(all, out.Results...)
	}
	return all, nil
}

func (l *Local) publish(ctx context.Context, topic broker.Topic, event events.Event) {
	if err := topic.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish event", slogx.Error(err))
	}
}
