package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/delver/agent"
	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/internal/broker"
	"github.com/casualjim/delver/planner"
	"github.com/casualjim/delver/provider"
	"github.com/casualjim/delver/reason"
	"github.com/casualjim/delver/research"
	"github.com/casualjim/delver/search"
	"github.com/casualjim/delver/store"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	content string
	err     error
}

func (p *scriptedProvider) ChatCompletion(ctx context.Context, params provider.CompletionParams) (<-chan provider.StreamEvent, error) {
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan provider.StreamEvent, 1)
	ch <- provider.Response{RunID: params.RunID, Content: p.content}
	close(ch)
	return ch, nil
}

type scriptedModel struct {
	provider provider.Provider
}

func (m *scriptedModel) Name() string                { return "scripted" }
func (m *scriptedModel) Provider() provider.Provider { return m.provider }

func modelWith(content string) *scriptedModel {
	return &scriptedModel{provider: &scriptedProvider{content: content}}
}

// flakySearcher fails the first failures calls per query, then delegates.
type flakySearcher struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	inner    search.Searcher
}

func (f *flakySearcher) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[query]++
	n := f.calls[query]
	f.mu.Unlock()

	if n <= f.failures {
		return nil, fmt.Errorf("transient search failure %d for %q", n, query)
	}
	return f.inner.Search(ctx, query, maxResults)
}

type countingHook struct {
	mu             sync.Mutex
	wg             *sync.WaitGroup
	jobsQueued     []events.JobQueued
	plansReady     []events.PlanReady
	tasksStarted   []events.TaskStarted
	tasksCompleted []events.TaskCompleted
	tasksRetrying  []events.TaskRetrying
	tasksFailed    []events.TaskFailed
	jobsCompleted  []events.JobCompleted
	errors         []error
}

func (h *countingHook) record(fn func()) {
	h.mu.Lock()
	fn()
	h.mu.Unlock()
	if h.wg != nil {
		h.wg.Done()
	}
}

func (h *countingHook) OnJobQueued(ctx context.Context, e events.JobQueued) {
	h.record(func() { h.jobsQueued = append(h.jobsQueued, e) })
}

func (h *countingHook) OnPlanReady(ctx context.Context, e events.PlanReady) {
	h.record(func() { h.plansReady = append(h.plansReady, e) })
}

func (h *countingHook) OnTaskStarted(ctx context.Context, e events.TaskStarted) {
	h.record(func() { h.tasksStarted = append(h.tasksStarted, e) })
}

func (h *countingHook) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {
	h.record(func() { h.tasksCompleted = append(h.tasksCompleted, e) })
}

func (h *countingHook) OnTaskRetrying(ctx context.Context, e events.TaskRetrying) {
	h.record(func() { h.tasksRetrying = append(h.tasksRetrying, e) })
}

func (h *countingHook) OnTaskFailed(ctx context.Context, e events.TaskFailed) {
	h.record(func() { h.tasksFailed = append(h.tasksFailed, e) })
}

func (h *countingHook) OnJobCompleted(ctx context.Context, e events.JobCompleted) {
	h.record(func() { h.jobsCompleted = append(h.jobsCompleted, e) })
}

func (h *countingHook) OnError(ctx context.Context, err error) {
	h.record(func() { h.errors = append(h.errors, err) })
}

const twoSearchPlan = `{
	"objective": "test objective",
	"steps": [
		{"id": "s1", "kind": "search", "title": "First angle", "query": "first angle", "max_results": 4},
		{"id": "s2", "kind": "search", "title": "Second angle", "query": "second angle", "max_results": 4},
		{"id": "s3", "kind": "filter", "title": "Dedup and rank", "depends_on": ["s1", "s2"]},
		{"id": "s4", "kind": "reason", "title": "Report", "depends_on": ["s3"]}
	]
}`

const reportContent = `{
	"markdown": "# Report\n\nBoth angles agree.",
	"findings": ["both angles agree"],
	"sources": ["https://example.org/first-angle/article-1"]
}`

func newRunner(t *testing.T, planContent string, searcher search.Searcher) *Local {
	t.Helper()
	s, err := store.Sqlite(filepath.Join(t.TempDir(), "delver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := planner.New(agent.New(
		agent.Name("test-planner"),
		agent.Model(modelWith(planContent)),
		agent.Instructions("plan it"),
	))
	r := reason.New(agent.New(
		agent.Name("test-reasoner"),
		agent.Model(modelWith(reportContent)),
		agent.Instructions("report it"),
	))

	runner, err := NewLocal(
		Store(s),
		Broker(broker.Local()),
		Planner(p),
		Searcher(searcher),
		Reasoner(r),
		RetryBase(time.Millisecond),
	)
	require.NoError(t, err)
	return runner
}

func wait(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for events")
	}
}

func TestLocalRun(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a job end to end", func(t *testing.T) {
		runner := newRunner(t, twoSearchPlan, search.Simulated())

		hook := &countingHook{wg: &sync.WaitGroup{}}
		// JobQueued + PlanReady + 4x TaskStarted + 4x TaskCompleted + JobCompleted
		hook.wg.Add(11)

		cmd, err := NewJobCommand("test objective", hook)
		require.NoError(t, err)

		fut := NewFuture(DefaultUnmarshal[research.Report]())
		require.NoError(t, runner.Run(ctx, cmd, fut))

		report, err := fut.Get()
		require.NoError(t, err)
		assert.Equal(t, "# Report\n\nBoth angles agree.", report.Markdown)
		assert.Equal(t, []string{"both angles agree"}, report.Findings)

		wait(t, hook.wg)
		hook.mu.Lock()
		assert.Len(t, hook.jobsQueued, 1)
		assert.Len(t, hook.plansReady, 1)
		assert.False(t, hook.plansReady[0].Fallback)
		assert.Len(t, hook.tasksStarted, 4)
		assert.Len(t, hook.tasksCompleted, 4)
		assert.Len(t, hook.jobsCompleted, 1)
		assert.Empty(t, hook.tasksRetrying)
		assert.Empty(t, hook.errors)
		hook.mu.Unlock()

		job, err := runner.store.GetJob(ctx, cmd.ID())
		require.NoError(t, err)
		assert.Equal(t, research.JobCompleted, job.Status)
		require.NotNil(t, job.Report)
		assert.Equal(t, report.Markdown, job.Report.Markdown)

		tasks, err := runner.store.TasksForJob(ctx, cmd.ID())
		require.NoError(t, err)
		require.Len(t, tasks, 4)
		for _, task := range tasks {
			assert.Equal(t, research.TaskCompleted, task.Status, "task %s", task.ID)
			assert.Equal(t, 1, task.Attempts)
			assert.NotEmpty(t, task.Result)
		}

		// The filter step deduplicates and caps at the job budget.
		filterTask, err := runner.store.GetTask(ctx, cmd.ID(), "s3")
		require.NoError(t, err)
		var out taskOutput
		require.NoError(t, json.Unmarshal(filterTask.Result, &out))
		assert.LessOrEqual(t, len(out.Results), DefaultMaxResults)
		seen := map[string]bool{}
		for _, r := range out.Results {
			assert.False(t, seen[r.URL], "duplicate url %s survived filtering", r.URL)
			seen[r.URL] = true
		}
	})

	t.Run("falls back to the default plan", func(t *testing.T) {
		runner := newRunner(t, "not json", search.Simulated())

		hook := &countingHook{wg: &sync.WaitGroup{}}
		// JobQueued + PlanReady + 3x TaskStarted + 3x TaskCompleted + JobCompleted
		hook.wg.Add(9)

		cmd, err := NewJobCommand("fallback query", hook)
		require.NoError(t, err)

		require.NoError(t, runner.Run(ctx, cmd, noopPromise{}))

		wait(t, hook.wg)
		hook.mu.Lock()
		require.Len(t, hook.plansReady, 1)
		assert.True(t, hook.plansReady[0].Fallback)
		assert.Len(t, hook.tasksCompleted, 3)
		hook.mu.Unlock()

		tasks, err := runner.store.TasksForJob(ctx, cmd.ID())
		require.NoError(t, err)
		assert.Len(t, tasks, 3)
	})

	t.Run("retries transient search failures", func(t *testing.T) {
		searcher := &flakySearcher{failures: 1, inner: search.Simulated()}
		runner := newRunner(t, "not json", searcher)

		hook := &countingHook{}
		cmd, err := NewJobCommand("flaky query", hook)
		require.NoError(t, err)

		fut := NewFuture(DefaultUnmarshal[research.Report]())
		require.NoError(t, runner.Run(ctx, cmd, fut))

		_, err = fut.Get()
		require.NoError(t, err)

		task, err := runner.store.GetTask(ctx, cmd.ID(), "s1")
		require.NoError(t, err)
		assert.Equal(t, research.TaskCompleted, task.Status)
		assert.Equal(t, 2, task.Attempts)
	})

	t.Run("fails the job when a task exhausts its attempts", func(t *testing.T) {
		searcher := &flakySearcher{failures: 100, inner: search.Simulated()}
		runner := newRunner(t, "not json", searcher)

		hook := &countingHook{}
		cmd, err := NewJobCommand("doomed query", hook)
		require.NoError(t, err)
		cmd = cmd.WithMaxAttempts(2)

		fut := NewFuture(DefaultUnmarshal[research.Report]())
		require.Error(t, runner.Run(ctx, cmd, fut))

		_, err = fut.Get()
		require.Error(t, err)

		job, err := runner.store.GetJob(ctx, cmd.ID())
		require.NoError(t, err)
		assert.Equal(t, research.JobFailed, job.Status)
		assert.NotEmpty(t, job.Failure)

		task, err := runner.store.GetTask(ctx, cmd.ID(), "s1")
		require.NoError(t, err)
		assert.Equal(t, research.TaskFailed, task.Status)
		assert.Equal(t, 2, task.Attempts)
		assert.NotEmpty(t, task.LastError)
	})

	t.Run("rejects an invalid command", func(t *testing.T) {
		runner := newRunner(t, "not json", search.Simulated())
		err := runner.Run(ctx, JobCommand{}, noopPromise{})
		require.Error(t, err)
	})
}

func TestNewLocal(t *testing.T) {
	t.Run("requires all dependencies", func(t *testing.T) {
		_, err := NewLocal()
		require.Error(t, err)
		assert.ErrorContains(t, err, "store is required")
		assert.ErrorContains(t, err, "broker is required")
		assert.ErrorContains(t, err, "planner is required")
		assert.ErrorContains(t, err, "searcher is required")
		assert.ErrorContains(t, err, "reasoner is required")
	})
}

func TestFuture(t *testing.T) {
	t.Run("resolves once", func(t *testing.T) {
		fut := NewFuture(DefaultUnmarshal[research.Report]())
		fut.Complete(`{"markdown":"# hi"}`)
		fut.Error(errors.New("too late"))

		report, err := fut.Get()
		require.NoError(t, err)
		assert.Equal(t, "# hi", report.Markdown)

		// Get is idempotent.
		again, err := fut.Get()
		require.NoError(t, err)
		assert.Equal(t, report, again)
	})

	t.Run("propagates errors", func(t *testing.T) {
		fut := NewFuture(DefaultUnmarshal[research.Report]())
		fut.Error(errors.New("boom"))
		_, err := fut.Get()
		require.EqualError(t, err, "boom")
	})

	t.Run("string passthrough", func(t *testing.T) {
		fut := NewFuture(DefaultUnmarshal[string]())
		fut.Complete("raw payload")
		v, err := fut.Get()
		require.NoError(t, err)
		assert.Equal(t, "raw payload", v)
	})
}
