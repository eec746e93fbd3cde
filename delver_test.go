package delver

import (
	"context"
	"sync"
	"testing"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/provider"
	"github.com/casualjim/delver/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportContent = `{
	"markdown": "# Espresso\n\nFindings about espresso machines.",
	"findings": ["Angelo Moriondo patented an early machine in 1884."],
	"sources": ["https://example.org/espresso/article-1"]
}`

type scriptedProvider struct {
	content string
}

func (p *scriptedProvider) ChatCompletion(ctx context.Context, params provider.CompletionParams) (<-chan provider.StreamEvent, error) {
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

func newEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Sqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	// The same model serves both agents: planning cannot parse a report, so
	// the job falls back to the default plan, and reasoning decodes it fine.
	engine, err := New(
		Store(st),
		Model(&scriptedModel{provider: &scriptedProvider{content: reportContent}}),
	)
	require.NoError(t, err)
	return engine
}

func TestNew(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := New()
		require.Error(t, err)
	})

	t.Run("fills in defaults", func(t *testing.T) {
		engine := newEngine(t)
		assert.NotNil(t, engine.Store())
		assert.NotNil(t, engine.Broker())
		assert.NotNil(t, engine.Runner())
	})
}

type completionHook struct {
	mu        sync.Mutex
	completed []events.JobCompleted
	failed    []error
}

func (h *completionHook) OnJobQueued(ctx context.Context, e events.JobQueued)         {}
func (h *completionHook) OnPlanReady(ctx context.Context, e events.PlanReady)         {}
func (h *completionHook) OnTaskStarted(ctx context.Context, e events.TaskStarted)     {}
func (h *completionHook) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {}
func (h *completionHook) OnTaskRetrying(ctx context.Context, e events.TaskRetrying)   {}
func (h *completionHook) OnTaskFailed(ctx context.Context, e events.TaskFailed)       {}

func (h *completionHook) OnJobCompleted(ctx context.Context, e events.JobCompleted) {
	h.mu.Lock()
	h.completed = append(h.completed, e)
	h.mu.Unlock()
}

func (h *completionHook) OnError(ctx context.Context, err error) {
	h.mu.Lock()
	h.failed = append(h.failed, err)
	h.mu.Unlock()
}

func TestRun(t *testing.T) {
	t.Run("produces a report", func(t *testing.T) {
		engine := newEngine(t)

		report, err := engine.Run(context.Background(), "history of the espresso machine")
		require.NoError(t, err)
		assert.Contains(t, report.Markdown, "Espresso")
		assert.NotEmpty(t, report.Findings)
		assert.NotEmpty(t, report.Sources)
	})

	t.Run("rejects an empty query", func(t *testing.T) {
		engine := newEngine(t)
		_, err := engine.Submit(context.Background(), "   ")
		require.Error(t, err)
	})

	t.Run("notifies submission hooks", func(t *testing.T) {
		engine := newEngine(t)
		hook := &completionHook{}

		_, err := engine.Run(context.Background(), "history of tea", Hook(hook))
		require.NoError(t, err)

		hook.mu.Lock()
		defer hook.mu.Unlock()
		assert.Len(t, hook.completed, 1)
		assert.Empty(t, hook.failed)
	})

	t.Run("honors result and attempt budgets", func(t *testing.T) {
		engine := newEngine(t)

		report, err := engine.Run(context.Background(), "history of tea",
			MaxResults(3), MaxAttempts(1))
		require.NoError(t, err)
		assert.NotEmpty(t, report.Markdown)
	})
}
