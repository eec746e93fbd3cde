package events

import (
	"context"
	"log/slog"
	"slices"

	"github.com/casualjim/delver/pkg/slogx"
	json "github.com/goccy/go-json"
)

// Hook defines the interface for handling every event type in a job's
// lifecycle. The interface is deliberately designed without a base "no-op"
// implementation so consumers make explicit decisions about handling each
// event type: when new events are added, every implementation has to be
// updated, which is the point.
//
// Implementation guidelines:
//   - Implement all methods explicitly, even if some events don't require
//     handling
//   - Consider logging for events that aren't actively handled
type Hook interface {
	OnJobQueued(context.Context, JobQueued)

	OnPlanReady(context.Context, PlanReady)

	OnTaskStarted(context.Context, TaskStarted)

	OnTaskCompleted(context.Context, TaskCompleted)

	OnTaskRetrying(context.Context, TaskRetrying)

	OnTaskFailed(context.Context, TaskFailed)

	OnJobCompleted(context.Context, JobCompleted)

	OnError(context.Context, error)
}

// Dispatch routes a decoded event to the matching hook method.
func Dispatch(ctx context.Context, hook Hook, event Event) {
	switch e := event.(type) {
	case JobQueued:
		hook.OnJobQueued(ctx, e)
	case PlanReady:
		hook.OnPlanReady(ctx, e)
	case TaskStarted:
		hook.OnTaskStarted(ctx, e)
	case TaskCompleted:
		hook.OnTaskCompleted(ctx, e)
	case TaskRetrying:
		hook.OnTaskRetrying(ctx, e)
	case TaskFailed:
		hook.OnTaskFailed(ctx, e)
	case JobCompleted:
		hook.OnJobCompleted(ctx, e)
	case Error:
		hook.OnError(ctx, e)
	}
}

func LoggingHook() Hook {
	return &loggingHook{}
}

type loggingHook struct{}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (loggingHook) OnJobQueued(ctx context.Context, e JobQueued) {
	slog.InfoContext(ctx, "job queued", "event", mustJSON(e))
}

func (loggingHook) OnPlanReady(ctx context.Context, e PlanReady) {
	slog.InfoContext(ctx, "plan ready", "event", mustJSON(e))
}

func (loggingHook) OnTaskStarted(ctx context.Context, e TaskStarted) {
	slog.InfoContext(ctx, "task started", "event", mustJSON(e))
}

func (loggingHook) OnTaskCompleted(ctx context.Context, e TaskCompleted) {
	slog.InfoContext(ctx, "task completed", "event", mustJSON(e))
}

func (loggingHook) OnTaskRetrying(ctx context.Context, e TaskRetrying) {
	slog.WarnContext(ctx, "task retrying", "event", mustJSON(e))
}

func (loggingHook) OnTaskFailed(ctx context.Context, e TaskFailed) {
	slog.ErrorContext(ctx, "task failed", "event", mustJSON(e))
}

func (loggingHook) OnJobCompleted(ctx context.Context, e JobCompleted) {
	slog.InfoContext(ctx, "job completed", "event", mustJSON(e))
}

func (loggingHook) OnError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "job error", slogx.Error(err))
}

func NewCompositeHook(hooks ...Hook) Hook {
	return CompositeHook(hooks)
}

// CompositeHook combines multiple hooks into a single hook implementation.
// Note: this is provided as a utility for combining hooks, not as a way to
// avoid implementing the full interface.
type CompositeHook []Hook

func (c CompositeHook) OnJobQueued(ctx context.Context, e JobQueued) {
	for h := range slices.Values(c) {
		h.OnJobQueued(ctx, e)
	}
}

func (c CompositeHook) OnPlanReady(ctx context.Context, e PlanReady) {
	for h := range slices.Values(c) {
		h.OnPlanReady(ctx, e)
	}
}

func (c CompositeHook) OnTaskStarted(ctx context.Context, e TaskStarted) {
	for h := range slices.Values(c) {
		h.OnTaskStarted(ctx, e)
	}
}

func (c CompositeHook) OnTaskCompleted(ctx context.Context, e TaskCompleted) {
	for h := range slices.Values(c) {
		h.OnTaskCompleted(ctx, e)
	}
}

func (c CompositeHook) OnTaskRetrying(ctx context.Context, e TaskRetrying) {
	for h := range slices.Values(c) {
		h.OnTaskRetrying(ctx, e)
	}
}

func (c CompositeHook) OnTaskFailed(ctx context.Context, e TaskFailed) {
	for h := range slices.Values(c) {
		h.OnTaskFailed(ctx, e)
	}
}

func (c CompositeHook) OnJobCompleted(ctx context.Context, e JobCompleted) {
	for h := range slices.Values(c) {
		h.OnJobCompleted(ctx, e)
	}
}

func (c CompositeHook) OnError(ctx context.Context, err error) {
	for h := range slices.Values(c) {
		h.OnError(ctx, err)
	}
}
