// Package reportfmt renders job progress and reports for terminals.
package reportfmt

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/research"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
)

// Render writes the report's markdown through the terminal renderer, followed
// by the sources it drew on.
func Render(w io.Writer, report *research.Report) error {
	glam, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}

	out, err := glam.Render(report.Markdown)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, out); err != nil {
		return err
	}

	if len(report.Sources) > 0 {
		fmt.Fprintln(w, color.CyanString("Sources:"))
		for _, src := range report.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	return nil
}

// Console returns a hook that narrates a job's progress on w and a channel
// that yields the rendered report once the job finishes. The channel closes
// without a value when the job fails.
func Console(ctx context.Context, w io.Writer) (events.Hook, <-chan research.Report) {
	result := make(chan research.Report, 1)
	return &consoleHook{ctx: ctx, w: w, result: result}, result
}

type consoleHook struct {
	ctx    context.Context
	w      io.Writer
	result chan research.Report
	mu     sync.Mutex
	once   sync.Once
}

func (h *consoleHook) printf(format string, args ...any) {
	h.mu.Lock()
	fmt.Fprintf(h.w, format, args...)
	h.mu.Unlock()
}

func (h *consoleHook) deliver(report *research.Report) {
	h.once.Do(func() {
		if report != nil {
			select {
			case h.result <- *report:
			case <-h.ctx.Done():
			}
		}
		close(h.result)
	})
}

func (h *consoleHook) OnJobQueued(ctx context.Context, e events.JobQueued) {
	h.printf("%s %s\n", color.CyanString("queued"), e.Query)
}

func (h *consoleHook) OnPlanReady(ctx context.Context, e events.PlanReady) {
	label := color.CyanString("plan ready")
	if e.Fallback {
		label = color.YellowString("plan ready (fallback)")
	}
	h.printf("%s\n", label)
}

func (h *consoleHook) OnTaskStarted(ctx context.Context, e events.TaskStarted) {
	h.printf("%s %s (%s)\n", color.BlueString("running"), e.TaskID, e.Kind)
}

func (h *consoleHook) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {
	h.printf("%s %s (%s)\n", color.GreenString("done"), e.TaskID, e.Kind)
}

func (h *consoleHook) OnTaskRetrying(ctx context.Context, e events.TaskRetrying) {
	h.printf("%s %s attempt %d: %v\n", color.YellowString("retrying"), e.TaskID, e.Attempt, e.Err)
}

func (h *consoleHook) OnTaskFailed(ctx context.Context, e events.TaskFailed) {
	h.printf("%s %s: %v\n", color.RedString("failed"), e.TaskID, e.Err)
}

func (h *consoleHook) OnJobCompleted(ctx context.Context, e events.JobCompleted) {
	var report research.Report
	if err := json.Unmarshal(e.Report, &report); err != nil {
		h.printf("%s malformed report: %v\n", color.RedString("error"), err)
		h.deliver(nil)
		return
	}

	h.mu.Lock()
	if err := Render(h.w, &report); err != nil {
		fmt.Fprintf(h.w, "%s rendering report: %v\n", color.RedString("error"), err)
	}
	h.mu.Unlock()

	h.deliver(&report)
}

func (h *consoleHook) OnError(ctx context.Context, err error) {
	h.printf("%s %v\n", color.RedString("error"), err)
	h.deliver(nil)
}
