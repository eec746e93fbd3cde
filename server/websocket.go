package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/pkg/slogx"
	"github.com/casualjim/delver/research"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is meant to sit behind the demo UIs, which run on other ports.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// streamEvents upgrades GET /api/jobs/:id/events to a WebSocket and forwards
// the job's events as JSON frames. Delivery is best effort: a client that
// cannot keep up is dropped by the broker, the job itself never blocks on a
// socket. The stream closes after the terminal event.
func (s *Server) streamEvents(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sink := &wsSink{conn: conn, done: cancel}

	// A job that already finished has nothing further to publish, replay its
	// terminal state so late subscribers still get closure.
	if job.Status.Terminal() {
		sink.replayTerminal(ctx, job)
		return
	}

	topic := s.broker.Topic(ctx, job.ID.String())
	sub, err := topic.Subscribe(ctx, sink)
	if err != nil {
		s.logger.Error("failed to subscribe websocket client", slogx.JobID(job.ID), slogx.Error(err))
		return
	}
	defer sub.Unsubscribe()

	// The job may have finished between the read above and the subscribe,
	// publishing its terminal event to nobody. Re-read and replay so the
	// client still gets closure.
	if latest, err := s.store.GetJob(c.Request.Context(), job.ID); err == nil && latest.Status.Terminal() {
		sink.replayTerminal(ctx, latest)
		return
	}

	// Read pump: we expect no messages, but reading is how we notice the
	// client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	<-ctx.Done()
}

// wsSink forwards events to one WebSocket client. It implements events.Hook
// so it can subscribe to the job's topic directly.
type wsSink struct {
	conn *websocket.Conn
	done func()
	mu   sync.Mutex
}

func (w *wsSink) send(ctx context.Context, event events.Event) {
	data, err := events.ToJSON(event)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.done()
	}
}

func (w *wsSink) finish() {
	w.mu.Lock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	w.mu.Unlock()
	w.done()
}

func (w *wsSink) replayTerminal(ctx context.Context, job *research.Job) {
	switch job.Status {
	case research.JobCompleted:
		report, err := json.Marshal(job.Report)
		if err != nil {
			return
		}
		w.send(ctx, events.JobCompleted{JobID: job.ID, Report: report, Timestamp: job.UpdatedAt})
	case research.JobFailed:
		w.send(ctx, events.Error{
			JobID:     job.ID,
			Sender:    "server",
			Err:       errors.New(job.Failure),
			Timestamp: job.UpdatedAt,
		})
	}
	w.finish()
}

func (w *wsSink) OnJobQueued(ctx context.Context, e events.JobQueued) {
	w.send(ctx, e)
}

func (w *wsSink) OnPlanReady(ctx context.Context, e events.PlanReady) {
	w.send(ctx, e)
}

func (w *wsSink) OnTaskStarted(ctx context.Context, e events.TaskStarted) {
	w.send(ctx, e)
}

func (w *wsSink) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {
	w.send(ctx, e)
}

func (w *wsSink) OnTaskRetrying(ctx context.Context, e events.TaskRetrying) {
	w.send(ctx, e)
}

func (w *wsSink) OnTaskFailed(ctx context.Context, e events.TaskFailed) {
	w.send(ctx, e)
}

func (w *wsSink) OnJobCompleted(ctx context.Context, e events.JobCompleted) {
	w.send(ctx, e)
	w.finish()
}

func (w *wsSink) OnError(ctx context.Context, err error) {
	if evt, ok := err.(events.Error); ok { //nolint: errorlint
		w.send(ctx, evt)
		w.finish()
		return
	}
	w.send(ctx, events.Error{Err: err})
}
