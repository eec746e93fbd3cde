package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/pkg/uuidx"
	"github.com/casualjim/delver/research"
	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	mu             sync.Mutex
	wg             *sync.WaitGroup
	ready          chan struct{} // signals when hook is ready to receive events
	jobsQueued     []events.JobQueued
	plansReady     []events.PlanReady
	tasksStarted   []events.TaskStarted
	tasksCompleted []events.TaskCompleted
	tasksRetrying  []events.TaskRetrying
	tasksFailed    []events.TaskFailed
	jobsCompleted  []events.JobCompleted
	errors         []error
}

func newRecordingHook() *recordingHook {
	return &recordingHook{
		ready: make(chan struct{}),
	}
}

func (r *recordingHook) signalReady() {
	close(r.ready)
}

func (r *recordingHook) record(fn func()) {
	r.mu.Lock()
	fn()
	r.mu.Unlock()
	if r.wg != nil {
		r.wg.Done()
	}
}

func (r *recordingHook) OnJobQueued(ctx context.Context, e events.JobQueued) {
	r.record(func() { r.jobsQueued = append(r.jobsQueued, e) })
}

func (r *recordingHook) OnPlanReady(ctx context.Context, e events.PlanReady) {
	r.record(func() { r.plansReady = append(r.plansReady, e) })
}

func (r *recordingHook) OnTaskStarted(ctx context.Context, e events.TaskStarted) {
	r.record(func() { r.tasksStarted = append(r.tasksStarted, e) })
}

func (r *recordingHook) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {
	r.record(func() { r.tasksCompleted = append(r.tasksCompleted, e) })
}

func (r *recordingHook) OnTaskRetrying(ctx context.Context, e events.TaskRetrying) {
	r.record(func() { r.tasksRetrying = append(r.tasksRetrying, e) })
}

func (r *recordingHook) OnTaskFailed(ctx context.Context, e events.TaskFailed) {
	r.record(func() { r.tasksFailed = append(r.tasksFailed, e) })
}

func (r *recordingHook) OnJobCompleted(ctx context.Context, e events.JobCompleted) {
	r.record(func() { r.jobsCompleted = append(r.jobsCompleted, e) })
}

func (r *recordingHook) OnError(ctx context.Context, err error) {
	r.record(func() { r.errors = append(r.errors, err) })
}

type overflowHook struct {
	*recordingHook
	processed         chan struct{}
	minExpectedEvents int
}

func (h *overflowHook) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {
	h.recordingHook.OnTaskCompleted(ctx, e)
	h.mu.Lock()
	if len(h.tasksCompleted) >= h.minExpectedEvents {
		select {
		case <-h.processed: // Already closed
		default:
			close(h.processed)
		}
	}
	h.mu.Unlock()
}

// stallingHook blocks inside the first dispatched event until its gate
// opens, pinning the subscription's forwarding goroutine.
type stallingHook struct {
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (h *stallingHook) OnJobQueued(context.Context, events.JobQueued)     {}
func (h *stallingHook) OnPlanReady(context.Context, events.PlanReady)     {}
func (h *stallingHook) OnTaskStarted(context.Context, events.TaskStarted) {}

func (h *stallingHook) OnTaskCompleted(ctx context.Context, e events.TaskCompleted) {
	h.once.Do(func() { close(h.entered) })
	<-h.gate
}

func (h *stallingHook) OnTaskRetrying(context.Context, events.TaskRetrying) {}
func (h *stallingHook) OnTaskFailed(context.Context, events.TaskFailed)     {}
func (h *stallingHook) OnJobCompleted(context.Context, events.JobCompleted) {}
func (h *stallingHook) OnError(context.Context, error)                      {}

func TestLocalBroker(t *testing.T) {
	t.Run("creates unique topics", func(t *testing.T) {
		broker := Local()
		topic1 := broker.Topic(context.Background(), "job1")
		topic2 := broker.Topic(context.Background(), "job2")
		assert.NotEqual(t, topic1, topic2)
	})

	t.Run("reuses existing topics", func(t *testing.T) {
		broker := Local()
		topic1 := broker.Topic(context.Background(), "job")
		topic2 := broker.Topic(context.Background(), "job")
		assert.Equal(t, topic1, topic2)
	})
}

func TestLocalTopic(t *testing.T) {
	t.Run("publishes events to all subscribers", func(t *testing.T) {
		broker := Local().(*localBroker)
		broker = broker.WithSlowSubscriberTimeout(1 * time.Millisecond) // Very short timeout for testing
		topic := broker.Topic(context.Background(), "test")

		var wg sync.WaitGroup
		recorder1 := newRecordingHook()
		recorder2 := newRecordingHook()

		ctx := context.Background()
		sub1, err := topic.Subscribe(ctx, recorder1)
		require.NoError(t, err)
		sub2, err := topic.Subscribe(ctx, recorder2)
		require.NoError(t, err)
		defer sub1.Unsubscribe()
		defer sub2.Unsubscribe()

		recorder1.signalReady()
		recorder2.signalReady()

		jobID := uuidx.New()
		timestamp := strfmt.DateTime(time.Now())

		recorder1.wg = &wg
		recorder2.wg = &wg

		wg.Add(4) // 2 recorders * 2 events
		event1 := events.TaskStarted{
			JobID:     jobID,
			TaskID:    "s1",
			Kind:      research.KindSearch,
			Attempt:   1,
			Timestamp: timestamp,
		}
		require.NoError(t, topic.Publish(ctx, event1))

		event2 := events.TaskCompleted{
			JobID:     jobID,
			TaskID:    "s1",
			Kind:      research.KindSearch,
			Result:    []byte(`{"results":[]}`),
			Timestamp: timestamp,
		}
		require.NoError(t, topic.Publish(ctx, event2))

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Success
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for events to be processed")
		}

		recorder1.mu.Lock()
		assert.Len(t, recorder1.tasksStarted, 1)
		assert.Len(t, recorder1.tasksCompleted, 1)
		recorder1.mu.Unlock()

		recorder2.mu.Lock()
		assert.Len(t, recorder2.tasksStarted, 1)
		assert.Len(t, recorder2.tasksCompleted, 1)
		recorder2.mu.Unlock()
	})

	t.Run("handles channel overflow", func(t *testing.T) {
		broker := Local().(*localBroker)
		broker = broker.WithSlowSubscriberTimeout(1 * time.Millisecond) // Very short timeout for testing
		topic := broker.Topic(context.Background(), "test")
		ctx := context.Background()

		processed := make(chan struct{})
		minExpectedEvents := 10
		recorder := &overflowHook{
			recordingHook:     newRecordingHook(),
			processed:         processed,
			minExpectedEvents: minExpectedEvents,
		}

		sub, err := topic.Subscribe(ctx, recorder)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		recorder.signalReady()
		<-recorder.ready

		// Publish events to cause overflow
		const numEvents = 100 // More than channel buffer size (50)
		jobID := uuidx.New()
		for i := 0; i < numEvents; i++ {
			event := events.TaskCompleted{
				JobID:  jobID,
				TaskID: fmt.Sprintf("task-%d", i),
				Kind:   research.KindSearch,
			}
			require.NoError(t, topic.Publish(ctx, event))
		}

		<-processed

		recorder.mu.Lock()
		eventsLen := len(recorder.tasksCompleted)
		recorder.mu.Unlock()

		// The exact number processed depends on the buffer size (50) and how
		// quickly the subscriber drains the channel.
		assert.Greater(t, eventsLen, 0, "Should process some events")
		assert.Less(t, eventsLen, numEvents, "Should drop some events due to overflow")
	})

	t.Run("respects publish context cancellation", func(t *testing.T) {
		broker := Local()
		topic := broker.Topic(context.Background(), "test")

		recorder := newRecordingHook()
		sub, err := topic.Subscribe(context.Background(), recorder)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		recorder.signalReady()

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		event := events.TaskStarted{
			JobID:  uuidx.New(),
			TaskID: "s1",
			Kind:   research.KindSearch,
		}
		err = topic.Publish(ctx, event)
		require.NoError(t, err) // Publish still succeeds but returns early

		// Give a short time for any unexpected processing
		ctx, cancel = context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		<-ctx.Done()
		recorder.mu.Lock()
		assert.Len(t, recorder.tasksStarted, 0)
		recorder.mu.Unlock()
	})

	t.Run("handles context cancellation", func(t *testing.T) {
		broker := Local()
		topic := broker.Topic(context.Background(), "test")

		ctx, cancel := context.WithCancel(context.Background())
		recorder := newRecordingHook()
		sub, err := topic.Subscribe(ctx, recorder)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		recorder.signalReady()

		// Cancel context and wait a moment for cancellation to propagate
		cancel()
		ctx, cancel = context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		<-ctx.Done()

		event := events.TaskStarted{
			JobID:  uuidx.New(),
			TaskID: "s1",
			Kind:   research.KindSearch,
		}
		err = topic.Publish(context.Background(), event)
		require.NoError(t, err)

		recorder.mu.Lock()
		assert.Len(t, recorder.tasksStarted, 0)
		recorder.mu.Unlock()
	})

	t.Run("handles unsubscribe", func(t *testing.T) {
		broker := Local()
		topic := broker.Topic(context.Background(), "test")

		ctx := context.Background()
		recorder := newRecordingHook()
		sub, err := topic.Subscribe(ctx, recorder)
		require.NoError(t, err)

		recorder.signalReady()

		// Unsubscribe and wait a moment for unsubscribe to propagate
		sub.Unsubscribe()
		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer timeoutCancel()
		<-timeoutCtx.Done()

		event := events.TaskStarted{
			JobID:  uuidx.New(),
			TaskID: "s1",
			Kind:   research.KindSearch,
		}
		err = topic.Publish(ctx, event)
		require.NoError(t, err)

		recorder.mu.Lock()
		assert.Len(t, recorder.tasksStarted, 0)
		recorder.mu.Unlock()
	})

	t.Run("survives unsubscribe during a blocked publish", func(t *testing.T) {
		broker := Local().(*localBroker).WithSlowSubscriberTimeout(2 * time.Second)
		topic := broker.Topic(context.Background(), "test")

		stall := &stallingHook{entered: make(chan struct{}), gate: make(chan struct{})}
		sub, err := topic.Subscribe(context.Background(), stall)
		require.NoError(t, err)

		jobID := uuidx.New()
		publish := func(id string) error {
			return topic.Publish(context.Background(), events.TaskCompleted{
				JobID: jobID, TaskID: id, Kind: research.KindSearch,
			})
		}

		// Park the forwarding goroutine in the hook, then fill the buffer so
		// the next publish has to block on the channel send.
		require.NoError(t, publish("parked"))
		select {
		case <-stall.entered:
		case <-time.After(time.Second):
			t.Fatal("hook never received the first event")
		}
		for i := 0; i < 50; i++ {
			require.NoError(t, publish(fmt.Sprintf("fill-%d", i)))
		}

		published := make(chan error, 1)
		go func() {
			published <- publish("blocked")
		}()

		// Let the publish block, then tear down the subscription under it.
		time.Sleep(20 * time.Millisecond)
		sub.Unsubscribe()

		select {
		case err := <-published:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("publish never returned after unsubscribe")
		}
		close(stall.gate)
	})

	t.Run("rejects nil hook", func(t *testing.T) {
		broker := Local()
		topic := broker.Topic(context.Background(), "test")
		_, err := topic.Subscribe(context.Background(), nil)
		require.Error(t, err)
	})

	t.Run("handles concurrent operations", func(t *testing.T) {
		broker := Local()
		topic := broker.Topic(context.Background(), "test")
		ctx := context.Background()

		const numSubscribers = 10
		recorders := make([]*recordingHook, numSubscribers)
		subs := make([]Subscription, numSubscribers)
		var processWg sync.WaitGroup
		processWg.Add(numSubscribers * 100) // Each subscriber will process 100 events

		for i := 0; i < numSubscribers; i++ {
			recorders[i] = newRecordingHook()
			recorders[i].wg = &processWg
			sub, err := topic.Subscribe(ctx, recorders[i])
			require.NoError(t, err)
			subs[i] = sub
		}
		defer func() {
			for _, sub := range subs {
				sub.Unsubscribe()
			}
		}()

		for _, recorder := range recorders {
			recorder.signalReady()
		}

		const numEvents = 100
		jobID := uuidx.New()
		var publishWg sync.WaitGroup
		publishWg.Add(numEvents)
		for i := 0; i < numEvents; i++ {
			go func(i int) {
				defer publishWg.Done()
				event := events.TaskCompleted{
					JobID:  jobID,
					TaskID: fmt.Sprintf("task-%d", i),
					Kind:   research.KindSearch,
				}
				require.NoError(t, topic.Publish(ctx, event))
			}(i)
		}

		publishWg.Wait()
		processWg.Wait()

		for _, recorder := range recorders {
			recorder.mu.Lock()
			assert.Len(t, recorder.tasksCompleted, numEvents)
			recorder.mu.Unlock()
		}
	})
}
