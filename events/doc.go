// Package events defines the pub/sub events that describe a research job's
// progress, from the moment it is queued to its terminal state. Every state
// transition the runner performs is published as one of these events so UI
// clients and other subscribers can follow along without polling the store.
//
// Event hierarchy:
//   - Event: base interface for all job lifecycle events
//     ├── JobQueued: a job was accepted and persisted
//     ├── PlanReady: the planner produced (or fell back to) a plan
//     ├── TaskStarted: a task attempt began
//     ├── TaskCompleted: a task produced its result
//     ├── TaskRetrying: an attempt failed and will be retried
//     ├── TaskFailed: a task exhausted its attempts
//     ├── JobCompleted: the job's report is ready
//     └── Error: a failure with run context attached
//
// Each event carries the job ID, a timestamp, and enough task context to be
// rendered without a store lookup. Events marshal to JSON with a "type"
// discriminator so they can cross process boundaries (NATS, WebSocket) and
// be dispatched back to a Hook on the other side.
package events
