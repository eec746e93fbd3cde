// Package runner executes research jobs. A job moves through planning, a
// dependency-ordered set of tasks, and a final report. Every state change is
// persisted before it is published, so the stored job is always at least as
// advanced as anything a subscriber has seen.
//
// Two runners exist: Local executes the whole job in-process, Temporal runs
// each task as an activity on a Temporal worker with server-side retries.
package runner
