/*
Package delver orchestrates deep research jobs: a query is planned into a
small task DAG of searches, a filter and a reasoning step, executed with
retries, and synthesized into a markdown report.

The root package is a façade over the building blocks. A typical embedding
looks like:

	st, err := store.Sqlite("delver.db")
	if err != nil {
		// handle error
	}

	engine, err := delver.New(
		delver.Store(st),
		delver.Model(openai.GPT4oMini()),
	)
	if err != nil {
		// handle error
	}

	report, err := engine.Run(ctx, "history of the espresso machine",
		delver.MaxResults(8),
	)

Every stage of a job publishes events on a per-job topic. Observers attach
through hooks, either on submission:

	fut, err := engine.Submit(ctx, query, delver.Hook(myHook))

or over the HTTP API's WebSocket stream (see the server package).

# Packages

  - planner, search, filter, reason: the four stages of a job
  - runner: local and Temporal-backed execution with per-task retry
  - store: SQLite persistence for jobs, tasks and reports
  - events, internal/broker: the event model and its local and NATS fan-out
  - server: the gin HTTP and WebSocket API
  - agent, provider, api: the LLM plumbing shared by planner and reason
*/
package delver
