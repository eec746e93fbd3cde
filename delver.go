package delver

import (
	"context"
	"errors"

	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/internal/broker"
	"github.com/casualjim/delver/planner"
	"github.com/casualjim/delver/provider/openai"
	"github.com/casualjim/delver/reason"
	"github.com/casualjim/delver/research"
	"github.com/casualjim/delver/runner"
	"github.com/casualjim/delver/search"
	"github.com/casualjim/delver/store"
	"github.com/fogfish/opts"
)

// Engine is the embedding entrypoint. It owns the wiring between the store,
// the broker, the agents and the runner so callers only deal with queries
// and reports.
type Engine struct {
	store    store.Store
	broker   broker.Broker
	searcher search.Searcher
	model    api.Model
	runner   runner.Runner
}

var (
	// Store sets the persistence backend. Required.
	Store = opts.ForName[Engine, store.Store]("store")
	// Broker sets the event broker. Defaults to the in-process broker.
	Broker = opts.ForName[Engine, broker.Broker]("broker")
	// Searcher sets the search backend. Defaults to the simulated searcher.
	Searcher = opts.ForName[Engine, search.Searcher]("searcher")
	// Model sets the LLM backing the planner and reasoner agents.
	Model = opts.ForName[Engine, api.Model]("model")
	// Runner overrides the job runner, for example with the Temporal proxy.
	// When unset the engine builds a local runner from the other options.
	Runner = opts.ForName[Engine, runner.Runner]("runner")
)

// New builds an engine. A store is required, everything else has a default
// aimed at local development.
func New(options ...opts.Option[Engine]) (*Engine, error) {
	e := &Engine{}
	if err := opts.Apply(e, options); err != nil {
		return nil, err
	}

	if e.store == nil {
		return nil, errors.New("a store is required")
	}
	if e.broker == nil {
		e.broker = broker.Local()
	}
	if e.searcher == nil {
		e.searcher = search.Simulated()
	}
	if e.model == nil {
		e.model = openai.GPT4oMini()
	}

	if e.runner == nil {
		local, err := runner.NewLocal(
			runner.Store(e.store),
			runner.Broker(e.broker),
			runner.Planner(planner.New(planner.Agent(e.model))),
			runner.Searcher(e.searcher),
			runner.Reasoner(reason.New(reason.Agent(e.model))),
		)
		if err != nil {
			return nil, err
		}
		e.runner = local
	}

	return e, nil
}

// Store exposes the engine's persistence backend, mainly so HTTP servers can
// share it.
func (e *Engine) Store() store.Store { return e.store }

// Broker exposes the engine's event broker.
func (e *Engine) Broker() broker.Broker { return e.broker }

// Runner exposes the engine's job runner.
func (e *Engine) Runner() runner.Runner { return e.runner }

// Submission tunes a single job.
type Submission struct {
	maxResults  int
	maxAttempts int
	hooks       []events.Hook
}

var (
	// MaxResults caps how many ranked results feed the report.
	MaxResults = opts.ForName[Submission, int]("maxResults")
	// MaxAttempts bounds retries per task.
	MaxAttempts = opts.ForName[Submission, int]("maxAttempts")
	// Hooks subscribes additional observers to the job's events.
	Hooks = opts.ForName[Submission, []events.Hook]("hooks")
)

// Hook subscribes a single observer, a shorthand for Hooks.
func Hook(h events.Hook) opts.Option[Submission] {
	return Hooks([]events.Hook{h})
}

// Submit starts a research job and returns a future for its report. The job
// runs on its own goroutine; cancel ctx to abandon it.
func (e *Engine) Submit(ctx context.Context, query string, options ...opts.Option[Submission]) (runner.Future[research.Report], error) {
	var sub Submission
	if err := opts.Apply(&sub, options); err != nil {
		return nil, err
	}

	hook := events.LoggingHook()
	if len(sub.hooks) > 0 {
		hook = events.NewCompositeHook(append([]events.Hook{hook}, sub.hooks...)...)
	}

	cmd, err := runner.NewJobCommand(query, hook)
	if err != nil {
		return nil, err
	}
	if sub.maxResults > 0 {
		cmd = cmd.WithMaxResults(sub.maxResults)
	}
	if sub.maxAttempts > 0 {
		cmd = cmd.WithMaxAttempts(sub.maxAttempts)
	}

	fut := runner.NewFuture(runner.DefaultUnmarshal[research.Report]())
	go func() {
		if err := e.runner.Run(ctx, cmd, fut); err != nil {
			fut.Error(err)
		}
	}()
	return fut, nil
}

// Run is Submit followed by a blocking Get.
func (e *Engine) Run(ctx context.Context, query string, options ...opts.Option[Submission]) (research.Report, error) {
	fut, err := e.Submit(ctx, query, options...)
	if err != nil {
		return research.Report{}, err
	}
	return fut.Get()
}
