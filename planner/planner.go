// Package planner turns a research query into an executable plan. The model
// is asked for a structured plan; when it cannot produce a valid one the
// planner falls back to the default search-filter-reason pipeline rather
// than failing the job.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/delver/agent"
	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/pkg/slogx"
	"github.com/casualjim/delver/provider"
	"github.com/casualjim/delver/research"
	"github.com/casualjim/delver/types"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const instructions = `You are a research planner. Break the research query into a plan of steps.

Each step has an id, a kind (one of "search", "filter", "reason"), a title, and
the ids of the steps it depends on. Search steps carry the query to run and may
set max_results (at most {{.MaxResults}}). Filter steps deduplicate and rank
the results of the searches they depend on. The plan ends with exactly one
reason step that synthesizes the findings into a report.

Dependencies may only reference earlier steps. Prefer two or three focused
searches over one broad one.`

// planDraft is the shape the model is asked to emit.
type planDraft struct {
	Objective string          `json:"objective"`
	Steps     []research.Step `json:"steps"`
}

// Agent builds the planning agent on the given model.
func Agent(model api.Model) api.Agent {
	return agent.New(
		agent.Name("delver-planner"),
		agent.Model(model),
		agent.Instructions(instructions),
	)
}

type Planner struct {
	agent api.Agent
}

func New(a api.Agent) *Planner {
	return &Planner{agent: a}
}

// BuildPlan asks the model for a plan. The returned bool reports whether the
// default plan was substituted because the model's answer was unusable; the
// error is only non-nil when even the fallback cannot apply (an empty query).
func (p *Planner) BuildPlan(ctx context.Context, jobID uuid.UUID, query string, maxResults int) (*research.Plan, bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, fmt.Errorf("query is required")
	}

	plan, err := p.planWithModel(ctx, jobID, query, maxResults)
	if err != nil {
		slog.WarnContext(ctx, "planner falling back to default plan", slogx.JobID(jobID), slogx.Error(err))
		return research.DefaultPlan(query, maxResults), true, nil
	}
	return plan, false, nil
}

func (p *Planner) planWithModel(ctx context.Context, jobID uuid.UUID, query string, maxResults int) (*research.Plan, error) {
	inst, err := p.agent.RenderInstructions(types.ContextVars{"MaxResults": maxResults})
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}

	model := p.agent.Model()
	events, err := model.Provider().ChatCompletion(ctx, provider.CompletionParams{
		RunID:        jobID,
		Instructions: inst,
		Prompt:       query,
		ResponseSchema: &provider.StructuredOutput{
			Name:        "research_plan",
			Description: "A plan of search, filter and reason steps for a research query",
			Schema:      provider.ToJSONSchema[planDraft](),
		},
		Model: model,
	})
	if err != nil {
		return nil, err
	}

	content, err := provider.Collect(ctx, events)
	if err != nil {
		return nil, err
	}
	return parsePlan(content, query, maxResults)
}

// parsePlan validates the model output structurally before decoding it. The
// gjson pass produces better diagnostics than unmarshal errors and catches
// shapes that would decode into an empty plan.
func parsePlan(content []byte, query string, maxResults int) (*research.Plan, error) {
	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("plan is not valid json")
	}
	steps := gjson.GetBytes(content, "steps")
	if !steps.IsArray() || len(steps.Array()) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	for _, step := range steps.Array() {
		id := step.Get("id").String()
		if id == "" {
			return nil, fmt.Errorf("plan step is missing an id")
		}
		switch kind := research.TaskKind(step.Get("kind").String()); kind {
		case research.KindSearch:
			if step.Get("query").String() == "" {
				return nil, fmt.Errorf("search step %q has no query", id)
			}
		case research.KindFilter, research.KindReason:
		default:
			return nil, fmt.Errorf("step %q has unknown kind %q", id, kind)
		}
	}

	var plan research.Plan
	if err := json.Unmarshal(content, &plan); err != nil {
		return nil, err
	}
	if plan.Objective == "" {
		plan.Objective = query
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return clampResults(&plan, maxResults), nil
}

// clampResults caps every search step's max_results at the job budget and
// fills it in where the model left it out.
func clampResults(plan *research.Plan, maxResults int) *research.Plan {
	out := research.NewPlan(plan.Objective)
	for _, step := range plan.Steps() {
		if step.Kind == research.KindSearch {
			if step.MaxResults <= 0 || step.MaxResults > maxResults {
				step.MaxResults = maxResults
			}
		}
		// IDs were already checked for uniqueness during decode.
		_ = out.Add(step)
	}
	return out
}
