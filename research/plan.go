package research

import (
	"fmt"

	json "github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Step is one planned unit of work. Search steps carry the query to run;
// filter and reason steps operate on the outputs of their dependencies.
type Step struct {
	ID          string   `json:"id"`
	Kind        TaskKind `json:"kind"`
	Title       string   `json:"title"`
	Query       string   `json:"query,omitempty"`
	MaxResults  int      `json:"max_results,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Plan is the ordered set of steps the planner produced for a job. Step
// order is the order the model emitted them in, which the runner preserves
// for steps that are not otherwise constrained by dependencies.
type Plan struct {
	Objective string
	steps     *orderedmap.OrderedMap[string, Step]
}

// NewPlan creates an empty plan for the given objective.
func NewPlan(objective string) *Plan {
	return &Plan{
		Objective: objective,
		steps:     orderedmap.New[string, Step](),
	}
}

// Add appends a step to the plan. Adding a step whose ID is already present
// is an error: duplicate IDs would make dependency references ambiguous.
func (p *Plan) Add(step Step) error {
	if step.ID == "" {
		return fmt.Errorf("plan step requires an id")
	}
	if _, exists := p.steps.Get(step.ID); exists {
		return fmt.Errorf("duplicate plan step id %q", step.ID)
	}
	p.steps.Set(step.ID, step)
	return nil
}

// Get returns the step with the given ID.
func (p *Plan) Get(id string) (Step, bool) {
	return p.steps.Get(id)
}

// Len returns the number of steps in the plan.
func (p *Plan) Len() int {
	return p.steps.Len()
}

// Steps returns the steps in plan order.
func (p *Plan) Steps() []Step {
	out := make([]Step, 0, p.steps.Len())
	for pair := p.steps.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Validate checks the structural invariants of the plan: every dependency
// refers to an earlier step, exactly one reason step exists, and search
// steps carry a query.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, p.steps.Len())
	var reasonSteps int
	for pair := p.steps.Oldest(); pair != nil; pair = pair.Next() {
		step := pair.Value
		switch step.Kind {
		case KindSearch:
			if step.Query == "" {
				return fmt.Errorf("search step %q has no query", step.ID)
			}
		case KindReason:
			reasonSteps++
		case KindFilter:
		default:
			return fmt.Errorf("step %q has unknown kind %q", step.ID, step.Kind)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("step %q depends on unknown or later step %q", step.ID, dep)
			}
		}
		seen[step.ID] = true
	}
	if reasonSteps != 1 {
		return fmt.Errorf("plan requires exactly one reason step, found %d", reasonSteps)
	}
	return nil
}

type planJSON struct {
	Objective string `json:"objective"`
	Steps     []Step `json:"steps"`
}

// MarshalJSON encodes the plan with its steps as an array in plan order.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		Objective: p.Objective,
		Steps:     p.Steps(),
	})
}

// UnmarshalJSON decodes a plan, restoring step order from the array.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var pj planJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	p.Objective = pj.Objective
	p.steps = orderedmap.New[string, Step]()
	for _, step := range pj.Steps {
		if err := p.Add(step); err != nil {
			return err
		}
	}
	return nil
}

// DefaultPlan is the fallback used when the planner cannot produce a valid
// plan: one search over the raw query, a filter, and a reason step.
func DefaultPlan(query string, maxResults int) *Plan {
	plan := NewPlan(query)
	// Errors are impossible here, the IDs are fixed and unique.
	_ = plan.Add(Step{ID: "s1", Kind: KindSearch, Title: "Search the web", Query: query, MaxResults: maxResults})
	_ = plan.Add(Step{ID: "s2", Kind: KindFilter, Title: "Deduplicate and rank results", DependsOn: []string{"s1"}})
	_ = plan.Add(Step{ID: "s3", Kind: KindReason, Title: "Synthesize findings", DependsOn: []string{"s2"}})
	return plan
}
