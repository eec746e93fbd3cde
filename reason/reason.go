// Package reason synthesizes filtered search results into the final report.
package reason

import (
	"context"
	"fmt"
	"strings"

	"github.com/casualjim/delver/agent"
	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/provider"
	"github.com/casualjim/delver/research"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

const instructions = `You are a research analyst. You receive a research query and a ranked list of
search results. Write a report that answers the query using only the material
in the results.

Produce markdown with a short summary, the key findings as sections, and a
sources list. Also return the findings as individual statements and the source
URLs you actually used. Do not invent sources.`

// Agent builds the reasoning agent on the given model.
func Agent(model api.Model) api.Agent {
	return agent.New(
		agent.Name("delver-reasoner"),
		agent.Model(model),
		agent.Instructions(instructions),
	)
}

type Reasoner struct {
	agent api.Agent
}

func New(a api.Agent) *Reasoner {
	return &Reasoner{agent: a}
}

// Summarize asks the model for a report over the filtered results. Unlike
// planning there is no fallback: a job without a report is a failed job, so
// errors propagate to the runner's retry handling.
func (r *Reasoner) Summarize(ctx context.Context, jobID uuid.UUID, query string, results []research.SearchResult) (*research.Report, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no results to summarize")
	}

	inst, err := r.agent.RenderInstructions(nil)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}

	model := r.agent.Model()
	events, err := model.Provider().ChatCompletion(ctx, provider.CompletionParams{
		RunID:        jobID,
		Instructions: inst,
		Prompt:       buildPrompt(query, results),
		ResponseSchema: &provider.StructuredOutput{
			Name:        "research_report",
			Description: "A markdown research report with findings and sources",
			Schema:      provider.ToJSONSchema[research.Report](),
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

	var report research.Report
	if err := json.Unmarshal(content, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if strings.TrimSpace(report.Markdown) == "" {
		return nil, fmt.Errorf("report has no content")
	}
	return &report, nil
}

func buildPrompt(query string, results []research.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nResults:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return sb.String()
}
