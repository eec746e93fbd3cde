package agent

import (
	"strings"
	"text/template"

	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/provider/openai"
	"github.com/casualjim/delver/types"
	"github.com/fogfish/opts"
)

var _ api.Agent = (*defaultAgent)(nil)

// defaultAgent represents an agent with specific attributes and capabilities.
// It includes the agent's name, model and instructions. The research agents
// (planner, search, filter, reason) are all built on top of this type.
type defaultAgent struct {
	name         string
	model        api.Model
	instructions string
}

// Name returns the agent's name.
func (a *defaultAgent) Name() string {
	return a.name
}

// Model returns the agent's model.
func (a *defaultAgent) Model() api.Model {
	return a.model
}

func (a *defaultAgent) Instructions() string {
	return a.instructions
}

// RenderInstructions renders the agent's instructions with the provided context variables.
func (a *defaultAgent) RenderInstructions(cv types.ContextVars) (string, error) {
	if !strings.Contains(a.instructions, "{{") {
		return a.instructions, nil
	}
	return renderTemplate("instructions", a.instructions, cv)
}

func renderTemplate(name, templateStr string, cv types.ContextVars) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, cv); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var (
	Name         = opts.ForName[defaultAgent, string]("name")
	Model        = opts.ForName[defaultAgent, api.Model]("model")
	Instructions = opts.ForName[defaultAgent, string]("instructions")
)

// New creates a new DefaultAgent with the provided parameters.
func New(options ...opts.Option[defaultAgent]) api.Agent {
	agent := &defaultAgent{
		model: openai.GPT4oMini(),
	}
	if err := opts.Apply(agent, options); err != nil {
		panic(err)
	}
	return agent
}
