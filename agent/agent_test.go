package agent

import (
	"testing"

	"github.com/casualjim/delver/provider"
	"github.com/casualjim/delver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testModel struct{}

func (m *testModel) Name() string {
	return "test-model"
}

func (m *testModel) Provider() provider.Provider {
	return nil
}

func TestDefaultAgent(t *testing.T) {
	t.Run("basic properties", func(t *testing.T) {
		agent := &defaultAgent{
			name:         "test-agent",
			model:        &testModel{},
			instructions: "test instructions",
		}

		assert.Equal(t, "test-agent", agent.Name())
		assert.Equal(t, &testModel{}, agent.Model())
		assert.Equal(t, "test instructions", agent.Instructions())
	})
}

func TestNewAgent(t *testing.T) {
	agent := New(Name("test"), Model(&testModel{}), Instructions("instructions"))

	assert.Equal(t, "test", agent.Name())
	assert.Equal(t, &testModel{}, agent.Model())
	assert.Equal(t, "instructions", agent.Instructions())
}

func TestRenderInstructions(t *testing.T) {
	t.Run("no template variables", func(t *testing.T) {
		agent := New(Name("test"), Model(&testModel{}), Instructions("simple instructions"))
		result, err := agent.RenderInstructions(types.ContextVars{})
		require.NoError(t, err)
		assert.Equal(t, "simple instructions", result)
	})

	t.Run("with template variables", func(t *testing.T) {
		agent := New(Name("test"), Model(&testModel{}), Instructions("Research {{.Topic}}"))
		result, err := agent.RenderInstructions(types.ContextVars{"Topic": "quantum computing"})
		require.NoError(t, err)
		assert.Equal(t, "Research quantum computing", result)
	})

	t.Run("with invalid template", func(t *testing.T) {
		agent := New(Name("test"), Model(&testModel{}), Instructions("Research {{.Topic"))
		_, err := agent.RenderInstructions(types.ContextVars{"Topic": "quantum computing"})
		require.Error(t, err)
	})

	t.Run("with missing variable", func(t *testing.T) {
		agent := New(Name("test"), Model(&testModel{}), Instructions("Research {{.Topic}}"))
		_, err := agent.RenderInstructions(types.ContextVars{})
		require.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	agent := New(Name("registry-test"), Model(&testModel{}))
	Add(agent)
	defer Del("registry-test")

	got, ok := Get("registry-test")
	require.True(t, ok)
	assert.Equal(t, agent, got)
}
