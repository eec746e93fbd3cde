package events

import (
	"errors"
	"testing"
	"time"

	"github.com/casualjim/delver/pkg/uuidx"
	"github.com/casualjim/delver/research"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestToJSON(t *testing.T) {
	jobID := uuidx.New()
	ts := strfmt.DateTime(time.Now().UTC())

	t.Run("carries the type discriminator", func(t *testing.T) {
		data, err := ToJSON(JobQueued{JobID: jobID, Query: "tea", Timestamp: ts})
		require.NoError(t, err)
		assert.Equal(t, "job_queued", gjson.GetBytes(data, "type").String())
		assert.Equal(t, jobID.String(), gjson.GetBytes(data, "job_id").String())
		assert.Equal(t, "tea", gjson.GetBytes(data, "query").String())
	})

	t.Run("embeds raw payloads unquoted", func(t *testing.T) {
		plan, err := json.Marshal(research.DefaultPlan("tea", 5))
		require.NoError(t, err)

		data, err := ToJSON(PlanReady{JobID: jobID, Plan: plan, Fallback: true, Timestamp: ts})
		require.NoError(t, err)
		assert.Equal(t, "plan_ready", gjson.GetBytes(data, "type").String())
		assert.True(t, gjson.GetBytes(data, "fallback").Bool())
		assert.Equal(t, "s1", gjson.GetBytes(data, "plan.steps.0.id").String())
	})

	t.Run("flattens errors to strings", func(t *testing.T) {
		data, err := ToJSON(TaskFailed{JobID: jobID, TaskID: "s1", Err: errors.New("boom"), Timestamp: ts})
		require.NoError(t, err)
		assert.Equal(t, "boom", gjson.GetBytes(data, "error").String())
	})
}

func TestFromJSON(t *testing.T) {
	jobID := uuidx.New()
	ts := strfmt.DateTime(time.Now().UTC().Truncate(time.Millisecond))

	t.Run("round trips every event kind", func(t *testing.T) {
		report, _ := json.Marshal(research.Report{Markdown: "# T"})
		for _, event := range []Event{
			JobQueued{JobID: jobID, Query: "tea", Timestamp: ts},
			PlanReady{JobID: jobID, Plan: json.RawMessage(`{"objective":"tea","steps":[]}`), Fallback: true, Timestamp: ts},
			TaskStarted{JobID: jobID, TaskID: "s1", Kind: research.KindSearch, Attempt: 1, Timestamp: ts},
			TaskCompleted{JobID: jobID, TaskID: "s1", Kind: research.KindSearch, Result: json.RawMessage(`{"results":[]}`), Timestamp: ts},
			TaskRetrying{JobID: jobID, TaskID: "s1", Attempt: 2, Err: errors.New("transient"), Timestamp: ts},
			TaskFailed{JobID: jobID, TaskID: "s1", Err: errors.New("fatal"), Timestamp: ts},
			JobCompleted{JobID: jobID, Report: report, Timestamp: ts},
			Error{JobID: jobID, Sender: "runner", Err: errors.New("boom"), Timestamp: ts},
		} {
			data, err := ToJSON(event)
			require.NoError(t, err)

			decoded, err := FromJSON(data)
			require.NoError(t, err)
			assert.IsType(t, event, decoded)
		}
	})

	t.Run("restores fields", func(t *testing.T) {
		data, err := ToJSON(TaskStarted{JobID: jobID, TaskID: "s2", Kind: research.KindFilter, Attempt: 3, Timestamp: ts})
		require.NoError(t, err)

		decoded, err := FromJSON(data)
		require.NoError(t, err)
		started, ok := decoded.(TaskStarted)
		require.True(t, ok)
		assert.Equal(t, jobID, started.JobID)
		assert.Equal(t, "s2", started.TaskID)
		assert.Equal(t, research.KindFilter, started.Kind)
		assert.Equal(t, 3, started.Attempt)
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"type":"job_paused"}`))
		require.Error(t, err)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"type":`))
		require.Error(t, err)
	})
}
