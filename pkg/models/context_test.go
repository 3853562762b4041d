package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldHistory(t *testing.T) {
	c := NewContext()

	_, ok := c.Field("missing")
	assert.False(t, ok)
	assert.Empty(t, c.Accumulated("missing"))

	require.NoError(t, c.SetField("topic", "first"))
	require.NoError(t, c.SetField("topic", "second"))
	require.NoError(t, c.SetField("topic", "third"))

	value, ok := c.Field("topic")
	require.True(t, ok)
	assert.Equal(t, "third", value)
	assert.Equal(t, []any{"first", "second", "third"}, c.Accumulated("topic"))
	assert.Len(t, c.History("topic"), 3)
}

func TestContextAccumulatedFlattensSingleListEntry(t *testing.T) {
	// An initial-context list value fans out element-wise.
	c := ContextFromInitial(map[string]any{"items": []any{"a", "b", "c"}})

	assert.Equal(t, []any{"a", "b", "c"}, c.Accumulated("items"))

	// A second write ends the flattening: the history is now two entries.
	require.NoError(t, c.SetField("items", []any{"d"}))
	assert.Len(t, c.Accumulated("items"), 2)
}

func TestContextRejectsReservedWrites(t *testing.T) {
	c := NewContext()
	err := c.SetField("__operational__", map[string]any{"llm_calls": 99})
	require.ErrorIs(t, err, ErrReservedField)
	err = c.SetField("__parent__", "x")
	require.ErrorIs(t, err, ErrReservedField)
}

func TestContextFromInitialSkipsReservedNames(t *testing.T) {
	c := ContextFromInitial(map[string]any{
		"data":            1,
		"__operational__": "ignored",
	})
	assert.True(t, c.Has("data"))
	assert.Nil(t, c.Operational())
}

func TestInitOperationalInheritsMainIDFromParent(t *testing.T) {
	c := NewContext()
	c.SetParent(&ParentInfo{ParentExecutionID: "p1", MainExecutionID: "main1"})
	c.InitOperational("child1")

	require.NotNil(t, c.Operational())
	assert.Equal(t, "main1", c.Operational().MainExecutionID)

	root := NewContext()
	root.InitOperational("root1")
	assert.Equal(t, "root1", root.Operational().MainExecutionID)
}

func TestOperationalViewExposesCounters(t *testing.T) {
	c := NewContext()
	c.InitOperational("e1")
	c.Operational().LLMCalls = 2
	require.NoError(t, c.SetField("data", "x"))

	view := c.OperationalView()
	op, ok := view[OperationalKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, op["llm_calls"])
	assert.Equal(t, "x", view["data"])

	// Snapshot never includes the reserved namespaces.
	_, ok = c.Snapshot()[OperationalKey]
	assert.False(t, ok)
}

func TestContextCloneIsolation(t *testing.T) {
	c := NewContext()
	c.InitOperational("e1")
	require.NoError(t, c.SetField("list", []any{"a"}))

	clone := c.Clone()
	require.NoError(t, clone.SetField("list", "b"))
	clone.Operational().ToolCalls++
	inner := clone.Accumulated("list")
	_ = inner

	assert.Len(t, c.History("list"), 1)
	assert.Zero(t, c.Operational().ToolCalls)
}

func TestContextJournalTracksWrites(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.SetField("a", 1))
	require.NoError(t, c.SetField("b", 2))

	journal := c.Journal()
	require.Len(t, journal, 2)
	assert.Equal(t, "a", journal[0].Field)
	assert.Equal(t, "b", journal[1].Field)

	c.ResetJournal()
	assert.Empty(t, c.Journal())
}

func TestContextJSONRoundTrip(t *testing.T) {
	c := NewContext()
	c.SetParent(&ParentInfo{
		ParentExecutionID: "p1",
		MainExecutionID:   "m1",
		SignalsToParent:   []string{"DONE"},
	})
	c.InitOperational("e1")
	c.Operational().Signals = append(c.Operational().Signals, "START")
	c.Operational().Nodes["n"] = 2
	require.NoError(t, c.SetField("topic", "news"))
	require.NoError(t, c.SetField("count", 3))

	data, err := json.Marshal(c)
	require.NoError(t, err)

	restored := NewContext()
	require.NoError(t, json.Unmarshal(data, restored))

	value, ok := restored.Field("topic")
	require.True(t, ok)
	assert.Equal(t, "news", value)
	count, _ := restored.Field("count")
	assert.Equal(t, float64(3), count)
	assert.Equal(t, []string{"START"}, restored.Operational().Signals)
	assert.Equal(t, 2, restored.Operational().Nodes["n"])
	require.NotNil(t, restored.Parent())
	assert.Equal(t, "p1", restored.Parent().ParentExecutionID)
	assert.True(t, restored.Parent().WantsSignal("DONE"))
}

func TestCloneFieldsDropsReservedState(t *testing.T) {
	c := NewContext()
	c.SetParent(&ParentInfo{ParentExecutionID: "p1", MainExecutionID: "m1"})
	c.InitOperational("e1")
	c.Operational().LLMCalls = 5
	require.NoError(t, c.SetField("kept", "v"))

	inherited := c.CloneFields()
	assert.True(t, inherited.Has("kept"))
	assert.Nil(t, inherited.Operational())
	assert.Nil(t, inherited.Parent())
}

func TestNormalizeValueProjectsIntoJSONFamily(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.SetField("n", 7))
	value, _ := c.Field("n")
	assert.Equal(t, float64(7), value)

	type payload struct {
		Status string `json:"status"`
	}
	require.NoError(t, c.SetField("p", payload{Status: "ok"}))
	v, _ := c.Field("p")
	assert.Equal(t, map[string]any{"status": "ok"}, v)
}
