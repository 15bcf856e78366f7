package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlanJSON_FencedJSONBlock(t *testing.T) {
	text := "Here is my plan:\n```json\n{\"analysis\":\"a\",\"assignments\":[]}\n```\nThanks."
	raw, err := extractPlanJSON(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis":"a","assignments":[]}`, raw)
}

func TestExtractPlanJSON_UnfencedPlainBlock(t *testing.T) {
	text := "notes\n```\n{\"analysis\":\"b\",\"assignments\":[]}\n```\n"
	raw, err := extractPlanJSON(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis":"b","assignments":[]}`, raw)
}

func TestExtractPlanJSON_BraceMatchedFallback(t *testing.T) {
	text := `some preamble {"analysis":"c","assignments":[]} trailing text`
	raw, err := extractPlanJSON(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis":"c","assignments":[]}`, raw)
}

// A hub that emits two JSON objects is parsed as the first-to-last span, per
// spec design note 1, so the result may not itself be valid JSON.
func TestExtractPlanJSON_TwoObjectsSpansFirstToLast(t *testing.T) {
	text := `{"a":1} middle {"b":2}`
	raw, err := extractPlanJSON(text)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1} middle {"b":2}`, raw)
}

func TestExtractPlanJSON_NoJSONFound(t *testing.T) {
	_, err := extractPlanJSON("no json here at all")
	assert.Error(t, err)
}

func TestParsePlan_RejectsEmptyAssignments(t *testing.T) {
	_, err := parsePlan(`{"analysis":"x","assignments":[]}`)
	assert.Error(t, err)
}

func TestParsePlan_Success(t *testing.T) {
	plan, err := parsePlan(`{"analysis":"x","assignments":[{"agent_id":"a1","task_description":"do it","sequence_order":1}]}`)
	require.NoError(t, err)
	assert.Equal(t, "x", plan.Analysis)
	require.Len(t, plan.Assignments, 1)
	assert.Equal(t, "a1", plan.Assignments[0].AgentID)
}

func TestGroupBySequence_OrdersAscendingAndPreservesAppearanceOrder(t *testing.T) {
	assignments := []PlanAssignment{
		{AgentID: "a", SequenceOrder: 2},
		{AgentID: "b", SequenceOrder: 1},
		{AgentID: "c", SequenceOrder: 2},
		{AgentID: "d", SequenceOrder: 0},
	}
	order, groups := groupBySequence(assignments)
	assert.Equal(t, []int{0, 1, 2}, order)
	require.Len(t, groups[2], 2)
	assert.Equal(t, "a", groups[2][0].AgentID)
	assert.Equal(t, "c", groups[2][1].AgentID)
}

func TestDependencyHeader(t *testing.T) {
	got := dependencyHeader("agent-1", "result text")
	assert.Contains(t, got, "agent-1")
	assert.Contains(t, got, "result text")
}
