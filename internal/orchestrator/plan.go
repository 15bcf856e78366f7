package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PlanAssignment is one entry of a Control Hub's planning reply.
type PlanAssignment struct {
	AgentID        string   `json:"agent_id"`
	TaskDescription string  `json:"task_description"`
	SequenceOrder  int      `json:"sequence_order"`
	DependsOn      []string `json:"depends_on"`
}

// Plan is the parsed JSON reply to the planning prompt.
type Plan struct {
	Analysis    string           `json:"analysis"`
	Assignments []PlanAssignment `json:"assignments"`
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*\\n(.*?)```")
var fencedPlainBlock = regexp.MustCompile("(?s)```\\s*\\n(.*?)```")

// extractPlanJSON pulls a JSON object out of a Control Hub's free-form reply
// in the order the planning design specifies: a fenced ```json block, an
// unfenced ``` block whose content begins with '{', or the substring
// between the first '{' and the last '}'.
func extractPlanJSON(text string) (string, error) {
	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), nil
	}

	for _, m := range fencedPlainBlock.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") {
			return candidate, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in planning reply")
}

// parsePlan extracts and decodes a Plan from a Control Hub's planning reply.
func parsePlan(text string) (*Plan, error) {
	raw, err := extractPlanJSON(text)
	if err != nil {
		return nil, err
	}

	var p Plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding plan JSON: %w", err)
	}
	if len(p.Assignments) == 0 {
		return nil, fmt.Errorf("plan carries no assignments")
	}
	return &p, nil
}

// groupBySequence groups assignments by sequence_order, returning the
// distinct sequence values sorted ascending and a map from each value to its
// assignments in the order they appeared in the plan.
func groupBySequence(assignments []PlanAssignment) ([]int, map[int][]PlanAssignment) {
	groups := make(map[int][]PlanAssignment)
	var order []int
	seen := make(map[int]bool)

	for _, a := range assignments {
		if !seen[a.SequenceOrder] {
			seen[a.SequenceOrder] = true
			order = append(order, a.SequenceOrder)
		}
		groups[a.SequenceOrder] = append(groups[a.SequenceOrder], a)
	}

	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if order[j] < order[i] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	return order, groups
}

// dependencyHeader formats a completed dependency's output for inclusion in
// a downstream assignment's prompt.
func dependencyHeader(agentName, output string) string {
	return fmt.Sprintf("--- Output from %s ---\n%s", agentName, output)
}
