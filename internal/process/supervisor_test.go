package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBuffer_DropsOnceFull(t *testing.T) {
	b := newTailBuffer(3)
	b.add("one")
	b.add("two")
	b.add("three")
	b.add("four") // dropped, buffer already at capacity

	assert.Equal(t, []string{"one", "two", "three"}, b.Lines())
}

func TestTailBuffer_LinesReturnsSnapshotCopy(t *testing.T) {
	b := newTailBuffer(5)
	b.add("one")
	snapshot := b.Lines()
	b.add("two")

	assert.Equal(t, []string{"one"}, snapshot)
	assert.Equal(t, []string{"one", "two"}, b.Lines())
}

func TestSpawnFailedError_Error(t *testing.T) {
	err := &SpawnFailedError{ExitStatus: 1, StderrTail: []string{"boom", "trace"}}
	assert.Contains(t, err.Error(), "status=1")
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "trace")
}

func TestBuildEnv_StripsExistingPathAndAppendsExtra(t *testing.T) {
	env := buildEnv([]string{"CHAT_TOOL_ID=abc"})

	pathCount := 0
	var pathValue string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			pathCount++
			pathValue = kv
		}
	}
	assert.Equal(t, 1, pathCount, "exactly one PATH entry after merging")
	assert.NotEmpty(t, pathValue)
	assert.Contains(t, env, "CHAT_TOOL_ID=abc")
}

func TestEnrichedPath_IncludesSystemPath(t *testing.T) {
	systemPath := "/usr/bin:/bin"
	t.Setenv("PATH", systemPath)
	got := EnrichedPath()
	assert.Contains(t, got, systemPath)
}
