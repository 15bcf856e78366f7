package provisioner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
)

func TestToRegistryEntries_MapsUserConfigFields(t *testing.T) {
	entries := toRegistryEntries([]userConfigEntry{
		{Name: "my-agent", Command: "my-agent-bin", Args: []string{"--flag"}, Env: []string{"X=1"}},
	})
	require.Len(t, entries, 1)
	assert.Equal(t, "my-agent", entries[0].ID)
	assert.Equal(t, "my-agent-bin", entries[0].Command)
	assert.Equal(t, []string{"--flag"}, entries[0].Argv)
	assert.Equal(t, []string{"X=1"}, entries[0].Env)
}

func TestDetect_ReturnsOneResultPerRegistryEntry(t *testing.T) {
	registry := NewRegistry()
	d := NewDiscovery(registry, logger.Default())

	results, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, len(registry.All()))
}

func TestDetect_ServesCachedSnapshotWithinTTL(t *testing.T) {
	registry := NewRegistry()
	d := NewDiscovery(registry, logger.Default())

	first, err := d.Detect(context.Background())
	require.NoError(t, err)

	cachedAt := d.cachedAt
	second, err := d.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cachedAt, d.cachedAt, "a second call within the TTL must not re-probe")
	assert.Equal(t, first, second)
}

func TestInvalidateCache_ForcesNextDetectToRebuildSnapshot(t *testing.T) {
	registry := NewRegistry()
	d := NewDiscovery(registry, logger.Default())

	_, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.False(t, d.cachedAt.IsZero())

	d.InvalidateCache()
	assert.True(t, d.cachedAt.IsZero())

	_, err = d.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, d.cachedAt.IsZero())
}

func TestProbe_UnavailableCommandReportsFalse(t *testing.T) {
	d := &Discovery{registry: NewRegistry(), log: logger.Default()}
	entry := RegistryEntry{ID: "nope", DisplayName: "Nope", Command: "definitely-not-a-real-binary-xyz"}

	result := d.probe(entry)
	assert.False(t, result.Available)
	assert.Equal(t, "nope", result.RegistryID)
}

func TestProbeVersion_UnknownPathReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", probeVersion("/definitely/not/a/real/path/xyz"))
}

func TestDiscoveryCacheTTL_IsPositive(t *testing.T) {
	assert.Greater(t, discoveryCacheTTL, time.Duration(0))
}
