package provisioner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
)

func newTestProvisioner(t *testing.T) *Provisioner {
	t.Helper()
	registry := NewRegistry()
	p, err := New(registry, t.TempDir(), time.Minute, logger.Default())
	require.NoError(t, err)
	return p
}

func TestResolve_UnknownRegistryIDReturnsError(t *testing.T) {
	p := newTestProvisioner(t)
	_, err := p.Resolve(context.Background(), "no-such-agent")
	assert.Error(t, err)
}

func TestResolve_PrefersPathLookupWhenCommandAvailable(t *testing.T) {
	p := newTestProvisioner(t)
	p.registry.Merge([]RegistryEntry{{ID: "echoer", DisplayName: "Echoer", Command: "echo", Argv: []string{"hi"}}})

	inv, err := p.Resolve(context.Background(), "echoer")
	require.NoError(t, err)

	wantPath, lookErr := exec.LookPath("echo")
	require.NoError(t, lookErr)
	assert.Equal(t, wantPath, inv.Command)
	assert.Equal(t, []string{"hi"}, inv.Args)
}

func TestResolve_FallsBackToConfiguredCommandWhenNothingAvailable(t *testing.T) {
	p := newTestProvisioner(t)
	p.registry.Merge([]RegistryEntry{{
		ID: "ghost", DisplayName: "Ghost",
		Command: "definitely-not-a-real-binary-xyz", Argv: []string{"--flag"}, Env: []string{"X=1"},
	}})

	inv, err := p.Resolve(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "definitely-not-a-real-binary-xyz", inv.Command)
	assert.Equal(t, []string{"--flag"}, inv.Args)
	assert.Equal(t, []string{"X=1"}, inv.Env)
}

func TestResolve_UsesInstalledCacheBinaryWhenPresentOnDisk(t *testing.T) {
	p := newTestProvisioner(t)
	entry := RegistryEntry{
		ID: "cached-agent", DisplayName: "Cached", Command: "definitely-not-a-real-binary-xyz",
		Dist: Distribution{Binary: &BinaryDistribution{BinaryPath: "bin/agent"}},
	}
	p.registry.Merge([]RegistryEntry{entry})

	binPath := filepath.Join(p.cacheDir("cached-agent"), "bin", "agent")
	require.NoError(t, os.MkdirAll(filepath.Dir(binPath), 0o755))
	require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	inv, err := p.Resolve(context.Background(), "cached-agent")
	require.NoError(t, err)
	assert.Equal(t, binPath, inv.Command)
}

func TestInstall_UnknownRegistryIDReturnsError(t *testing.T) {
	p := newTestProvisioner(t)
	err := p.Install(context.Background(), "no-such-agent")
	assert.Error(t, err)
}

func TestInstall_EntryWithNoDistributionReturnsError(t *testing.T) {
	p := newTestProvisioner(t)
	p.registry.Merge([]RegistryEntry{{ID: "bare", DisplayName: "Bare", Command: "bare"}})

	err := p.Install(context.Background(), "bare")
	assert.Error(t, err)
}

func TestUninstall_RemovesCacheDirAndManifestEntry(t *testing.T) {
	p := newTestProvisioner(t)
	p.manifest.Add("some-agent")
	require.NoError(t, p.manifest.save(p.homeDir))

	require.NoError(t, p.Uninstall("some-agent"))

	reloaded, err := loadManifest(p.homeDir)
	require.NoError(t, err)
	assert.False(t, reloaded.Installed["some-agent"])
}
