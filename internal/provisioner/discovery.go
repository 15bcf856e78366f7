package provisioner

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/store"
	"go.uber.org/zap"
)

const discoveryCacheTTL = 30 * time.Second

// maxConcurrentProbes bounds how many registry entries are probed for PATH
// availability at once.
const maxConcurrentProbes = 8

// userConfigEntry is one entry of a <config>/acp/agents.json file.
type userConfigEntry struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

type userConfigFile struct {
	Agents []userConfigEntry `json:"agents"`
}

// Discovery maintains the rebuildable Discovered Agent Snapshot, replaced
// atomically on each Detect call and cached for discoveryCacheTTL.
type Discovery struct {
	registry *Registry
	log      *logger.Logger

	mu       sync.RWMutex
	snapshot []store.DiscoveredAgent
	cachedAt time.Time
}

// NewDiscovery constructs a Discovery over the given Registry, first merging
// in any user config file entries found at the well-known config paths.
func NewDiscovery(registry *Registry, log *logger.Logger) *Discovery {
	for _, path := range userConfigPaths() {
		if entries, err := readUserConfig(path); err == nil {
			registry.Merge(toRegistryEntries(entries))
		}
	}
	return &Discovery{registry: registry, log: log}
}

// userConfigPaths returns the well-known discovery config file locations.
func userConfigPaths() []string {
	var paths []string

	if cfgDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(cfgDir, "acp", "agents.json"))
	}
	if runtime.GOOS == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, "Library", "Application Support", "acp", "agents.json"))
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".acp", "agents.json"))
	}
	return paths
}

func readUserConfig(path string) ([]userConfigEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f userConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Agents, nil
}

func toRegistryEntries(entries []userConfigEntry) []RegistryEntry {
	out := make([]RegistryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RegistryEntry{
			ID:          e.Name,
			DisplayName: e.Name,
			Command:     e.Command,
			Argv:        e.Args,
			Env:         e.Env,
		})
	}
	return out
}

// Detect resolves availability for every registry entry via PATH lookup,
// probing concurrently (bounded by maxConcurrentProbes), and replaces the
// in-memory snapshot atomically. Results are served from cache within
// discoveryCacheTTL.
func (d *Discovery) Detect(ctx context.Context) ([]store.DiscoveredAgent, error) {
	d.mu.RLock()
	if time.Since(d.cachedAt) < discoveryCacheTTL && d.snapshot != nil {
		cached := append([]store.DiscoveredAgent(nil), d.snapshot...)
		d.mu.RUnlock()
		return cached, nil
	}
	d.mu.RUnlock()

	entries := d.registry.All()
	results := make([]store.DiscoveredAgent, len(entries))

	sem := semaphore.NewWeighted(maxConcurrentProbes)
	var wg sync.WaitGroup
	for i, entry := range entries {
		i, entry := i, entry
		if err := sem.Acquire(ctx, 1); err != nil {
			d.log.Warn("discovery probe acquisition cancelled", zap.Error(err))
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = d.probe(entry)
		}()
	}
	wg.Wait()

	d.mu.Lock()
	d.snapshot = results
	d.cachedAt = time.Now()
	d.mu.Unlock()

	return append([]store.DiscoveredAgent(nil), results...), nil
}

func (d *Discovery) probe(entry RegistryEntry) store.DiscoveredAgent {
	da := store.DiscoveredAgent{
		RegistryID:  entry.ID,
		DisplayName: entry.DisplayName,
		Command:     entry.Command,
	}

	path, err := exec.LookPath(entry.Command)
	if err != nil {
		da.Available = false
		return da
	}
	da.Available = true
	da.Version = probeVersion(path)
	return da
}

// probeVersion best-effort runs "<command> --version" with a short timeout
// and returns the first line of output, swallowing any failure.
func probeVersion(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	line := string(out)
	for i, c := range line {
		if c == '\n' {
			return line[:i]
		}
	}
	return line
}

// InvalidateCache forces the next Detect call to re-probe every entry.
func (d *Discovery) InvalidateCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedAt = time.Time{}
}
