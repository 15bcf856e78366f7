// Package provisioner resolves a logical agent identity to a runnable
// executable + argv + env, and maintains the discovered-agents snapshot.
package provisioner

// Distribution is a tagged union of the two ways a known agent identity can
// be distributed, avoiding a subclass hierarchy per the registry design note.
type Distribution struct {
	Binary *BinaryDistribution
	Npx    *NpxDistribution
}

// BinaryDistribution resolves to a per-platform prebuilt archive.
type BinaryDistribution struct {
	// Targets maps "os/arch" (runtime.GOOS + "/" + runtime.GOARCH) to the
	// platform-specific archive URL.
	Targets map[string]string
	// BinaryPath is the path to the executable inside the extracted archive,
	// relative to the cache dir.
	BinaryPath string
}

// NpxDistribution resolves to an npx-invoked npm package.
type NpxDistribution struct {
	Package string
	Argv    []string
}

// RegistryEntry is one known agent identity.
type RegistryEntry struct {
	ID          string
	DisplayName string
	Command     string // configured command basename, used for PATH lookup and as ultimate fallback
	Argv        []string
	Env         []string
	Dist        Distribution
	// IsBuiltIn marks the embedded JS adapter special case.
	IsBuiltIn bool
}

// Registry is the built-in table of known agent identities plus any entries
// merged in from user config files.
type Registry struct {
	entries map[string]RegistryEntry
}

// NewRegistry constructs a Registry seeded with the built-in entries.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]RegistryEntry)}
	for _, e := range builtinEntries() {
		r.entries[e.ID] = e
	}
	return r
}

// Merge adds or overwrites entries, e.g. from a user config file.
func (r *Registry) Merge(entries []RegistryEntry) {
	for _, e := range entries {
		r.entries[e.ID] = e
	}
}

// Get returns a registry entry by id.
func (r *Registry) Get(id string) (RegistryEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// All returns every known entry, in no particular order.
func (r *Registry) All() []RegistryEntry {
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// builtinEntries seeds the registry with a small set of well-known
// command-line assistants, covering both distribution shapes.
func builtinEntries() []RegistryEntry {
	return []RegistryEntry{
		{
			ID:          "claude-code",
			DisplayName: "Claude Code",
			Command:     "claude",
			Dist: Distribution{Npx: &NpxDistribution{
				Package: "@anthropic-ai/claude-code",
			}},
		},
		{
			ID:          "goose",
			DisplayName: "Goose",
			Command:     "goose",
			Dist: Distribution{Binary: &BinaryDistribution{
				Targets: map[string]string{
					"darwin/arm64": "https://github.com/block/goose/releases/latest/download/goose-aarch64-apple-darwin.tar.bz2",
					"darwin/amd64": "https://github.com/block/goose/releases/latest/download/goose-x86_64-apple-darwin.tar.bz2",
					"linux/amd64":  "https://github.com/block/goose/releases/latest/download/goose-x86_64-unknown-linux-gnu.tar.bz2",
				},
				BinaryPath: "goose",
			}},
		},
		{
			ID:          "iaagent-bridge",
			DisplayName: "IAAgentHub built-in adapter",
			Command:     "iaagent-bridge",
			IsBuiltIn:   true,
			Dist:        Distribution{Npx: &NpxDistribution{Package: "iaagenthub-builtin-adapter"}},
		},
	}
}
