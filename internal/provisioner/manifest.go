package provisioner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest records which registry agent ids have been installed.
type Manifest struct {
	Installed map[string]bool `json:"installed"`
}

func manifestPath(homeDir string) string {
	return filepath.Join(homeDir, "installed.json")
}

func loadManifest(homeDir string) (*Manifest, error) {
	path := manifestPath(homeDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{Installed: make(map[string]bool)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading install manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing install manifest: %w", err)
	}
	if m.Installed == nil {
		m.Installed = make(map[string]bool)
	}
	return &m, nil
}

func (m *Manifest) Add(id string)    { m.Installed[id] = true }
func (m *Manifest) Remove(id string) { delete(m.Installed, id) }

func (m *Manifest) save(homeDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling install manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(homeDir), data, 0o644); err != nil {
		return fmt.Errorf("writing install manifest: %w", err)
	}
	return nil
}
