// Package skills loads SKILL.md front-matter from the user-scope and
// per-workspace skills directories, a capability the distilled spec mentions
// only in passing but never fully wires into a component.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// nameExp is the name pattern SKILL.md front-matter must satisfy, matching
// the directory it lives in.
var nameExp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// Metadata is a SKILL.md's YAML front-matter.
type Metadata struct {
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description"`
	AllowedTools  []string               `yaml:"allowed-tools,omitempty"`
	License       string                 `yaml:"license,omitempty"`
	Compatibility string                 `yaml:"compatibility,omitempty"`
	Extra         map[string]interface{} `yaml:"metadata,omitempty"`
}

// Skill is a discovered SKILL.md with its resolved directory.
type Skill struct {
	Metadata Metadata
	Dir      string
}

// Load walks dir for immediate subdirectories named <skill-name>/SKILL.md and
// parses each one's YAML front-matter, skipping (and logging via the
// returned error slice) any skill whose name doesn't match its directory or
// fails the name pattern.
func Load(dir string) ([]Skill, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("reading skills directory %s: %w", dir, err)}
	}

	var skills []Skill
	var errs []error

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		md := filepath.Join(skillDir, "SKILL.md")

		meta, err := parseSkillFile(md)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", md, err))
			continue
		}
		if meta.Name != entry.Name() {
			errs = append(errs, fmt.Errorf("%s: front-matter name %q does not match directory %q", md, meta.Name, entry.Name()))
			continue
		}
		if !nameExp.MatchString(meta.Name) {
			errs = append(errs, fmt.Errorf("%s: name %q does not match required pattern", md, meta.Name))
			continue
		}

		skills = append(skills, Skill{Metadata: meta, Dir: skillDir})
	}

	return skills, errs
}

func parseSkillFile(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}

	front, err := extractFrontMatter(string(data))
	if err != nil {
		return Metadata{}, err
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		return Metadata{}, fmt.Errorf("parsing YAML front-matter: %w", err)
	}
	return meta, nil
}

// extractFrontMatter pulls the content between the first pair of "---"
// delimiter lines.
func extractFrontMatter(content string) (string, error) {
	const delim = "---"
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delim {
		return "", fmt.Errorf("missing opening front-matter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			return strings.Join(lines[1:i], "\n"), nil
		}
	}
	return "", fmt.Errorf("missing closing front-matter delimiter")
}

// UserScopeDir returns "<home>/.iaagenthub/skills".
func UserScopeDir(iaAgentHubHome string) string {
	return filepath.Join(iaAgentHubHome, "skills")
}

// WorkspaceScopeDir returns "<cwd>/skills" for a given workspace working directory.
func WorkspaceScopeDir(workingDir string) string {
	return filepath.Join(workingDir, "skills")
}

// LoadAll merges user-scope and workspace-scope skills, workspace entries
// overriding a user-scope skill of the same name.
func LoadAll(iaAgentHubHome, workingDir string) ([]Skill, []error) {
	userSkills, userErrs := Load(UserScopeDir(iaAgentHubHome))
	wsSkills, wsErrs := Load(WorkspaceScopeDir(workingDir))

	byName := make(map[string]Skill, len(userSkills)+len(wsSkills))
	for _, s := range userSkills {
		byName[s.Metadata.Name] = s
	}
	for _, s := range wsSkills {
		byName[s.Metadata.Name] = s
	}

	merged := make([]Skill, 0, len(byName))
	for _, s := range byName {
		merged = append(merged, s)
	}

	return merged, append(userErrs, wsErrs...)
}
