package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is an analyzer skill discovered under the configured skills root,
// parsed from its SKILL.md frontmatter.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
}

// Availability is the result of probing the configured required and
// optional skills at daemon startup (spec.md §4.5).
type Availability struct {
	Available []Skill
	Missing   []string // optional skills not found, for daemon_meta
}

// ErrRequiredSkillMissing is returned by Probe when a required skill is
// absent; the caller treats this as a fatal startup failure.
type ErrRequiredSkillMissing struct {
	Name string
}

func (e *ErrRequiredSkillMissing) Error() string {
	return fmt.Sprintf("required skill %q not found under skills root", e.Name)
}

// Probe loads every required and optional skill named in cfg from
// skillsRoot. A missing required skill returns *ErrRequiredSkillMissing. A
// missing optional skill is recorded in Availability.Missing and analysis
// continues with reduced context.
func Probe(skillsRoot string, required, optional []string) (Availability, error) {
	var av Availability

	for _, name := range required {
		skill, err := loadSkill(skillsRoot, name)
		if err != nil {
			return Availability{}, &ErrRequiredSkillMissing{Name: name}
		}
		av.Available = append(av.Available, skill)
	}

	for _, name := range optional {
		skill, err := loadSkill(skillsRoot, name)
		if err != nil {
			av.Missing = append(av.Missing, name)
			continue
		}
		av.Available = append(av.Available, skill)
	}

	return av, nil
}

func loadSkill(skillsRoot, name string) (Skill, error) {
	dir := filepath.Join(skillsRoot, name)
	path := filepath.Join(dir, "SKILL.md")
	content, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("read %s: %w", path, err)
	}

	front, _, ok := splitFrontmatter(string(content))
	if !ok {
		return Skill{}, fmt.Errorf("%s: missing frontmatter", path)
	}

	var s Skill
	if err := yaml.Unmarshal([]byte(front), &s); err != nil {
		return Skill{}, fmt.Errorf("%s: invalid frontmatter: %w", path, err)
	}
	if s.Name == "" {
		s.Name = name
	}
	s.Path = dir
	return s, nil
}

// splitFrontmatter extracts the YAML frontmatter block delimited by leading
// and trailing "---" lines.
func splitFrontmatter(content string) (frontmatter, body string, ok bool) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", false
	}

	var fm []string
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(fm, "\n"), strings.Join(lines[i+1:], "\n"), true
		}
		fm = append(fm, lines[i])
	}
	return "", "", false
}

// Names returns the available skills' names, for the CSV passed to the
// analyzer subprocess's --skills flag.
func (a Availability) Names() []string {
	names := make([]string, len(a.Available))
	for i, s := range a.Available {
		names[i] = s.Name
	}
	return names
}
