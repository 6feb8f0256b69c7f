package analyzer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, name, description string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\nInstructions body.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
}

func TestProbeAllPresent(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "code-review", "Reviews code changes.")
	writeSkill(t, root, "test-writing", "Writes tests.")

	av, err := Probe(root, []string{"code-review"}, []string{"test-writing"})
	require.NoError(t, err)
	require.Len(t, av.Available, 2)
	require.Empty(t, av.Missing)
	require.ElementsMatch(t, []string{"code-review", "test-writing"}, av.Names())
}

func TestProbeMissingRequiredIsFatal(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "test-writing", "Writes tests.")

	_, err := Probe(root, []string{"code-review"}, nil)
	require.Error(t, err)
	var missing *ErrRequiredSkillMissing
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "code-review", missing.Name)
}

func TestProbeMissingOptionalContinuesWithReducedContext(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "code-review", "Reviews code changes.")

	av, err := Probe(root, []string{"code-review"}, []string{"test-writing", "refactor"})
	require.NoError(t, err)
	require.Len(t, av.Available, 1)
	require.ElementsMatch(t, []string{"test-writing", "refactor"}, av.Missing)
}

func TestLoadSkillRejectsMissingFrontmatter(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte("no frontmatter here"), 0o644))

	_, err := Probe(root, []string{"broken"}, nil)
	require.Error(t, err)
}
