package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/brain-daemon/brain/pkg/store"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	versions map[string]store.PromptVersion
	calls    int
}

func (f *fakeResolver) ResolvePromptVersion(ctx context.Context, content, reason string) (store.PromptVersion, error) {
	f.calls++
	if v, ok := f.versions[content]; ok {
		return v, nil
	}
	v := store.PromptVersion{Label: "v1-aaaaaaaa", Hash: "aaaaaaaa"}
	f.versions[content] = v
	return v, nil
}

func TestPreparePromptReadsFileAndResolvesVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analyzer.md")
	require.NoError(t, os.WriteFile(path, []byte("You are an analyzer."), 0o644))

	resolver := &fakeResolver{versions: map[string]store.PromptVersion{}}
	content, version, err := PreparePrompt(context.Background(), resolver, path)
	require.NoError(t, err)
	require.Equal(t, "You are an analyzer.", content)
	require.Equal(t, "v1-aaaaaaaa", version.Label)
	require.Equal(t, 1, resolver.calls)
}

func TestPreparePromptMissingFile(t *testing.T) {
	resolver := &fakeResolver{versions: map[string]store.PromptVersion{}}
	_, _, err := PreparePrompt(context.Background(), resolver, filepath.Join(t.TempDir(), "missing.md"))
	require.Error(t, err)
}
