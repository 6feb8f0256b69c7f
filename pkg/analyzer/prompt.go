package analyzer

import (
	"context"
	"fmt"
	"os"

	"github.com/brain-daemon/brain/pkg/store"
)

// PromptResolver is the subset of *store.Store the Analyzer Invoker needs
// to resolve a prompt version; declared as an interface so invocation can
// be tested against a fake.
type PromptResolver interface {
	ResolvePromptVersion(ctx context.Context, content, reason string) (store.PromptVersion, error)
}

// PreparePrompt reads the analyzer's system prompt file and resolves its
// version (spec.md §4.5: "read the current analyzer prompt file, compute
// its normalized hash, look up or create a prompt version record").
func PreparePrompt(ctx context.Context, resolver PromptResolver, promptFile string) (string, store.PromptVersion, error) {
	content, err := os.ReadFile(promptFile)
	if err != nil {
		return "", store.PromptVersion{}, fmt.Errorf("read prompt file %s: %w", promptFile, err)
	}

	version, err := resolver.ResolvePromptVersion(ctx, string(content), "")
	if err != nil {
		return "", store.PromptVersion{}, fmt.Errorf("resolve prompt version: %w", err)
	}
	return string(content), version, nil
}
