package masking

import (
	"log/slog"

	"github.com/brain-daemon/brain/pkg/config"
)

// Service applies data masking to session excerpts before they reach the
// analyzer subprocess or the embedding provider (spec.md §4.13). It is
// created once at daemon startup and is safe for concurrent use: all
// patterns are compiled eagerly and never mutated afterward. Grounded on
// the teacher's MaskingService shape (eager compile-at-construction,
// fail-closed application), narrowed to this daemon's single masking
// surface instead of per-MCP-server scoping.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
}

// NewService builds a Service from the daemon's masking configuration,
// compiling the fixed builtin set plus any operator-supplied custom
// patterns. Invalid custom patterns are logged and skipped rather than
// failing startup.
func NewService(cfg config.MaskingConfig) *Service {
	s := &Service{enabled: cfg.Enabled}
	for i := range builtinPatternSpecs {
		p := builtinPatternSpecs[i]
		s.patterns = append(s.patterns, &p)
	}
	s.patterns = append(s.patterns, compileCustom(cfg.CustomPatterns, func(msg string, args ...any) {
		slog.Warn(msg, args...)
	})...)

	slog.Info("masking service initialized", "enabled", s.enabled, "patterns", len(s.patterns))
	return s
}

// Mask redacts every configured pattern from text, returning the scrubbed
// text and the number of redactions applied. When masking is disabled the
// text is returned unchanged with a zero count.
func (s *Service) Mask(text string) (string, int) {
	if !s.enabled || text == "" {
		return text, 0
	}
	masked := text
	count := 0
	for _, p := range s.patterns {
		matches := p.Regex.FindAllString(masked, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked, count
}
