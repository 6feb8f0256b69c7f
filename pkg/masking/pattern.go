package masking

import (
	"fmt"
	"regexp"
)

// CompiledPattern is a pre-compiled regex pattern and its replacement text.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatternSpecs are the default redaction rules applied to every
// session excerpt before it reaches the analyzer or embedding provider
// (spec.md §4.13): credentials that would otherwise leak into the Node
// Store's JSON archive, FTS index, and prompt text. Grounded on the
// teacher's CompiledPattern shape, generalized from MCP-server-scoped
// patterns loaded out of a registry to a fixed set this daemon always
// applies.
var builtinPatternSpecs = []CompiledPattern{
	{
		Name:        "aws_access_key",
		Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		Replacement: "[REDACTED_AWS_KEY]",
		Description: "AWS access key id",
	},
	{
		Name:        "generic_api_key",
		Regex:       regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token)\b\s*[:=]\s*['"]?[A-Za-z0-9_\-.]{16,}['"]?`),
		Replacement: "$1=[REDACTED]",
		Description: "key=value style API key or token assignment",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9_\-.]{10,}`),
		Replacement: "Bearer [REDACTED]",
		Description: "HTTP Authorization bearer token",
	},
	{
		Name:        "openai_key",
		Regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		Replacement: "[REDACTED_API_KEY]",
		Description: "OpenAI-style sk- prefixed secret key",
	},
	{
		Name:        "jwt",
		Regex:       regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		Replacement: "[REDACTED_JWT]",
		Description: "JSON Web Token",
	},
	{
		Name:        "db_connection_string",
		Regex:       regexp.MustCompile(`\b(postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^:\s]+:[^@\s]+@\S+`),
		Replacement: "$1://[REDACTED_CREDENTIALS]",
		Description: "database connection string with embedded credentials",
	},
	{
		Name:        "email_address",
		Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		Replacement: "[REDACTED_EMAIL]",
		Description: "email address",
	},
	{
		Name:        "private_key_block",
		Regex:       regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----[\s\S]+?-----END (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`),
		Replacement: "[REDACTED_PRIVATE_KEY]",
		Description: "PEM private key block",
	},
}

// compileCustom compiles operator-supplied patterns (spec.md §4.13's
// `masking.custom_patterns`), naming each "custom:<index>" so it never
// collides with a builtin name. An invalid expression is skipped rather
// than failing masking for the whole session.
func compileCustom(exprs []string, warn func(msg string, args ...any)) []*CompiledPattern {
	var out []*CompiledPattern
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			warn("skipping invalid custom masking pattern", "index", i, "error", err)
			continue
		}
		out = append(out, &CompiledPattern{
			Name:        fmt.Sprintf("custom:%d", i),
			Regex:       re,
			Replacement: "[REDACTED]",
			Description: "operator-defined custom pattern",
		})
	}
	return out
}
