package analyzer

import (
	"regexp"
	"strings"

	"github.com/brain-daemon/brain/pkg/store"
)

// Classification is the outcome of classifying a failed invocation, per the
// retry table in spec.md §4.5.
type Classification struct {
	Category   store.ErrorCategory
	MaxRetries int
}

var (
	permanentRe = regexp.MustCompile(`(?i)(file not found|no such file|empty session|malformed header|schema validation failed)`)
	timeoutRe   = regexp.MustCompile(`(?i)(timed? ?out|deadline exceeded)`)
	networkRe   = regexp.MustCompile(`(?i)(connection refused|connect: |network is unreachable|dial tcp|no route to host)`)
	rateLimitRe = regexp.MustCompile(`(?i)(rate.?limit|too many requests|429|overloaded)`)
)

// ClassifyFailure maps an invocation failure's signals to a retry category,
// per the table in spec.md §4.5. timedOut takes precedence: the process
// group was killed on our own hard deadline, independent of stderr content.
// It is never called for a shutdown-interrupted invocation (Result.Interrupted)
// — that path bypasses classification entirely and is released back to
// pending uncounted instead.
func ClassifyFailure(stderr string, exitCode int, timedOut bool, schemaFullyInvalid bool) Classification {
	msg := strings.TrimSpace(stderr)

	switch {
	case timedOut:
		return Classification{Category: store.ErrorTransient, MaxRetries: 3}
	case schemaFullyInvalid:
		return Classification{Category: store.ErrorPermanent, MaxRetries: 0}
	case permanentRe.MatchString(msg):
		return Classification{Category: store.ErrorPermanent, MaxRetries: 0}
	case rateLimitRe.MatchString(msg):
		return Classification{Category: store.ErrorTransient, MaxRetries: 5}
	case networkRe.MatchString(msg) || timeoutRe.MatchString(msg):
		return Classification{Category: store.ErrorTransient, MaxRetries: 3}
	default:
		return Classification{Category: store.ErrorUnknown, MaxRetries: 2}
	}
}
