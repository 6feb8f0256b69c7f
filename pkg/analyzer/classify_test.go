package analyzer

import (
	"testing"

	"github.com/brain-daemon/brain/pkg/store"
	"github.com/stretchr/testify/require"
)

func TestClassifyFailureTimeoutTakesPrecedence(t *testing.T) {
	c := ClassifyFailure("rate limited: 429", 1, true, false)
	require.Equal(t, store.ErrorTransient, c.Category)
	require.Equal(t, 3, c.MaxRetries)
}

func TestClassifyFailurePermanentSignals(t *testing.T) {
	cases := []string{
		"open session.jsonl: no such file or directory",
		"file not found: header.json",
		"empty session: nothing to analyze",
		"malformed header: missing type field",
	}
	for _, msg := range cases {
		c := ClassifyFailure(msg, 1, false, false)
		require.Equal(t, store.ErrorPermanent, c.Category, msg)
		require.Equal(t, 0, c.MaxRetries, msg)
	}
}

func TestClassifyFailureSchemaFullyInvalid(t *testing.T) {
	c := ClassifyFailure("", 0, false, true)
	require.Equal(t, store.ErrorPermanent, c.Category)
	require.Equal(t, 0, c.MaxRetries)
}

func TestClassifyFailureRateLimit(t *testing.T) {
	c := ClassifyFailure("provider responded 429 too many requests", 1, false, false)
	require.Equal(t, store.ErrorTransient, c.Category)
	require.Equal(t, 5, c.MaxRetries)
}

func TestClassifyFailureNetwork(t *testing.T) {
	cases := []string{
		"dial tcp 10.0.0.1:443: connect: connection refused",
		"context deadline exceeded while waiting for provider",
	}
	for _, msg := range cases {
		c := ClassifyFailure(msg, 1, false, false)
		require.Equal(t, store.ErrorTransient, c.Category, msg)
		require.Equal(t, 3, c.MaxRetries, msg)
	}
}

func TestClassifyFailureUnknownDefaultsToTwoRetries(t *testing.T) {
	c := ClassifyFailure("panic: something unexpected", 2, false, false)
	require.Equal(t, store.ErrorUnknown, c.Category)
	require.Equal(t, 2, c.MaxRetries)
}
