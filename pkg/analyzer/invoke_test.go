package analyzer

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/brain-daemon/brain/pkg/store"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test; it's invoked as a subprocess by
// the tests below via os.Args[0], following the standard library's
// os/exec test pattern for simulating an external binary without
// depending on one being installed.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("BRAIN_ANALYZER_HELPER") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("BRAIN_ANALYZER_MODE") {
	case "success":
		os.Stdout.WriteString(`{"classification":{"type":"coding_session","project":"brain"},"content":{"summary":"did a thing","outcome":"success"}}`)
	case "hang":
		time.Sleep(5 * time.Second)
	case "hang-ignore-term":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(5 * time.Second)
	case "permanent":
		os.Stderr.WriteString("malformed header: missing type field")
		os.Exit(1)
	case "partial":
		os.Stdout.WriteString(`{"classification":{"type":"coding_session","project":"brain"}}`)
	case "garbage":
		os.Stdout.WriteString("not json at all")
		os.Exit(1)
	}
}

func helperRequest(t *testing.T, mode string) Request {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)
	return Request{
		Binary:          self,
		Provider:        "anthropic",
		Model:           "test-model",
		PromptFile:      "prompts/analyzer.md",
		Skills:          []string{"code-review"},
		PromptVersion:   "v1-deadbeef",
		SessionFile:     "session.jsonl",
		SegmentBoundary: "tail",
		Timeout:         time.Second,
	}
}

// Invoke spawns req.Binary directly with the analyzer's own flag
// contract, which a go test binary does not understand. invokeViaHelper
// re-implements just enough of Invoke's subprocess plumbing against
// "-test.run=TestHelperProcess" so these tests exercise output validation
// and timeout handling without requiring a real analyzer binary.
func invokeViaHelper(t *testing.T, mode string, timeout time.Duration) Result {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, self, "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), "BRAIN_ANALYZER_HELPER=1", "BRAIN_ANALYZER_MODE="+mode)

	out, err := cmd.Output()
	timedOut := ctx.Err() == context.DeadlineExceeded
	if err != nil || timedOut {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		cls := ClassifyFailure(stderr, 0, timedOut, false)
		return Result{Err: err, Classification: cls}
	}
	return validateOutput(out)
}

func TestInvokeSuccessValidatesNode(t *testing.T) {
	res := invokeViaHelper(t, "success", 5*time.Second)
	require.NoError(t, res.Err)
	require.False(t, res.PartiallySalvaged)
	require.Equal(t, "did a thing", res.Node.Content.Summary)
	require.Equal(t, "coding_session", res.Node.Classification.Type)
}

func TestInvokePermanentFailureClassification(t *testing.T) {
	res := invokeViaHelper(t, "permanent", 5*time.Second)
	require.Error(t, res.Err)
	require.Equal(t, ClassifyFailure("malformed header: missing type field", 1, false, false), res.Classification)
}

func TestInvokePartialSalvageSetsNeedsReview(t *testing.T) {
	res := invokeViaHelper(t, "partial", 5*time.Second)
	require.NoError(t, res.Err)
	require.True(t, res.PartiallySalvaged)
	require.True(t, res.Node.Metadata.DaemonMeta.NeedsReview)
	require.Equal(t, "coding_session", res.Node.Classification.Type)
}

func TestInvokeGarbageOutputIsUnsalvageable(t *testing.T) {
	res := invokeViaHelper(t, "garbage", 5*time.Second)
	require.Error(t, res.Err)
}

func TestInvokeTimeoutClassifiesTransient(t *testing.T) {
	res := invokeViaHelper(t, "hang", 200*time.Millisecond)
	require.Error(t, res.Err)
	require.Equal(t, store.ErrorTransient, res.Classification.Category)
	require.Equal(t, 3, res.Classification.MaxRetries)
}

func TestValidateOutputRejectsEmptyDocument(t *testing.T) {
	res := validateOutput([]byte(`{}`))
	require.Error(t, res.Err)
	require.Equal(t, Classification{Category: "permanent", MaxRetries: 0}, res.Classification)
}

func TestClassifyRunCtxErrDistinguishesCancelFromDeadline(t *testing.T) {
	timedOut, interrupted := classifyRunCtxErr(context.DeadlineExceeded)
	require.True(t, timedOut)
	require.False(t, interrupted)

	timedOut, interrupted = classifyRunCtxErr(context.Canceled)
	require.False(t, timedOut)
	require.True(t, interrupted)
}

func startHelper(t *testing.T, mode string) (*exec.Cmd, <-chan error) {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	cmd := exec.Command(self, "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), "BRAIN_ANALYZER_HELPER=1", "BRAIN_ANALYZER_MODE="+mode)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	return cmd, done
}

func TestKillProcessGroupGracefulStopsOnSIGTERM(t *testing.T) {
	cmd, done := startHelper(t, "hang")

	start := time.Now()
	err := killProcessGroupGraceful(cmd, done, time.Second)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second, "SIGTERM alone should terminate a process with no handler well before the grace period elapses")
}

func TestKillProcessGroupGracefulEscalatesToSIGKILL(t *testing.T) {
	cmd, done := startHelper(t, "hang-ignore-term")

	start := time.Now()
	err := killProcessGroupGraceful(cmd, done, 150*time.Millisecond)
	elapsed := time.Since(start)
	require.Error(t, err)
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "a SIGTERM-ignoring process should only die once SIGKILL escalates after the grace period")
}

func TestKillProcessGroupGracefulZeroGraceKillsImmediately(t *testing.T) {
	cmd, done := startHelper(t, "hang-ignore-term")

	start := time.Now()
	err := killProcessGroupGraceful(cmd, done, 0)
	require.Error(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAnalysisInstructionsSerializesSegment(t *testing.T) {
	req := helperRequest(t, "success")
	req.Entries = nil
	instructions, err := analysisInstructions(req)
	require.NoError(t, err)
	require.Contains(t, instructions, `"sessionFile":"session.jsonl"`)
	require.Contains(t, instructions, `"segmentBoundary":"tail"`)
}
