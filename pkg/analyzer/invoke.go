// Package analyzer implements the Analyzer Invoker: it turns one leased
// job into an external analyzer subprocess invocation and a validated Node
// (spec.md §4.5).
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
)

// Request is everything one invocation needs: the resolved provider/model,
// the prompt version, the available skills, and the segment to analyze.
type Request struct {
	Binary          string
	Provider        string
	Model           string
	PromptFile      string
	Skills          []string
	PromptVersion   string
	SessionFile     string
	SegmentBoundary string
	Entries         []session.Entry
	Timeout         time.Duration
	// ShutdownGrace bounds how long a parent-context cancellation (the
	// Worker Pool draining on shutdown, spec.md §4.4) waits after SIGTERM
	// before escalating to SIGKILL. Zero means kill immediately. It has no
	// effect when the invocation's own Timeout elapses instead — a job
	// timeout is killed immediately (spec.md §4.5).
	ShutdownGrace time.Duration
}

// Result is what one invocation produced: either a validated node, or a
// classified failure. PartiallySalvaged is set when output validation
// failed but enough fields were recoverable to proceed with needsReview.
// Interrupted is set instead of Classification when the parent context was
// cancelled out from under the invocation (shutdown, not a job timeout):
// the caller must release the job back to pending uncounted, never retry-
// classify or complete it (spec.md §4.4).
type Result struct {
	Node              store.Node
	PartiallySalvaged bool
	Classification    Classification
	Interrupted       bool
	Err               error
}

// analysisInstructions serializes the segment as the `-p` payload the
// analyzer subprocess receives (spec.md §6): a JSON object naming the
// source session file, boundary, and the entries under analysis.
func analysisInstructions(req Request) (string, error) {
	payload := struct {
		SessionFile     string          `json:"sessionFile"`
		SegmentBoundary string          `json:"segmentBoundary"`
		PromptVersion   string          `json:"promptVersion"`
		Entries         []session.Entry `json:"entries"`
	}{
		SessionFile:     req.SessionFile,
		SegmentBoundary: req.SegmentBoundary,
		PromptVersion:   req.PromptVersion,
		Entries:         req.Entries,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal analysis instructions: %w", err)
	}
	return string(b), nil
}

// Invoke spawns the analyzer subprocess per the wire contract in spec.md
// §6 (`--provider --model --system-prompt --skills --no-session --mode
// json -p <instructions>`), enforces a hard timeout by killing the whole
// process group, and validates stdout against the Node schema with
// partial salvage on failure.
func Invoke(ctx context.Context, req Request) Result {
	if req.Timeout <= 0 {
		req.Timeout = 10 * time.Minute
	}
	instructions, err := analysisInstructions(req)
	if err != nil {
		return Result{Err: err, Classification: Classification{Category: store.ErrorPermanent, MaxRetries: 0}}
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := []string{
		"--provider", req.Provider,
		"--model", req.Model,
		"--system-prompt", req.PromptFile,
		"--skills", strings.Join(req.Skills, ","),
		"--no-session",
		"--mode", "json",
		"-p", instructions,
	}
	cmd := exec.CommandContext(runCtx, req.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startErr := cmd.Start()
	if startErr != nil {
		return Result{
			Err:            fmt.Errorf("start analyzer: %w", startErr),
			Classification: ClassifyFailure(startErr.Error(), -1, false, false),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	var timedOut, interrupted bool
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		timedOut, interrupted = classifyRunCtxErr(runCtx.Err())
		if interrupted {
			waitErr = killProcessGroupGraceful(cmd, done, req.ShutdownGrace)
		} else {
			waitErr = killProcessGroupNow(cmd, done)
		}
	}

	if interrupted {
		return Result{Interrupted: true, Err: fmt.Errorf("analyzer invocation interrupted by shutdown")}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if waitErr != nil || timedOut {
		cls := ClassifyFailure(stderr.String(), exitCode, timedOut, false)
		return Result{
			Err:            fmt.Errorf("analyzer exited %d: %s", exitCode, strings.TrimSpace(stderr.String())),
			Classification: cls,
		}
	}

	return validateOutput(stdout.Bytes())
}

// classifyRunCtxErr distinguishes a shutdown cancellation (the parent
// context was cancelled out from under us) from our own per-job timeout
// elapsing, based on the sentinel error context.WithTimeout propagates:
// an explicit cancel always yields context.Canceled, while a deadline
// elapsing (ours or an ancestor's) yields context.DeadlineExceeded.
func classifyRunCtxErr(err error) (timedOut, interrupted bool) {
	if errors.Is(err, context.Canceled) {
		return false, true
	}
	return true, false
}

// killProcessGroupNow sends SIGKILL to the subprocess's entire process group
// immediately, so grandchildren spawned by the analyzer are reaped too. Used
// when our own job timeout elapses (spec.md §4.5: "enforced by killing the
// process group").
func killProcessGroupNow(cmd *exec.Cmd, done <-chan error) error {
	signalProcessGroup(cmd, syscall.SIGKILL)
	return <-done
}

// killProcessGroupGraceful sends SIGTERM and waits up to grace for the
// process to exit before escalating to SIGKILL (spec.md §4.4: "send it a
// termination signal and await a grace period... before forceful kill").
// grace <= 0 kills immediately, matching killProcessGroupNow.
func killProcessGroupGraceful(cmd *exec.Cmd, done <-chan error, grace time.Duration) error {
	if grace <= 0 {
		return killProcessGroupNow(cmd, done)
	}
	signalProcessGroup(cmd, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		signalProcessGroup(cmd, syscall.SIGKILL)
		return <-done
	}
}

// signalProcessGroup sends sig to the subprocess's entire process group,
// falling back to signalling just the process if the group lookup fails.
func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Signal(sig)
		return
	}
	_ = syscall.Kill(-pgid, sig)
}

// validateOutput parses stdout as JSON and validates it against the Node
// schema. On hard failure it attempts partial salvage: whatever
// sub-objects do parse are kept, needsReview is set, and the result
// proceeds rather than failing outright (spec.md §4.5).
func validateOutput(raw []byte) Result {
	var node store.Node
	if err := json.Unmarshal(raw, &node); err == nil && validNode(node) {
		return Result{Node: node}
	}

	salvaged, ok := salvagePartial(raw)
	if !ok {
		return Result{
			Err:            fmt.Errorf("analyzer output failed schema validation and nothing was salvageable"),
			Classification: Classification{Category: store.ErrorPermanent, MaxRetries: 0},
		}
	}
	salvaged.Metadata.DaemonMeta.NeedsReview = true
	return Result{Node: salvaged, PartiallySalvaged: true}
}

// validNode reports whether the decoded node carries the minimum fields a
// usable analysis must have: a summary and a classification type.
func validNode(n store.Node) bool {
	return n.Content.Summary != "" && n.Classification.Type != ""
}

// salvagePartial attempts to decode whatever top-level fields are present
// even if the document as a whole didn't fully validate, e.g. a
// classification block with an empty content block.
func salvagePartial(raw []byte) (store.Node, bool) {
	var loose map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		return store.Node{}, false
	}

	var node store.Node
	any := false
	if v, ok := loose["classification"]; ok {
		if json.Unmarshal(v, &node.Classification) == nil {
			any = true
		}
	}
	if v, ok := loose["content"]; ok {
		if json.Unmarshal(v, &node.Content) == nil {
			any = true
		}
	}
	if v, ok := loose["lessons"]; ok {
		if json.Unmarshal(v, &node.Lessons) == nil {
			any = true
		}
	}
	if v, ok := loose["semantic"]; ok {
		if json.Unmarshal(v, &node.Semantic) == nil {
			any = true
		}
	}
	if v, ok := loose["friction"]; ok {
		if json.Unmarshal(v, &node.Friction) == nil {
			any = true
		}
	}
	if node.Content.Summary == "" {
		node.Content.Summary = "(unvalidated analyzer output, see daemon_meta.needsReview)"
	}
	return node, any
}
