// Package patch implements the patch-apply-verify-rollback engine: locating
// the three structural anchors in an agent source file, inserting the
// session_consult fragments, verifying with the external build, and
// guaranteeing the file ends up either fully patched-and-verified or
// byte-identical to its pre-patch state.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/echotools/retrofit/internal/backup"
	"github.com/echotools/retrofit/internal/target"
	"github.com/echotools/retrofit/internal/verify"
)

// Status is the terminal state of one target's pipeline run.
type Status string

const (
	// StatusSkipped means the marker was already present; nothing changed.
	StatusSkipped Status = "skipped"

	// StatusSuccess means all three fragments were inserted and the build
	// proved the result compiles. For Probe it means the file is patchable.
	StatusSuccess Status = "success"

	// StatusFailed means the target could not be patched; the file on disk
	// is byte-identical to its pre-run state.
	StatusFailed Status = "failed"
)

// Outcome is the result of one target's pipeline run, produced exactly once
// per target.
type Outcome struct {
	TargetID string `json:"target_id"`
	Status   Status `json:"status"`

	// Code is the pipeline error code for failed outcomes.
	Code ErrorCode `json:"code,omitempty"`

	// Diagnostic carries a human-readable failure description, truncated
	// build output included for verification failures.
	Diagnostic string `json:"diagnostic,omitempty"`

	// BeforeSum and AfterSum are NFC-normalized content fingerprints of the
	// file before and after the run. Equal unless the run succeeded.
	BeforeSum string `json:"before_sum,omitempty"`
	AfterSum  string `json:"after_sum,omitempty"`
}

// diagnosticLimit caps build-tool output embedded in a diagnostic so a noisy
// compiler does not flood the summary.
const diagnosticLimit = 200

// Pipeline runs the per-target state machine:
//
//	NotStarted → Skipped
//	NotStarted → AnchorsLocated → BackedUp → Written → Verifying →
//	    VerifiedSuccess (backup released) | VerifiedFailure (backup restored)
//
// Any failure between BackedUp and a verified outcome forces a restore;
// there is no path that leaves the file mutated without the backup being
// released. Processing is strictly sequential; a Pipeline is not safe for
// concurrent use on the same target file.
type Pipeline struct {
	Backups  *backup.Manager
	Verifier verify.Verifier
	Logger   *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Run executes the full pipeline for one target.
//
// All failures are contained in the returned Outcome except a failed
// restore, which is returned as an error: a file may be left in a broken
// intermediate state, and the caller must halt the batch rather than risk
// compounding damage.
func (p *Pipeline) Run(ctx context.Context, t target.Target) (Outcome, error) {
	log := p.logger().With("target", t.ID)

	content, outcome, ok := p.load(t)
	if !ok {
		return outcome, nil
	}
	outcome.AfterSum = outcome.BeforeSum

	if AlreadyPatched(content) {
		log.Debug("marker present, skipping")
		outcome.Status = StatusSkipped
		return outcome, nil
	}

	anchors, err := Locate(content)
	if err != nil {
		log.Debug("anchor location failed", "error", err)
		return failed(outcome, err), nil
	}

	fragments, err := Generate(t)
	if err != nil {
		return failed(outcome, &PipelineError{Code: ErrCodeApplyFailed, Message: err.Error()}), nil
	}

	mutated, err := Apply(content, anchors, fragments)
	if err != nil {
		return failed(outcome, err), nil
	}

	// Nothing has touched the disk up to this point.
	handle, err := p.Backups.Acquire(t.Path)
	if err != nil {
		code := ErrCodeWriteFailed
		if errors.Is(err, backup.ErrConflict) {
			code = ErrCodeBackupConflict
		}
		return failed(outcome, &PipelineError{Code: code, Message: err.Error()}), nil
	}

	if err := os.WriteFile(t.Path, []byte(mutated), 0o644); err != nil {
		if rerr := handle.Restore(); rerr != nil {
			return outcome, restoreFailure(outcome.TargetID, rerr)
		}
		return failed(outcome, &PipelineError{Code: ErrCodeWriteFailed, Message: err.Error()}), nil
	}
	log.Debug("patched content written", "path", t.Path)

	res, err := p.Verifier.Verify(ctx, t.BuildScope)
	if err != nil || !res.OK {
		if rerr := handle.Restore(); rerr != nil {
			return outcome, restoreFailure(outcome.TargetID, rerr)
		}
		diag := verifyDiagnostic(res, err)
		log.Debug("verification failed, restored original", "exit_code", res.ExitCode)
		return failed(outcome, &PipelineError{Code: ErrCodeVerifyFailed, Message: diag}), nil
	}

	if err := handle.Release(); err != nil {
		// The patched file is verified and valid, but the stale snapshot
		// will block future runs until removed by hand. The file keeps the
		// patched content, so the after-fingerprint must reflect it.
		outcome = failed(outcome, &PipelineError{Code: ErrCodeBackupStale, Message: err.Error()})
		outcome.AfterSum = Fingerprint(mutated)
		return outcome, nil
	}

	log.Info("patched and verified", "path", t.Path)
	outcome.Status = StatusSuccess
	outcome.AfterSum = Fingerprint(mutated)
	return outcome, nil
}

// Probe runs the read-only prefix of the pipeline: load, idempotency check,
// anchor location. No backup, no write, no verifier. A success outcome means
// the file is ready to patch.
func (p *Pipeline) Probe(t target.Target) Outcome {
	content, outcome, ok := p.load(t)
	if !ok {
		return outcome
	}
	outcome.AfterSum = outcome.BeforeSum

	if AlreadyPatched(content) {
		outcome.Status = StatusSkipped
		return outcome
	}

	if _, err := Locate(content); err != nil {
		return failed(outcome, err)
	}

	outcome.Status = StatusSuccess
	outcome.Diagnostic = "anchors located, ready to patch"
	return outcome
}

// load reads the target file and seeds the outcome. ok is false when the
// outcome is already terminal.
func (p *Pipeline) load(t target.Target) (string, Outcome, bool) {
	outcome := Outcome{TargetID: t.ID}

	data, err := os.ReadFile(t.Path)
	if err != nil {
		code := ErrCodeWriteFailed
		if os.IsNotExist(err) {
			code = ErrCodeTargetNotFound
		}
		return "", failed(outcome, &PipelineError{Code: code, Message: err.Error()}), false
	}

	content := string(data)
	outcome.BeforeSum = Fingerprint(content)
	return content, outcome, true
}

func failed(outcome Outcome, err error) Outcome {
	outcome.Status = StatusFailed
	outcome.Code = CodeOf(err)
	outcome.Diagnostic = err.Error()
	return outcome
}

func restoreFailure(targetID string, err error) error {
	return &PipelineError{
		Code:    ErrCodeRestoreFailed,
		Message: fmt.Sprintf("target %s: %v", targetID, err),
	}
}

// verifyDiagnostic condenses a build result into a bounded diagnostic.
func verifyDiagnostic(res verify.Result, err error) string {
	if err != nil {
		return fmt.Sprintf("build invocation failed: %v", err)
	}
	evidence := res.Stderr
	if evidence == "" {
		evidence = res.Stdout
	}
	return fmt.Sprintf("build did not prove success (exit %d): %s", res.ExitCode, truncate(evidence, diagnosticLimit))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
