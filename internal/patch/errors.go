package patch

import (
	"errors"
	"fmt"
)

// PipelineError represents a failure detected during a single target's
// patch pipeline run.
//
// Pipeline errors include:
//   - Anchor problems: a structural marker is absent or matches more than once
//   - Backup conflicts: a live snapshot already exists for the file
//   - Write failures: the mutated content could not be persisted
//   - Verification failures: the build did not prove the patch compiles
//
// Every code except ErrCodeRestoreFailed is contained at the per-target
// boundary and converted to a failed Outcome. ErrCodeRestoreFailed means a
// file may be left in a broken intermediate state; it propagates and halts
// the batch.
type PipelineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Anchor identifies the structural marker (for anchor errors).
	Anchor string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeTargetNotFound indicates the target file does not exist.
	ErrCodeTargetNotFound ErrorCode = "TARGET_NOT_FOUND"

	// ErrCodeAnchorNotFound indicates a structural marker is absent.
	ErrCodeAnchorNotFound ErrorCode = "ANCHOR_NOT_FOUND"

	// ErrCodeAnchorAmbiguous indicates a structural marker matches more
	// than once. Ambiguity is never resolved by picking an occurrence: a
	// wrong insertion point can produce a file that compiles but dispatches
	// incorrectly.
	ErrCodeAnchorAmbiguous ErrorCode = "ANCHOR_AMBIGUOUS"

	// ErrCodeApplyFailed indicates the applier's defensive re-check of the
	// insertion spans failed.
	ErrCodeApplyFailed ErrorCode = "APPLY_FAILED"

	// ErrCodeBackupConflict indicates a snapshot already exists for the
	// target path, i.e. an earlier run left the file in an unverified
	// mutated state. Requires manual intervention; the file is not touched.
	ErrCodeBackupConflict ErrorCode = "BACKUP_CONFLICT"

	// ErrCodeWriteFailed indicates the mutated content could not be written.
	ErrCodeWriteFailed ErrorCode = "WRITE_FAILED"

	// ErrCodeVerifyFailed indicates the build did not prove success.
	ErrCodeVerifyFailed ErrorCode = "VERIFY_FAILED"

	// ErrCodeBackupStale indicates verification succeeded but the snapshot
	// could not be deleted. The patched file is valid; the leftover snapshot
	// must be removed by hand before the target can be patched again.
	ErrCodeBackupStale ErrorCode = "BACKUP_STALE"

	// ErrCodeRestoreFailed indicates restoring the original bytes failed.
	// This is the one unrecoverable condition: it halts the batch.
	ErrCodeRestoreFailed ErrorCode = "RESTORE_FAILED"
)

func (e *PipelineError) Error() string {
	if e.Anchor != "" {
		return fmt.Sprintf("%s: %s (anchor: %s)", e.Code, e.Message, e.Anchor)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the pipeline error code from err, or empty if err is not a
// PipelineError.
func CodeOf(err error) ErrorCode {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}
