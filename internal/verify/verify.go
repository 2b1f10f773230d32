// Package verify invokes the external build command that proves a patch is
// valid. The build tool is a black box: the contract is exit code plus
// stdout/stderr text, nothing else.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Result captures one build invocation.
type Result struct {
	// OK is true iff the exit code was zero AND stdout carried the
	// positive-evidence marker.
	OK bool `json:"ok"`

	// ExitCode is the build command's exit status.
	ExitCode int `json:"exit_code"`

	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Verifier proves that a freshly patched file compiles.
type Verifier interface {
	// Verify runs the build scoped to dir and reports the evidence found.
	// The error return is reserved for invocation problems (command not
	// found, context cancelled); a failing build is OK=false, not an error.
	Verify(ctx context.Context, dir string) (Result, error)
}

// Runner runs a real external build command.
//
// Success requires both a zero exit code and SuccessMarker in stdout. A
// build tool exits zero on a no-op, so absence of errors is not proof that
// the newly inserted code was compiled; the marker is.
type Runner struct {
	// Command is the argv of the build command, e.g. ["mix", "compile"].
	Command []string

	// SuccessMarker is the substring stdout must contain, e.g. "Generated".
	SuccessMarker string
}

// MixCompile returns the Runner for Elixir agent apps: `mix compile` in the
// app directory, compiled output proven by "Generated" in stdout.
func MixCompile() *Runner {
	return &Runner{
		Command:       []string{"mix", "compile"},
		SuccessMarker: "Generated",
	}
}

// Verify implements Verifier.
func (r *Runner) Verify(ctx context.Context, dir string) (Result, error) {
	if len(r.Command) == 0 {
		return Result{}, errors.New("verify: empty command")
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		// Cancellation and timeouts are invocation problems, not build
		// verdicts, even though the killed process reports an exit error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("verify %v in %s: %w", r.Command, dir, ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Command never ran (e.g. binary not found).
			return res, fmt.Errorf("verify %v in %s: %w", r.Command, dir, err)
		}
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.OK = containsMarker(res.Stdout, r.SuccessMarker)
	return res, nil
}

func containsMarker(stdout, marker string) bool {
	if marker == "" {
		return true
	}
	return bytes.Contains([]byte(stdout), []byte(marker))
}
