// Package harness provides a conformance harness for the patch pipeline.
//
// Scenarios are YAML files (testdata/scenarios) pairing a fixture agent
// module with a canned build verdict and an expected terminal state. The
// harness stages the fixture in a throwaway workspace, runs the real
// pipeline against it with a stub verifier, and checks the outcome, the
// final file bytes and the snapshot disposition. Success scenarios can
// additionally pin the exact patched content with a golden file.
//
// The pipeline under test is the production one end to end; only the build
// command is stubbed, because scenario files cannot carry a working Elixir
// toolchain. The stub honors the same contract as a real build: exit code
// plus captured output, success proven by exit zero and the marker in
// stdout.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/echotools/retrofit/internal/backup"
	"github.com/echotools/retrofit/internal/patch"
	"github.com/echotools/retrofit/internal/target"
	"github.com/echotools/retrofit/internal/verify"
)

// StubVerifier returns a canned build verdict without running anything.
// Success follows the same positive-evidence rule as a real build: exit
// code zero alone is not proof, the marker must appear in stdout.
type StubVerifier struct {
	Stub VerifierStub
}

// Verify implements verify.Verifier.
func (s *StubVerifier) Verify(_ context.Context, _ string) (verify.Result, error) {
	marker := s.Stub.Marker
	if marker == "" {
		marker = "Generated"
	}
	return verify.Result{
		OK:       s.Stub.ExitCode == 0 && strings.Contains(s.Stub.Stdout, marker),
		ExitCode: s.Stub.ExitCode,
		Stdout:   s.Stub.Stdout,
		Stderr:   s.Stub.Stderr,
	}, nil
}

// Result is the observed terminal state of one scenario run.
type Result struct {
	// Outcome is the pipeline's verdict for the staged target.
	Outcome patch.Outcome

	// Original is the fixture content as staged before the run.
	Original string

	// Final is the staged file's content after the run.
	Final string

	// BackupLeft reports whether a snapshot file remained after the run.
	BackupLeft bool
}

// Run stages the scenario's fixture in workDir and executes the pipeline
// against it. fixtureDir is where fixture files live; workDir must be empty
// and writable (tests pass t.TempDir()).
func Run(scenario *Scenario, fixtureDir, workDir string) (*Result, error) {
	fixture, err := os.ReadFile(filepath.Join(fixtureDir, scenario.Fixture))
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	staged := filepath.Join(workDir, "lib", scenario.Target.ID+".ex")
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		return nil, fmt.Errorf("failed to stage workspace: %w", err)
	}
	if err := os.WriteFile(staged, fixture, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage fixture: %w", err)
	}

	tgt := target.Target{
		ID:         scenario.Target.ID,
		Role:       scenario.Target.Role,
		Path:       staged,
		BuildScope: workDir,
		Params:     scenario.Target.Params,
	}

	pipeline := &patch.Pipeline{
		Backups:  &backup.Manager{},
		Verifier: &StubVerifier{Stub: scenario.Verifier},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	outcome, err := pipeline.Run(context.Background(), tgt)
	if err != nil {
		return nil, fmt.Errorf("pipeline halted: %w", err)
	}

	final, err := os.ReadFile(staged)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged file after run: %w", err)
	}

	_, statErr := os.Stat(staged + backup.Suffix)

	return &Result{
		Outcome:    outcome,
		Original:   string(fixture),
		Final:      string(final),
		BackupLeft: statErr == nil,
	}, nil
}

// Check compares a result against the scenario's expect clause and returns
// one message per divergence. An empty slice means the scenario passed.
// Golden comparison is not covered here; it needs a testing.T (see
// AssertGolden).
func Check(scenario *Scenario, result *Result) []string {
	var errs []string

	if got := string(result.Outcome.Status); got != scenario.Expect.Status {
		errs = append(errs, fmt.Sprintf("status: expected %s, got %s (diagnostic: %s)",
			scenario.Expect.Status, got, result.Outcome.Diagnostic))
	}
	if scenario.Expect.Code != "" {
		if got := string(result.Outcome.Code); got != scenario.Expect.Code {
			errs = append(errs, fmt.Sprintf("code: expected %s, got %s", scenario.Expect.Code, got))
		}
	}

	// Anything short of a verified patch must leave the file untouched.
	mustMatch := scenario.Expect.Restored || scenario.Expect.Status != string(patch.StatusSuccess)
	if mustMatch && result.Final != result.Original {
		errs = append(errs, "file content diverged from the fixture after a non-success run")
	}
	if scenario.Expect.Status == string(patch.StatusSuccess) && result.Final == result.Original {
		errs = append(errs, "file content unchanged after a success run")
	}

	if result.BackupLeft {
		errs = append(errs, "snapshot file remained after the run")
	}

	return errs
}
