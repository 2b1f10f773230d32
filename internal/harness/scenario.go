package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/echotools/retrofit/internal/patch"
)

// Scenario defines one conformance scenario: a fixture file, the target
// parameters to patch it with, a canned build verdict, and the expected
// terminal state.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the golden
	// file name when Expect.Golden is set.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixture is the source file to stage, relative to testdata/fixtures.
	Fixture string `yaml:"fixture"`

	// Target carries the identifying parameters fed to the fragment
	// generator.
	Target TargetSpec `yaml:"target"`

	// Verifier is the canned build verdict returned instead of running a
	// real build command.
	Verifier VerifierStub `yaml:"verifier"`

	// Expect is the asserted terminal state.
	Expect ExpectClause `yaml:"expect"`
}

// TargetSpec mirrors the fields of a target table entry that matter to the
// fragment generator.
type TargetSpec struct {
	ID     string            `yaml:"id"`
	Role   string            `yaml:"role"`
	Params map[string]string `yaml:"params,omitempty"`
}

// VerifierStub configures the stub build verdict. The stub honors the full
// verifier contract: success requires exit code zero AND Marker in stdout,
// so a scenario can express a build that exits clean without compiling
// anything.
type VerifierStub struct {
	ExitCode int    `yaml:"exit_code"`
	Stdout   string `yaml:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty"`

	// Marker is the positive-evidence substring; empty means "Generated",
	// matching mix compile.
	Marker string `yaml:"marker,omitempty"`
}

// ExpectClause is the asserted terminal state of the run.
type ExpectClause struct {
	// Status is the expected outcome status: success, skipped or failed.
	Status string `yaml:"status"`

	// Code is the expected error code for failed outcomes.
	Code string `yaml:"code,omitempty"`

	// Restored asserts that the staged file is byte-identical to the
	// fixture after the run.
	Restored bool `yaml:"restored,omitempty"`

	// Golden asserts the patched content against testdata/golden/{name}.golden.
	// Only valid for success outcomes.
	Golden bool `yaml:"golden,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo like "expects:" fails loudly instead of silently
// weakening the scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// ScenarioPaths lists the scenario YAML files under dir in name order.
func ScenarioPaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and coherent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Fixture == "" {
		return fmt.Errorf("fixture is required")
	}
	if s.Target.ID == "" {
		return fmt.Errorf("target.id is required")
	}
	if s.Target.Role == "" {
		return fmt.Errorf("target.role is required")
	}

	switch patch.Status(s.Expect.Status) {
	case patch.StatusSuccess, patch.StatusSkipped, patch.StatusFailed:
	default:
		return fmt.Errorf("expect.status must be success, skipped or failed, got %q", s.Expect.Status)
	}

	if s.Expect.Status == string(patch.StatusFailed) && s.Expect.Code == "" {
		return fmt.Errorf("expect.code is required for failed outcomes")
	}
	if s.Expect.Code != "" && s.Expect.Status != string(patch.StatusFailed) {
		return fmt.Errorf("expect.code is only valid for failed outcomes")
	}
	if s.Expect.Golden && s.Expect.Status != string(patch.StatusSuccess) {
		return fmt.Errorf("expect.golden is only valid for success outcomes")
	}
	if s.Expect.Restored && s.Expect.Status == string(patch.StatusSuccess) {
		return fmt.Errorf("expect.restored contradicts a success outcome")
	}

	return nil
}
