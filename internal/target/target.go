// Package target defines the unit of work for a patch batch: one agent
// source file plus the identifying parameters fed to the fragment generator.
package target

import (
	"fmt"
	"path/filepath"
)

// Target identifies one file to patch.
//
// Path and BuildScope may be relative; callers resolve them against the
// workspace root with Resolve before handing targets to the pipeline.
type Target struct {
	// ID uniquely identifies the target within a batch (e.g., "cto").
	ID string `json:"id"`

	// Role is the agent role atom injected into the dispatch and helper
	// fragments (e.g., "cto" for `:cto`).
	Role string `json:"role"`

	// Path is the source file to patch.
	Path string `json:"path"`

	// BuildScope is the directory the verifier runs in (the agent's app dir).
	BuildScope string `json:"build_scope"`

	// Params carries optional extra template parameters.
	Params map[string]string `json:"params,omitempty"`
}

// Resolve returns a copy with Path and BuildScope joined onto root.
// Absolute paths are left untouched.
func (t Target) Resolve(root string) Target {
	if !filepath.IsAbs(t.Path) {
		t.Path = filepath.Join(root, t.Path)
	}
	if !filepath.IsAbs(t.BuildScope) {
		t.BuildScope = filepath.Join(root, t.BuildScope)
	}
	return t
}

// ValidationError reports a malformed target in a batch.
type ValidationError struct {
	TargetID string // offending target, empty for batch-level problems
	Field    string // "id", "role", "path", "buildScope"
	Message  string
}

func (e *ValidationError) Error() string {
	if e.TargetID != "" {
		return fmt.Sprintf("target %s: %s: %s", e.TargetID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateBatch rejects a batch before any processing begins.
//
// Each target must carry a non-empty id, role, path and buildScope, and no
// two targets may reference the same file path: every target owns its file
// exclusively for the duration of its pipeline run, so a duplicate path is a
// configuration error, not a runtime condition.
func ValidateBatch(targets []Target) error {
	seenID := make(map[string]bool, len(targets))
	seenPath := make(map[string]string, len(targets))

	for _, t := range targets {
		if t.ID == "" {
			return &ValidationError{Field: "id", Message: "target id must not be empty"}
		}
		if seenID[t.ID] {
			return &ValidationError{TargetID: t.ID, Field: "id", Message: "duplicate target id"}
		}
		seenID[t.ID] = true

		if t.Role == "" {
			return &ValidationError{TargetID: t.ID, Field: "role", Message: "role must not be empty"}
		}
		if t.Path == "" {
			return &ValidationError{TargetID: t.ID, Field: "path", Message: "path must not be empty"}
		}
		if t.BuildScope == "" {
			return &ValidationError{TargetID: t.ID, Field: "buildScope", Message: "buildScope must not be empty"}
		}

		clean := filepath.Clean(t.Path)
		if other, dup := seenPath[clean]; dup {
			return &ValidationError{
				TargetID: t.ID,
				Field:    "path",
				Message:  fmt.Sprintf("path %s already claimed by target %s", t.Path, other),
			}
		}
		seenPath[clean] = t.ID
	}

	return nil
}
