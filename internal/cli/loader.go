package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/echotools/retrofit/internal/target"
)

// LoadMode selects the error policy for target loading.
type LoadMode int

const (
	// LoadModeFailFast returns at the first malformed target.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll keeps going and reports every problem at once.
	LoadModeCollectAll
)

// LoadResult is a loaded target table.
type LoadResult struct {
	Targets   []target.Target
	FileCount int // .cue files found under the targets directory
}

// LoadError is a target-table problem with a stable code and, when the CUE
// evaluator provides one, a source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadTargets reads the target table from the CUE package in dir.
//
// The table has the shape:
//
//	target: <id>: {
//		role:       "cto"
//		path:       "apps/cto/lib/cto.ex"
//		buildScope: "apps/cto"
//		params?: {agent: "cto"}
//	}
//
// Targets come back sorted by id so batch order is stable across runs and
// machines. Structural problems (missing directory, nothing to load, CUE
// evaluation failure) are always terminal; per-target extraction errors
// follow mode.
func LoadTargets(dir string, mode LoadMode) (*LoadResult, []error) {
	value, fileCount, lerr := evalTargetsPackage(dir)
	if lerr != nil {
		return nil, []error{lerr}
	}

	result := &LoadResult{FileCount: fileCount}
	var errs []error

	table := value.LookupPath(cue.ParsePath("target"))
	if !table.Exists() {
		return result, append(errs, &LoadError{Code: ErrCodeNoTargets, Message: "no target table found in config"})
	}

	iter, iterErr := table.Fields()
	if iterErr != nil {
		return result, append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating targets: %v", iterErr)})
	}

	for iter.Next() {
		t, extractErrs := extractTarget(iter.Label(), iter.Value())
		if len(extractErrs) > 0 {
			errs = append(errs, extractErrs...)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Targets = append(result.Targets, t)
	}

	if len(result.Targets) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoTargets, Message: "target table is empty"})
	}

	sort.Slice(result.Targets, func(i, j int) bool {
		return result.Targets[i].ID < result.Targets[j].ID
	})

	return result, errs
}

// evalTargetsPackage loads and evaluates the CUE package in dir, returning
// the unified value and the number of .cue files it came from.
func evalTargetsPackage(dir string) (cue.Value, int, *LoadError) {
	var none cue.Value

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return none, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("targets directory not found: %s", dir)}
	case err != nil:
		return none, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing targets directory: %v", err)}
	case !info.IsDir():
		return none, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return none, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return none, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return none, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if instances[0].Err != nil {
		return none, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", instances[0].Err)}
	}

	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return none, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	return value, len(cueFiles), nil
}

// extractTarget pulls one target out of its CUE value.
func extractTarget(id string, v cue.Value) (target.Target, []error) {
	var errs []error
	t := target.Target{ID: id}

	t.Role = extractString(v, "role", ErrCodeTargetRole, id, &errs)
	t.Path = extractString(v, "path", ErrCodeTargetPath, id, &errs)
	t.BuildScope = extractString(v, "buildScope", ErrCodeTargetScope, id, &errs)

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		iter, err := paramsVal.Fields()
		if err != nil {
			errs = append(errs, &LoadError{
				Code:    ErrCodeTargetParams,
				Message: fmt.Sprintf("target %s: params must be a struct: %v", id, err),
				Pos:     paramsVal.Pos(),
			})
		} else {
			t.Params = map[string]string{}
			for iter.Next() {
				s, err := iter.Value().String()
				if err != nil {
					errs = append(errs, &LoadError{
						Code:    ErrCodeTargetParams,
						Message: fmt.Sprintf("target %s: param %s must be a string: %v", id, iter.Label(), err),
						Pos:     iter.Value().Pos(),
					})
					continue
				}
				t.Params[iter.Label()] = s
			}
		}
	}

	return t, errs
}

func extractString(v cue.Value, field, code, targetID string, errs *[]error) string {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		*errs = append(*errs, &LoadError{
			Code:    code,
			Message: fmt.Sprintf("target %s: missing %s", targetID, field),
			Pos:     v.Pos(),
		})
		return ""
	}

	s, err := fieldVal.String()
	if err != nil || s == "" {
		*errs = append(*errs, &LoadError{
			Code:    code,
			Message: fmt.Sprintf("target %s: %s must be a non-empty string", targetID, field),
			Pos:     fieldVal.Pos(),
		})
		return ""
	}

	return s
}

// findCUEFiles returns every .cue file under dir.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Error codes shared by all commands.
const (
	ErrCodeGeneric     = "E001" // unclassified error
	ErrCodeScanError   = "E002" // targets directory scan failed
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE evaluation failed
	ErrCodeNoTargets   = "E007" // target table missing or empty
	ErrCodeBatch       = "E008" // batch rejected before processing
	ErrCodeJournal     = "E009" // journal open/read/write error
	ErrCodeHalted      = "E010" // batch halted by a failed restore

	// Target extraction errors.
	ErrCodeTargetRole   = "E101" // missing or invalid role
	ErrCodeTargetPath   = "E102" // missing or invalid path
	ErrCodeTargetScope  = "E103" // missing or invalid buildScope
	ErrCodeTargetParams = "E104" // invalid params
)
