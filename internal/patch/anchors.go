package patch

import (
	"fmt"
	"regexp"
	"strings"
)

// Anchor names used in error reporting.
const (
	AnchorListEnd   = "list_end"
	AnchorDispatch  = "catch_all_handler"
	AnchorModuleEnd = "module_end"
)

// listEndPattern matches the end of the tools list: the closing brace of the
// last tool entry, the list's closing bracket, the end of the tools function,
// and the start of the execute_tool section. Matching the whole sequence
// rather than a line number keeps the locator robust to unrelated edits and
// makes it fail loudly when the expected structure is missing.
//
// Capture group 1 is the whitespace plus closing brace of the last entry; the
// schema fragment is inserted immediately after it.
var listEndPattern = regexp.MustCompile(`(\s+})\s+\]\s+end\s+@impl true\s+def execute_tool`)

// dispatchPattern matches the generic fallback clause of execute_tool,
// including the preceding whitespace. The dispatch fragment is inserted at
// the start of the match so the new specific clause is tried first: clause
// dispatch is top-to-bottom, first match wins, so ordering is a correctness
// requirement.
var dispatchPattern = regexp.MustCompile(`\s+def execute_tool\(name, _args\) do`)

// AnchorSet holds the three insertion offsets, all relative to the original
// content. ListEnd < Dispatch < ModuleEnd always holds for a valid set.
type AnchorSet struct {
	// ListEnd is the offset just after the closing brace of the last tools
	// entry; the schema fragment (with its continuation comma) goes here.
	ListEnd int

	// Dispatch is the offset of the whitespace preceding the catch-all
	// execute_tool clause; the dispatch fragment goes here.
	Dispatch int

	// ModuleEnd is the offset of the final `end` keyword closing the module
	// (trailing whitespace ignored); the helper fragment goes before it.
	ModuleEnd int
}

// Locate finds the three structural insertion points in content.
//
// Each anchor must match exactly once. A missing anchor yields
// ErrCodeAnchorNotFound; more than one match yields ErrCodeAnchorAmbiguous.
// Ambiguity is a hard failure, never resolved by picking the first or last
// occurrence.
func Locate(content string) (AnchorSet, error) {
	var set AnchorSet

	listMatches := listEndPattern.FindAllStringSubmatchIndex(content, -1)
	switch len(listMatches) {
	case 0:
		return set, &PipelineError{
			Code:    ErrCodeAnchorNotFound,
			Anchor:  AnchorListEnd,
			Message: "could not find tools list end",
		}
	case 1:
		// End of capture group 1: just past the last entry's closing brace.
		set.ListEnd = listMatches[0][3]
	default:
		return set, &PipelineError{
			Code:    ErrCodeAnchorAmbiguous,
			Anchor:  AnchorListEnd,
			Message: fmt.Sprintf("tools list end pattern matched %d times", len(listMatches)),
		}
	}

	dispatchMatches := dispatchPattern.FindAllStringIndex(content, -1)
	switch len(dispatchMatches) {
	case 0:
		return set, &PipelineError{
			Code:    ErrCodeAnchorNotFound,
			Anchor:  AnchorDispatch,
			Message: "could not find catch-all execute_tool handler",
		}
	case 1:
		set.Dispatch = dispatchMatches[0][0]
	default:
		return set, &PipelineError{
			Code:    ErrCodeAnchorAmbiguous,
			Anchor:  AnchorDispatch,
			Message: fmt.Sprintf("catch-all handler pattern matched %d times", len(dispatchMatches)),
		}
	}

	trimmed := strings.TrimRight(content, " \t\r\n")
	if !strings.HasSuffix(trimmed, "\nend") {
		return set, &PipelineError{
			Code:    ErrCodeAnchorNotFound,
			Anchor:  AnchorModuleEnd,
			Message: "file does not end with a module-closing end",
		}
	}
	set.ModuleEnd = len(trimmed) - len("end")

	return set, nil
}
