package patch

import (
	"fmt"
	"strings"
)

// Apply inserts the three fragments into content at the given anchors and
// returns the new content. The input is never modified on disk here; callers
// write the result only after Apply succeeds.
//
// All three insertions are computed against the original content, not
// against previously-mutated text, so offsets never compound. The anchors
// were verified unique by Locate; Apply re-checks that the offsets are
// in-bounds, strictly ordered and disjoint rather than silently producing a
// misassembled file.
//
// Insertion order (by offset):
//  1. schema fragment after the last tools entry, with a continuation comma
//  2. dispatch fragment before the catch-all handler (first match wins)
//  3. helper fragment before the final module end
//
// Trailing whitespace after the module end is normalized to a single newline.
func Apply(content string, anchors AnchorSet, fragments Fragments) (string, error) {
	if err := checkSpans(content, anchors); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(content) + len(fragments.Schema) + len(fragments.Dispatch) + len(fragments.Helper) + 16)

	b.WriteString(content[:anchors.ListEnd])
	b.WriteString(",\n")
	b.WriteString(fragments.Schema)

	b.WriteString(content[anchors.ListEnd:anchors.Dispatch])
	b.WriteString("\n\n")
	b.WriteString(fragments.Dispatch)

	b.WriteString(content[anchors.Dispatch:anchors.ModuleEnd])
	b.WriteString("\n")
	b.WriteString(fragments.Helper)
	b.WriteString("\nend\n")

	return b.String(), nil
}

// checkSpans validates the anchor offsets against the content they were
// located in.
func checkSpans(content string, anchors AnchorSet) error {
	if anchors.ListEnd <= 0 || anchors.ModuleEnd+len("end") > len(content) {
		return &PipelineError{
			Code:    ErrCodeApplyFailed,
			Message: fmt.Sprintf("anchor offsets out of bounds for %d-byte content", len(content)),
		}
	}
	if !(anchors.ListEnd < anchors.Dispatch && anchors.Dispatch < anchors.ModuleEnd) {
		return &PipelineError{
			Code: ErrCodeApplyFailed,
			Message: fmt.Sprintf("anchor offsets not strictly ordered: list_end=%d catch_all=%d module_end=%d",
				anchors.ListEnd, anchors.Dispatch, anchors.ModuleEnd),
		}
	}
	if !strings.HasPrefix(content[anchors.ModuleEnd:], "end") {
		return &PipelineError{
			Code:    ErrCodeApplyFailed,
			Anchor:  AnchorModuleEnd,
			Message: "module end offset does not point at an end keyword",
		}
	}
	return nil
}
