package patch

import "strings"

// marker proves the session_consult patch is already present. The quoted form
// matches both the schema entry (`name: "session_consult"`) and the dispatch
// clause (`def execute_tool("session_consult", ...)`), so its presence means
// the insertions exist and re-applying would duplicate dispatch clauses and
// conflict on the helper definition.
const marker = `"session_consult"`

// AlreadyPatched reports whether content carries the patch marker.
//
// Checked before any mutation: a true result short-circuits the pipeline to a
// skipped outcome with no backup created.
func AlreadyPatched(content string) bool {
	return strings.Contains(content, marker)
}
