package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertGolden pins the patched file content against the golden file
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files are the source of truth for the exact patched text: fragment
// indentation, the continuation comma, blank-line glue and the normalized
// module tail are all byte-compared, so an applier regression that still
// compiles cannot slip through.
func AssertGolden(t *testing.T, name string, content string) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(content))
}
