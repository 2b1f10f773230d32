package target

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTargets() []Target {
	return []Target{
		{ID: "cto", Role: "cto", Path: "apps/cto/lib/cto.ex", BuildScope: "apps/cto"},
		{ID: "chro", Role: "chro", Path: "apps/chro/lib/chro.ex", BuildScope: "apps/chro"},
	}
}

func TestValidateBatchAccepts(t *testing.T) {
	require.NoError(t, ValidateBatch(validTargets()))
}

func TestValidateBatchEmptyFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Target)
		field  string
	}{
		{"missing id", func(tg *Target) { tg.ID = "" }, "id"},
		{"missing role", func(tg *Target) { tg.Role = "" }, "role"},
		{"missing path", func(tg *Target) { tg.Path = "" }, "path"},
		{"missing buildScope", func(tg *Target) { tg.BuildScope = "" }, "buildScope"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			targets := validTargets()
			tc.mutate(&targets[0])

			err := ValidateBatch(targets)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateBatchDuplicatePath(t *testing.T) {
	targets := validTargets()
	targets[1].Path = targets[0].Path

	err := ValidateBatch(targets)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "path", verr.Field)
	assert.Equal(t, "chro", verr.TargetID)
}

func TestValidateBatchDuplicatePathAfterClean(t *testing.T) {
	// Equivalent paths spelled differently still collide.
	targets := validTargets()
	targets[1].Path = "apps/cto/./lib/cto.ex"

	err := ValidateBatch(targets)
	require.Error(t, err)
}

func TestValidateBatchDuplicateID(t *testing.T) {
	targets := validTargets()
	targets[1].ID = targets[0].ID

	err := ValidateBatch(targets)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "id", verr.Field)
}

func TestResolve(t *testing.T) {
	tg := Target{ID: "cto", Role: "cto", Path: "apps/cto/lib/cto.ex", BuildScope: "apps/cto"}

	resolved := tg.Resolve("/work/echo")
	assert.Equal(t, filepath.Join("/work/echo", "apps/cto/lib/cto.ex"), resolved.Path)
	assert.Equal(t, filepath.Join("/work/echo", "apps/cto"), resolved.BuildScope)

	// Absolute paths pass through; the original value is not mutated.
	abs := Target{ID: "x", Role: "x", Path: "/abs/x.ex", BuildScope: "/abs"}
	assert.Equal(t, abs, abs.Resolve("/work/echo"))
	assert.Equal(t, "apps/cto/lib/cto.ex", tg.Path)
}
