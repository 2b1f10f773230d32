package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echotools/retrofit/internal/target"
)

func TestGenerateSubstitutesRole(t *testing.T) {
	fragments, err := Generate(target.Target{ID: "operations_head", Role: "operations_head"})
	require.NoError(t, err)

	assert.Contains(t, fragments.Dispatch, "DecisionHelper.consult_session(:operations_head,")
	assert.Contains(t, fragments.Helper, "EchoShared.LLM.Config.get_model(:operations_head)")
}

func TestGenerateSubstitutesAgentAndEnvHint(t *testing.T) {
	fragments, err := Generate(target.Target{ID: "test_lead", Role: "test_lead"})
	require.NoError(t, err)

	assert.Contains(t, fragments.Dispatch, "LLM is disabled for test_lead.")
	assert.Contains(t, fragments.Dispatch, "LLM_ENABLED=true or TEST_LEAD_LLM_ENABLED=true")
	assert.Contains(t, fragments.Helper, `"agent" => "test_lead"`)
}

func TestGenerateAgentParamOverride(t *testing.T) {
	fragments, err := Generate(target.Target{
		ID:     "uiux",
		Role:   "uiux_engineer",
		Params: map[string]string{"agent": "uiux_engineer"},
	})
	require.NoError(t, err)

	assert.Contains(t, fragments.Dispatch, "LLM is disabled for uiux_engineer.")
	assert.Contains(t, fragments.Dispatch, "UIUX_ENGINEER_LLM_ENABLED=true")
}

func TestGenerateSchemaIsParameterFree(t *testing.T) {
	a, err := Generate(target.Target{ID: "cto", Role: "cto"})
	require.NoError(t, err)
	b, err := Generate(target.Target{ID: "chro", Role: "chro"})
	require.NoError(t, err)

	assert.Equal(t, a.Schema, b.Schema)
	assert.Contains(t, a.Schema, `name: "session_consult"`)
	assert.Contains(t, a.Schema, `required: ["question"]`)
}

func TestGenerateFragmentShape(t *testing.T) {
	fragments, err := Generate(target.Target{ID: "cto", Role: "cto"})
	require.NoError(t, err)

	// No leading or trailing blank lines; the applier owns the glue.
	for name, frag := range map[string]string{
		"schema":   fragments.Schema,
		"dispatch": fragments.Dispatch,
		"helper":   fragments.Helper,
	} {
		assert.Equal(t, strings.TrimRight(frag, "\n"), frag, "%s has trailing newline", name)
		assert.NotEqual(t, "\n", frag[:1], "%s has leading newline", name)
	}

	// Elixir string interpolation survives templating untouched.
	assert.Contains(t, fragments.Dispatch, `#{session_id}`)
	assert.Contains(t, fragments.Dispatch, `#{inspect(reason)}`)
}
