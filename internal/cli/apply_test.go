package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echotools/retrofit/internal/backup"
)

func TestApplyPatchesAllTargets(t *testing.T) {
	ws := makeWorkspace(t, "chro", "cto")

	out, err := execute(t, "apply", ws, "--build-cmd", "echo Generated")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ chro: patched and verified")
	assert.Contains(t, out, "✓ cto: patched and verified")
	assert.Contains(t, out, "2/2 completed")

	for _, id := range []string{"chro", "cto"} {
		data, err := os.ReadFile(agentPath(ws, id))
		require.NoError(t, err)
		content := string(data)
		assert.Equal(t, 1, strings.Count(content, `name: "session_consult"`))
		assert.Contains(t, content, "DecisionHelper.consult_session(:"+id+",")

		_, err = os.Stat(agentPath(ws, id) + backup.Suffix)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestApplySecondRunSkips(t *testing.T) {
	ws := makeWorkspace(t, "cto")

	_, err := execute(t, "apply", ws, "--build-cmd", "echo Generated")
	require.NoError(t, err)

	out, err := execute(t, "apply", ws, "--build-cmd", "echo Generated")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cto: already patched")
	assert.Contains(t, out, "1/1 completed")
}

func TestApplyVerifyFailureRestores(t *testing.T) {
	ws := makeWorkspace(t, "cto")
	original := agentModule("cto")

	// Build exits zero without the marker: no positive evidence.
	out, err := execute(t, "apply", ws, "--build-cmd", "echo nothing-compiled")
	require.NoError(t, err) // partial failure is reported, not fatal, without --strict

	assert.Contains(t, out, "✗ cto: VERIFY_FAILED")
	assert.Contains(t, out, "0/1 completed")

	data, err := os.ReadFile(agentPath(ws, "cto"))
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestApplyStrictMakesFailureFatal(t *testing.T) {
	ws := makeWorkspace(t, "cto")

	_, err := execute(t, "apply", ws, "--build-cmd", "echo nothing-compiled", "--strict")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestApplyDryRunWritesNothing(t *testing.T) {
	ws := makeWorkspace(t, "cto")
	original := agentModule("cto")

	out, err := execute(t, "apply", ws, "--dry-run", "--build-cmd", "echo Generated")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cto: ready to patch")
	assert.Contains(t, out, "dry-run: 1/1 ok")

	data, err := os.ReadFile(agentPath(ws, "cto"))
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestApplyContinuesPastBrokenTarget(t *testing.T) {
	ws := makeWorkspace(t, "cto", "ops")

	// Remove ops's catch-all handler so anchor location fails.
	path := agentPath(ws, "ops")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	broken := strings.Replace(string(data),
		"  def execute_tool(name, _args) do\n    {:error, \"Unknown tool: #{name}\"}\n  end\n", "", 1)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	out, err := execute(t, "apply", ws, "--build-cmd", "echo Generated")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cto: patched and verified")
	assert.Contains(t, out, "✗ ops: ANCHOR_NOT_FOUND")
	assert.Contains(t, out, "1/2 completed")
}

func TestApplyHaltsWhenRestoreImpossible(t *testing.T) {
	ws := makeWorkspace(t, "chro", "cto")

	// The build command deletes chro's snapshot and exits zero without the
	// marker: verification fails and the restore has nothing to restore
	// from. That halts the whole batch before cto is processed.
	out, err := execute(t, "apply", ws, "--build-cmd", "rm lib/chro.ex"+backup.Suffix)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeHalted)
	assert.Contains(t, out, "batch halted")

	// chro is stuck in its mutated state; cto was never touched.
	data, err := os.ReadFile(agentPath(ws, "chro"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `name: "session_consult"`)

	data, err = os.ReadFile(agentPath(ws, "cto"))
	require.NoError(t, err)
	assert.Equal(t, agentModule("cto"), string(data))
}

func TestApplyJSONOutput(t *testing.T) {
	ws := makeWorkspace(t, "cto")

	out, err := execute(t, "--format", "json", "apply", ws, "--build-cmd", "echo Generated")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	var report ApplyReport
	require.NoError(t, json.Unmarshal(payload, &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "success", string(report.Results[0].Status))
	assert.Equal(t, 1, report.Summary.Succeeded)
}

func TestApplyMissingTargetsDir(t *testing.T) {
	ws := t.TempDir()

	_, err := execute(t, "apply", ws, "--build-cmd", "echo Generated")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApplyRecordsJournal(t *testing.T) {
	ws := makeWorkspace(t, "cto", "chro")
	dbPath := filepath.Join(ws, "journal.db")

	_, err := execute(t, "apply", ws, "--build-cmd", "echo Generated", "--journal", dbPath)
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	out, err := execute(t, "history", "--journal", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 completed")
}
