package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// agentModule renders a minimal agent source file with all three anchors.
func agentModule(id string) string {
	return strings.ReplaceAll(`defmodule AGENT do
  @impl true
  def tools do
    [
      %{
        name: "noop",
        inputSchema: %{
          type: "object",
          properties: %{},
          required: []
        }
      }
    ]
  end

  @impl true
  def execute_tool("noop", _args) do
    :ok
  end

  def execute_tool(name, _args) do
    {:error, "Unknown tool: #{name}"}
  end
end
`, "AGENT", id)
}

// makeWorkspace builds a workspace directory: one app per id plus a CUE
// target table under retrofit/.
func makeWorkspace(t *testing.T, ids ...string) string {
	t.Helper()
	root := t.TempDir()

	var table strings.Builder
	table.WriteString("package retrofit\n\n")
	for _, id := range ids {
		appDir := filepath.Join(root, "apps", id)
		require.NoError(t, os.MkdirAll(filepath.Join(appDir, "lib"), 0o755))
		require.NoError(t, os.WriteFile(
			filepath.Join(appDir, "lib", id+".ex"), []byte(agentModule(id)), 0o644))

		fmt.Fprintf(&table, `target: %s: {
	role:       %q
	path:       "apps/%s/lib/%s.ex"
	buildScope: "apps/%s"
}

`, id, id, id, id, id)
	}

	targetsDir := filepath.Join(root, "retrofit")
	require.NoError(t, os.MkdirAll(targetsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(targetsDir, "targets.cue"), []byte(table.String()), 0o644))

	return root
}

func agentPath(root, id string) string {
	return filepath.Join(root, "apps", id, "lib", id+".ex")
}

// execute runs a freshly built root command with args and returns the
// combined output and error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// executeCommand runs a single subcommand with its own options, the way the
// command tests drive it.
func executeCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
