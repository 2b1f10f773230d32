package patch

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/echotools/retrofit/internal/target"
)

// Fragments holds the three text fragments inserted for one target, one per
// anchor. Generated fresh per target and owned by the Apply call that
// consumes them.
type Fragments struct {
	// Schema is the session_consult tools-list entry (no leading comma; the
	// applier supplies the continuation comma).
	Schema string

	// Dispatch is the execute_tool("session_consult", args) clause.
	Dispatch string

	// Helper is the format_session_response private function.
	Helper string
}

// schemaFragment is the declarative tool entry, indented to sit inside the
// tools list. It carries no target parameters.
const schemaFragment = `      %{
        name: "session_consult",
        description: """
        Query the AI assistant with conversation memory (LocalCode-style).

        Maintains multi-turn conversations with automatic context injection:
        - Your role, responsibilities, and authority limits
        - Recent decisions and messages (last 5 each)
        - Current system status (PostgreSQL, Redis, Ollama)
        - Git context (branch, last commit)
        - Conversation history (last 5 turns)

        Perfect for exploratory questions, decision analysis with iterative thinking,
        and strategy planning with follow-up questions.
        """,
        inputSchema: %{
          type: "object",
          properties: %{
            question: %{
              type: "string",
              description: "The question to ask the AI assistant",
              minLength: 1
            },
            session_id: %{
              type: "string",
              description: "Session ID to continue conversation (optional, omit for new session)"
            },
            context: %{
              type: "string",
              description: "Additional context for this specific query (optional)"
            }
          },
          required: ["question"]
        }
      }`

var dispatchTemplate = template.Must(template.New("dispatch").Parse(
	`  def execute_tool("session_consult", args) do
    question = Map.fetch!(args, "question")
    session_id = Map.get(args, "session_id")
    context = Map.get(args, "context")

    opts = if context, do: [context: context], else: []

    case DecisionHelper.consult_session(:{{.Role}}, session_id, question, opts) do
      {:ok, result} ->
        response = format_session_response(result)
        {:ok, response}

      {:error, :llm_disabled} ->
        {:error, "LLM is disabled for {{.Agent}}. Enable with LLM_ENABLED=true or {{.EnvPrefix}}_LLM_ENABLED=true"}

      {:error, :session_not_found} ->
        {:error, "Session not found: #{session_id}. It may have expired after 1 hour of inactivity."}

      {:error, reason} ->
        {:error, "AI consultation failed: #{inspect(reason)}"}
    end
  end`))

var helperTemplate = template.Must(template.New("helper").Parse(
	`  defp format_session_response(result) do
    model = EchoShared.LLM.Config.get_model(:{{.Role}})

    base = %{
      "response" => result.response,
      "session_id" => result.session_id,
      "turn_count" => result.turn_count,
      "estimated_tokens" => result.total_tokens,
      "model" => model,
      "agent" => "{{.Agent}}"
    }

    if result.warnings != [] do
      Map.put(base, "warnings", result.warnings)
    else
      base
    end
  end`))

// templateParams is the data fed to the fragment templates.
type templateParams struct {
	Role      string // agent role atom, e.g. "cto"
	Agent     string // agent identifier used in messages, e.g. "cto"
	EnvPrefix string // upper-cased agent id for the enable hint, e.g. "CTO"
}

// Generate renders the three fragments for a target. Pure: no side effects,
// no filesystem access.
func Generate(t target.Target) (Fragments, error) {
	params := templateParams{
		Role:      t.Role,
		Agent:     t.ID,
		EnvPrefix: strings.ToUpper(t.ID),
	}
	if agent, ok := t.Params["agent"]; ok {
		params.Agent = agent
		params.EnvPrefix = strings.ToUpper(agent)
	}

	var dispatch, helper strings.Builder
	if err := dispatchTemplate.Execute(&dispatch, params); err != nil {
		return Fragments{}, fmt.Errorf("rendering dispatch fragment: %w", err)
	}
	if err := helperTemplate.Execute(&helper, params); err != nil {
		return Fragments{}, fmt.Errorf("rendering helper fragment: %w", err)
	}

	return Fragments{
		Schema:   schemaFragment,
		Dispatch: dispatch.String(),
		Helper:   helper.String(),
	}, nil
}
