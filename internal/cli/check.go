package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echotools/retrofit/internal/backup"
	"github.com/echotools/retrofit/internal/patch"
	"github.com/echotools/retrofit/internal/target"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	TargetsDir string
}

// CheckReport is the check command's result payload.
type CheckReport struct {
	Results []patch.Outcome `json:"results"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <workspace-dir>",
		Short: "Probe targets without writing anything",
		Long: `Check each target's readiness for the session_consult patch.

Runs the read-only prefix of the pipeline per target: the idempotency
check and anchor location. No file is written and no build is invoked.
Faster than apply for validating a workspace before a real run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TargetsDir, "targets", "retrofit", "directory holding the CUE target table")

	return cmd
}

func runCheck(opts *CheckOptions, workspace string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	targets, err := loadWorkspaceTargets(formatter, workspace, opts.TargetsDir)
	if err != nil {
		return err
	}

	pipeline := &patch.Pipeline{Backups: &backup.Manager{}}
	return outputProbeReport(formatter, pipeline, targets, "check")
}

// outputProbeReport probes each target and renders readiness lines. Shared
// by check and apply --dry-run.
func outputProbeReport(formatter *OutputFormatter, pipeline *patch.Pipeline, targets []target.Target, label string) error {
	if err := target.ValidateBatch(targets); err != nil {
		formatter.Error(ErrCodeBatch, err.Error(), nil)
		return WrapExitError(ExitCommandError, "batch rejected", err)
	}

	results := make([]patch.Outcome, 0, len(targets))
	ready := 0
	for _, t := range targets {
		outcome := pipeline.Probe(t)
		results = append(results, outcome)
		if outcome.Status != patch.StatusFailed {
			ready++
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(CheckReport{Results: results})
	}

	for _, r := range results {
		switch r.Status {
		case patch.StatusSuccess:
			fmt.Fprintf(formatter.Writer, "✓ %s: ready to patch\n", r.TargetID)
		case patch.StatusSkipped:
			fmt.Fprintf(formatter.Writer, "✓ %s: already patched\n", r.TargetID)
		default:
			fmt.Fprintf(formatter.Writer, "✗ %s: %s: %s\n", r.TargetID, r.Code, r.Diagnostic)
		}
	}

	fmt.Fprintf(formatter.Writer, "\n%s: %d/%d ok\n", label, ready, len(targets))
	return nil
}
