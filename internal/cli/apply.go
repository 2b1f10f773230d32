package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/echotools/retrofit/internal/backup"
	"github.com/echotools/retrofit/internal/batch"
	"github.com/echotools/retrofit/internal/journal"
	"github.com/echotools/retrofit/internal/patch"
	"github.com/echotools/retrofit/internal/target"
	"github.com/echotools/retrofit/internal/verify"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	TargetsDir string        // target table location, relative to workspace if not absolute
	Journal    string        // journal database path, empty disables recording
	Strict     bool          // non-zero exit on partial failure
	DryRun     bool          // stop after anchor location, no writes
	Timeout    time.Duration // per-target verifier timeout
	BuildCmd   string        // build command run in each target's scope
	Marker     string        // stdout substring proving the build compiled something
}

// ApplyReport is the apply command's result payload. The journal run id,
// when one was recorded, travels inside the summary.
type ApplyReport struct {
	Results []patch.Outcome `json:"results"`
	Summary batch.Summary   `json:"summary"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <workspace-dir>",
		Short: "Patch all targets and verify each with its build",
		Long: `Apply the session_consult patch to every target in the table.

Each target is processed in order: skipped if already patched, otherwise
patched at the three anchor points, written, and verified by running the
build in the target's scope. A target whose build does not prove success
is restored to its original bytes. One target's failure never stops the
batch.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TargetsDir, "targets", "retrofit", "directory holding the CUE target table")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record run and outcomes to this SQLite journal")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit non-zero when any target fails")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "locate anchors only, write nothing")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "per-target build timeout")
	cmd.Flags().StringVar(&opts.BuildCmd, "build-cmd", "mix compile", "build command run in each target's scope")
	cmd.Flags().StringVar(&opts.Marker, "marker", "Generated", "stdout substring that proves the build compiled something")

	return cmd
}

func runApply(opts *ApplyOptions, workspace string, cmd *cobra.Command) error {
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(formatter.ErrWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	runner := verify.MixCompile()
	if opts.BuildCmd != "" {
		runner = &verify.Runner{Command: strings.Fields(opts.BuildCmd), SuccessMarker: opts.Marker}
	}

	pipeline := &patch.Pipeline{
		Backups:  &backup.Manager{},
		Verifier: &timeoutVerifier{inner: runner, timeout: opts.Timeout},
		Logger:   logger,
	}

	if opts.DryRun {
		return outputProbeReport(formatter, pipeline, targets, "dry-run")
	}

	orchestrator := &batch.Orchestrator{Pipeline: pipeline, Logger: logger}

	var runJournal *journal.Journal
	if opts.Journal != "" {
		runJournal, err = journal.Open(opts.Journal)
		if err != nil {
			formatter.Error(ErrCodeJournal, err.Error(), nil)
			return WrapExitError(ExitCommandError, "opening journal", err)
		}
		defer runJournal.Close()
		orchestrator.Journal = runJournal
	}

	results, summary, err := orchestrator.Run(context.Background(), targets)
	if err != nil {
		return outputBatchError(formatter, err)
	}

	if err := outputApplyReport(formatter, results, summary); err != nil {
		return err
	}

	if opts.Strict && summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d target(s) failed", summary.Failed))
	}
	return nil
}

// loadWorkspaceTargets loads the target table and resolves paths against the
// workspace root.
func loadWorkspaceTargets(formatter *OutputFormatter, workspace, targetsDir string) ([]target.Target, error) {
	dir := targetsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspace, dir)
	}

	loadResult, loadErrors := LoadTargets(dir, LoadModeCollectAll)
	if len(loadErrors) > 0 {
		return nil, outputLoadErrors(formatter, loadErrors)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	targets := make([]target.Target, 0, len(loadResult.Targets))
	for _, t := range loadResult.Targets {
		formatter.VerboseLog("Loaded target: %s (role: %s)", t.ID, t.Role)
		targets = append(targets, t.Resolve(workspace))
	}
	return targets, nil
}

// outputApplyReport renders per-target status lines plus the aggregate count.
func outputApplyReport(formatter *OutputFormatter, results []patch.Outcome, summary batch.Summary) error {
	if formatter.Format == "json" {
		return formatter.Success(ApplyReport{Results: results, Summary: summary})
	}

	for _, r := range results {
		switch r.Status {
		case patch.StatusSuccess:
			fmt.Fprintf(formatter.Writer, "✓ %s: patched and verified\n", r.TargetID)
		case patch.StatusSkipped:
			fmt.Fprintf(formatter.Writer, "✓ %s: already patched\n", r.TargetID)
		default:
			fmt.Fprintf(formatter.Writer, "✗ %s: %s: %s\n", r.TargetID, r.Code, r.Diagnostic)
		}
	}

	fmt.Fprintf(formatter.Writer, "\n%s\n", summary)
	if summary.RunID != "" {
		fmt.Fprintf(formatter.Writer, "journal run %s\n", summary.RunID)
	}
	return nil
}

// outputBatchError reports a halted batch. A restore failure is the one
// condition that stops processing, and it must be surfaced loudly.
func outputBatchError(formatter *OutputFormatter, err error) error {
	var verr *target.ValidationError
	if errors.As(err, &verr) {
		formatter.Error(ErrCodeBatch, verr.Error(), nil)
		return WrapExitError(ExitCommandError, "batch rejected", err)
	}

	if patch.CodeOf(err) == patch.ErrCodeRestoreFailed {
		formatter.Error(ErrCodeHalted, fmt.Sprintf("batch halted: %v", err), nil)
		return WrapExitError(ExitFailure, "batch halted", err)
	}

	formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitFailure, "batch failed", err)
}

// outputLoadErrors reports target-table loading problems.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			formatter.Error(loadErr.Code, loadErr.Message, nil)
			continue
		}
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("loading targets failed with %d error(s)", len(errs)))
}

// timeoutVerifier bounds each build invocation.
type timeoutVerifier struct {
	inner   verify.Verifier
	timeout time.Duration
}

func (v *timeoutVerifier) Verify(ctx context.Context, dir string) (verify.Result, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	return v.inner.Verify(ctx, dir)
}
