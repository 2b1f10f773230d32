package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/echotools/retrofit/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	RunID   string
}

// HistoryReport is the history command's result payload.
type HistoryReport struct {
	Runs    []journal.Run       `json:"runs,omitempty"`
	Results []journal.ResultRow `json:"results,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded patch runs",
		Long: `List runs recorded in a journal database.

Without --run, prints every recorded run, most recent first. With --run,
prints the per-target outcomes of that run in batch order.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal database path")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show per-target results for one run")
	cmd.MarkFlagRequired("journal")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(opts.Journal); err != nil {
		formatter.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Journal), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening journal", err)
	}
	defer j.Close()

	ctx := context.Background()

	if opts.RunID != "" {
		return outputRunResults(formatter, j, ctx, opts.RunID)
	}
	return outputRuns(formatter, j, ctx)
}

func outputRuns(formatter *OutputFormatter, j *journal.Journal, ctx context.Context) error {
	runs, err := j.ListRuns(ctx)
	if err != nil {
		formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading journal", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(HistoryReport{Runs: runs})
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded")
		return nil
	}

	for _, r := range runs {
		state := "running"
		if r.FinishedAt != nil {
			state = fmt.Sprintf("%d/%d completed", r.Completed, r.Total)
		}
		fmt.Fprintf(formatter.Writer, "%s  %s  %s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), state)
	}
	return nil
}

func outputRunResults(formatter *OutputFormatter, j *journal.Journal, ctx context.Context, runID string) error {
	results, err := j.RunResults(ctx, runID)
	if err != nil {
		formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading journal", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(HistoryReport{Results: results})
	}

	if len(results) == 0 {
		fmt.Fprintf(formatter.Writer, "No results for run %s\n", runID)
		return nil
	}

	for _, r := range results {
		line := fmt.Sprintf("%d  %s  %s", r.Seq, r.TargetID, r.Status)
		if r.Code != "" {
			line += fmt.Sprintf("  [%s] %s", r.Code, r.Diagnostic)
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	return nil
}
