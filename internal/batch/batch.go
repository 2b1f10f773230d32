// Package batch iterates a target list through the patch pipeline, strictly
// sequentially, and aggregates the per-target outcomes into a summary.
//
// Sequential processing is deliberate: each target involves a file write
// plus an external build against a shared build cache, and concurrent writes
// to sibling apps could race the build tool.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/echotools/retrofit/internal/journal"
	"github.com/echotools/retrofit/internal/patch"
	"github.com/echotools/retrofit/internal/target"
)

// Summary aggregates a batch run.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`

	// RunID is the journal run identifier, set only when a journal
	// recorded the batch.
	RunID string `json:"run_id,omitempty"`
}

// Completed counts targets that ended up carrying the patch: freshly
// patched plus already-patched. This is the numerator of the "N/M completed"
// report line.
func (s Summary) Completed() int {
	return s.Succeeded + s.Skipped
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d completed", s.Completed(), s.Total)
}

// Orchestrator runs the pipeline over a batch of targets.
type Orchestrator struct {
	Pipeline *patch.Pipeline

	// Journal, when non-nil, receives a run record and one row per outcome.
	Journal *journal.Journal

	Logger *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Run processes targets in the caller-supplied order.
//
// The batch is validated before any target is touched: duplicate file paths
// or malformed targets reject the whole batch. One target's failure never
// aborts the rest; the only exceptions are context cancellation and a failed
// restore, which halt processing and return the outcomes gathered so far
// alongside the error.
func (o *Orchestrator) Run(ctx context.Context, targets []target.Target) ([]patch.Outcome, Summary, error) {
	log := o.logger()
	summary := Summary{Total: len(targets)}

	if err := target.ValidateBatch(targets); err != nil {
		return nil, summary, err
	}

	var runID string
	if o.Journal != nil {
		id, err := o.Journal.BeginRun(ctx, len(targets))
		if err != nil {
			return nil, summary, fmt.Errorf("journal: %w", err)
		}
		runID = id
		summary.RunID = id
	}

	outcomes := make([]patch.Outcome, 0, len(targets))
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return outcomes, summary, fmt.Errorf("batch cancelled: %w", err)
		}

		log.Info("processing target", "target", t.ID, "role", t.Role)

		outcome, err := o.Pipeline.Run(ctx, t)
		if err != nil {
			// Restore failure: continuing risks compounding filesystem
			// damage, so the batch stops here.
			return outcomes, summary, err
		}

		outcomes = append(outcomes, outcome)
		switch outcome.Status {
		case patch.StatusSuccess:
			summary.Succeeded++
		case patch.StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
			log.Warn("target failed", "target", t.ID, "code", outcome.Code)
		}

		if o.Journal != nil {
			if err := o.Journal.RecordResult(ctx, runID, i, outcome); err != nil {
				return outcomes, summary, fmt.Errorf("journal: %w", err)
			}
		}
	}

	if o.Journal != nil {
		if err := o.Journal.FinishRun(ctx, runID, summary.Completed()); err != nil {
			return outcomes, summary, fmt.Errorf("journal: %w", err)
		}
	}

	log.Info("batch finished",
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"total", summary.Total)

	return outcomes, summary, nil
}
