package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pmt-pipeline/internal/domain"
	"pmt-pipeline/internal/jobspec"
	"pmt-pipeline/internal/writer"
)

// RunOptions controls one batch execution.
type RunOptions struct {
	// Years overrides the configured year list. Empty falls back to the
	// config's years, then to the snapshot year.
	Years []int
	// SkipFailedUnits records a failing unit and continues instead of
	// aborting the run. Failures are always recorded and logged, never
	// suppressed.
	SkipFailedUnits bool
	// Parallelism bounds concurrent unit processing. Values < 2 run units
	// strictly sequentially. Appends to the output are serialized and
	// ordered regardless.
	Parallelism int
}

// Run executes a job over its units: each unit is processed into an
// aggregated record set, and results append in year order to the single
// output table. A failed run discards its partial output.
func (r *Runner) Run(ctx context.Context, job *jobspec.Job, opts RunOptions) (err error) {
	years := opts.Years
	if len(years) == 0 {
		years = r.cfg.Years
	}
	if len(years) == 0 {
		years = []int{r.cfg.SnapshotYear}
	}

	logger := r.logger.With("job", job.Name)

	var run *domain.Run
	if r.runs != nil {
		run, err = r.runs.BeginRun(ctx, job.Name)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		logger = logger.With("run_id", run.ID)
	}

	dest, err := r.resolveDestination(job.Output)
	if err != nil {
		return r.finishRun(ctx, run, err)
	}
	out, err := writer.Open(ctx, dest)
	if err != nil {
		return r.finishRun(ctx, run, err)
	}

	// Scoped cleanup: a failed run leaves no partial output behind.
	defer func() {
		if err != nil {
			if abortErr := out.Abort(ctx); abortErr != nil {
				logger.Error("discard partial output failed", "error", abortErr)
			}
		}
	}()

	results, err := r.processUnits(ctx, run, job, years, opts)
	if err != nil {
		return r.finishRun(ctx, run, err)
	}

	var seq *domain.Sequence
	if job.Output.RowIDColumn != "" {
		seq = domain.NewSequence(1)
	}

	for _, res := range results {
		if res == nil {
			continue // unit skipped after failure
		}
		if seq != nil {
			res.records = numberRows(res.records, job.Output.RowIDColumn, seq)
		}
		if appendErr := out.Append(ctx, res.records); appendErr != nil {
			err = domain.WrapUnit(res.unit, appendErr)
			r.recordUnit(ctx, run, res.unit, domain.RunStatusFailed, res.rowsIn, 0, err)
			return r.finishRun(ctx, run, err)
		}
		r.recordUnit(ctx, run, res.unit, domain.RunStatusSuccess, res.rowsIn, res.records.Len(), nil)
	}

	if closeErr := out.Close(); closeErr != nil {
		err = closeErr
		return r.finishRun(ctx, run, err)
	}
	logger.Info("run finished", "units", len(years))
	return r.finishRun(ctx, run, nil)
}

// numberRows prepends the row-ID column, drawing consecutive IDs from the
// run's sequence. IDs follow append order, so they are stable across runs
// of the same inputs.
func numberRows(records *domain.RecordSet, column string, seq *domain.Sequence) *domain.RecordSet {
	out := domain.NewRecordSet(append([]string{column}, records.Columns...)...)
	for _, rec := range records.Records {
		numbered := rec.Clone()
		numbered[column] = seq.Next()
		out.Records = append(out.Records, numbered)
	}
	return out
}

// processUnits computes every unit's aggregated result. With parallelism,
// units compute concurrently but results keep year order so appends stay
// ordered; each year reads independent inputs, so this is safe.
func (r *Runner) processUnits(ctx context.Context, run *domain.Run, job *jobspec.Job,
	years []int, opts RunOptions) ([]*unitResult, error) {

	results := make([]*unitResult, len(years))

	handleErr := func(ctx context.Context, year int, unitErr error) error {
		unit := fmt.Sprintf("%d", year)
		wrapped := domain.WrapUnit(unit, unitErr)
		r.recordUnit(ctx, run, unit, domain.RunStatusFailed, 0, 0, wrapped)
		if opts.SkipFailedUnits {
			r.logger.Warn("unit failed, skipping", "job", job.Name, "unit", unit, "error", unitErr)
			return nil
		}
		return wrapped
	}

	if opts.Parallelism < 2 {
		for i, year := range years {
			res, unitErr := r.processUnit(ctx, job, year)
			if unitErr != nil {
				if err := handleErr(ctx, year, unitErr); err != nil {
					return nil, err
				}
				continue
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, year := range years {
		g.Go(func() error {
			res, unitErr := r.processUnit(gctx, job, year)
			if unitErr != nil {
				return handleErr(gctx, year, unitErr)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// recordUnit writes one unit outcome to the history store, when configured.
func (r *Runner) recordUnit(ctx context.Context, run *domain.Run, unit string,
	status domain.RunStatus, rowsIn, rowsOut int, unitErr error) {

	if r.runs == nil || run == nil {
		return
	}
	var errText *string
	if unitErr != nil {
		s := unitErr.Error()
		errText = &s
	}
	if err := r.runs.RecordUnit(ctx, &domain.UnitResult{
		RunID:   run.ID,
		Unit:    unit,
		Status:  status,
		RowsIn:  rowsIn,
		RowsOut: rowsOut,
		Error:   errText,
	}); err != nil {
		r.logger.Error("record unit outcome failed", "unit", unit, "error", err)
	}
}

// finishRun closes out the run row and passes err through.
func (r *Runner) finishRun(ctx context.Context, run *domain.Run, err error) error {
	if r.runs == nil || run == nil {
		return err
	}
	status := domain.RunStatusSuccess
	var errText *string
	if err != nil {
		status = domain.RunStatusFailed
		s := err.Error()
		errText = &s
	}
	if finishErr := r.runs.FinishRun(ctx, run.ID, status, errText); finishErr != nil {
		r.logger.Error("finish run failed", "run_id", run.ID, "error", finishErr)
	}
	return err
}
