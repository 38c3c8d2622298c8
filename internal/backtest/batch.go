package backtest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"predictor/internal/domain"
)

// Job is one backtest in a batch. When Load is set it supplies the bars on
// the worker goroutine and Bars is ignored.
type Job struct {
	Name   string
	Bars   []domain.Bar
	Load   func(ctx context.Context) ([]domain.Bar, error)
	Config Config
}

// BatchResult is the outcome of one Job. Err is set instead of Report when
// the run failed.
type BatchResult struct {
	Name   string
	Report *domain.BacktestReport
	Err    error
}

// RunBatch runs jobs concurrently on at most workers goroutines (GOMAXPROCS
// when workers <= 0). Runs share no state. A failing job does not stop the
// others; results are returned in job order. The returned error is non-nil
// only when ctx is cancelled before all jobs started.
func RunBatch(ctx context.Context, jobs []Job, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]BatchResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bars := job.Bars
			if job.Load != nil {
				var err error
				if bars, err = job.Load(gctx); err != nil {
					results[i] = BatchResult{Name: job.Name, Err: err}
					return nil
				}
			}
			report, err := Run(bars, job.Config)
			results[i] = BatchResult{Name: job.Name, Report: report, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
