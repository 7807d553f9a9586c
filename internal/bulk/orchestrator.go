// Package bulk runs one keyword across many regions, aggregates the records
// and hands the aggregate to a result store.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/fanout"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// RegionSearcher paginates one region. It absorbs upstream failures into the
// returned result.
type RegionSearcher interface {
	SearchRegion(ctx context.Context, keyword, region string, delay poi.DelayWindow) poi.RegionResult
}

// ProgressRecorder receives per-region completions for a tracked job.
type ProgressRecorder interface {
	UpdateProgress(id string, current int, summary *poi.RegionSummary) error
}

// JobFailure is a failure outside the per-region loop, such as the result
// store rejecting the aggregate. It fails the whole job.
type JobFailure struct {
	Op  string
	Err error
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("bulk search %s: %v", e.Op, e.Err)
}

func (e *JobFailure) Unwrap() error { return e.Err }

// Update describes one finished region.
type Update struct {
	JobID     string
	Region    string
	Count     int
	Completed int
	Total     int
	// Err is set when the region was emptied or truncated upstream.
	Err error
}

// Options tune one bulk search.
type Options struct {
	// MaxConcurrency is how many regions run at once.
	MaxConcurrency int
	Delay          poi.DelayWindow
	// NoDelay turns pacing off even when the service defaults set a window.
	// A zero Delay without it falls back to the defaults.
	NoDelay bool
	// JobID, when set, routes progress to the ProgressRecorder.
	JobID string
	// OnProgress observes each region completion. Calls are serialized.
	OnProgress func(Update)
}

// Outcome is what a finished bulk search returns.
type Outcome struct {
	Handle     string
	Keyword    string
	Total      int
	SearchDate time.Time
	Breakdown  []poi.ProvinceCount
	Regions    []poi.RegionResult
}

// Summaries returns one count per region in input order.
func (o Outcome) Summaries() []poi.RegionSummary {
	out := make([]poi.RegionSummary, len(o.Regions))
	for i, r := range o.Regions {
		out[i] = poi.RegionSummary{Region: r.Region, Count: r.Total}
	}
	return out
}

// Orchestrator fans a keyword out over regions.
type Orchestrator struct {
	regions  RegionSearcher
	store    poi.ResultStore
	recorder ProgressRecorder
	clock    poi.Clock
	logger   *zap.Logger
}

// NewOrchestrator builds an Orchestrator. recorder may be nil when no job
// tracking is wanted.
func NewOrchestrator(
	regions RegionSearcher,
	store poi.ResultStore,
	recorder ProgressRecorder,
	clock poi.Clock,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if regions == nil {
		return nil, errors.New("region searcher is required")
	}
	if store == nil {
		return nil, errors.New("result store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{regions: regions, store: store, recorder: recorder, clock: clock, logger: logger}, nil
}

// BulkSearch searches every region with at most MaxConcurrency in flight,
// flattens the records in region order, breaks them down by province and
// saves the aggregate. Region failures never fail the search; an error is
// returned only when the run is canceled or the aggregate cannot be saved.
func (o *Orchestrator) BulkSearch(ctx context.Context, keyword string, regions []string, opts Options) (Outcome, error) {
	logger := o.logger.With(zap.String("keyword", keyword), zap.Int("regions", len(regions)))
	if opts.JobID != "" {
		logger = logger.With(zap.String("job_id", opts.JobID))
	}
	logger.Info("bulk search started", zap.Int("max_concurrency", opts.MaxConcurrency))
	started := time.Now()

	var (
		mu        sync.Mutex
		completed int
	)
	results, err := fanout.Map(ctx, regions, opts.MaxConcurrency,
		func(ctx context.Context, region string, _ int) (poi.RegionResult, error) {
			res := o.regions.SearchRegion(ctx, keyword, region, opts.Delay)

			mu.Lock()
			defer mu.Unlock()
			completed++
			o.record(logger, opts, res, completed, len(regions))
			return res, nil
		})
	if err != nil {
		logger.Warn("bulk search interrupted", zap.Int("completed", completed), zap.Error(err))
		return Outcome{}, &JobFailure{Op: "search", Err: err}
	}

	records := make([]poi.Record, 0)
	for _, res := range results {
		records = append(records, res.Records...)
	}
	now := o.clock.Now()
	agg := poi.Aggregate{
		Keyword:    keyword,
		SearchDate: poi.Midnight(now),
		Timestamp:  now,
		TotalCount: len(records),
		Breakdown:  poi.ProvinceBreakdown(records),
		Records:    records,
	}

	handle, err := o.store.Save(ctx, agg)
	if err != nil {
		logger.Error("saving aggregate failed", zap.Int("records", len(records)), zap.Error(err))
		return Outcome{}, &JobFailure{Op: "persist", Err: err}
	}
	logger.Info("bulk search finished",
		zap.Int("records", len(records)),
		zap.String("handle", handle),
		zap.Duration("elapsed", time.Since(started)),
	)
	return Outcome{
		Handle:     handle,
		Keyword:    keyword,
		Total:      len(records),
		SearchDate: agg.SearchDate,
		Breakdown:  agg.Breakdown,
		Regions:    results,
	}, nil
}

// record runs under the completion mutex.
func (o *Orchestrator) record(logger *zap.Logger, opts Options, res poi.RegionResult, completed, total int) {
	if opts.JobID != "" && o.recorder != nil {
		summary := &poi.RegionSummary{Region: res.Region, Count: res.Total}
		if err := o.recorder.UpdateProgress(opts.JobID, completed, summary); err != nil {
			logger.Warn("progress update rejected", zap.String("region", res.Region), zap.Error(err))
		}
	}
	if opts.OnProgress != nil {
		opts.OnProgress(Update{
			JobID:     opts.JobID,
			Region:    res.Region,
			Count:     res.Total,
			Completed: completed,
			Total:     total,
			Err:       res.Err,
		})
	}
}
