package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
	"github.com/JakeFAU/realtime-poi-crawler/internal/progress"
	"github.com/JakeFAU/realtime-poi-crawler/internal/registry"
)

var (
	// ErrEmptyKeyword rejects a submission without a keyword.
	ErrEmptyKeyword = errors.New("keyword is required")
	// ErrNoRegions rejects a submission without regions.
	ErrNoRegions = errors.New("at least one region is required")
)

// Service runs tracked bulk-search jobs in the background.
type Service struct {
	orch     *Orchestrator
	registry *registry.Registry
	emitter  progress.Emitter
	clock    poi.Clock
	logger   *zap.Logger
	defaults Options

	// base bounds every job; canceling it stops new region and page claims.
	base context.Context
	wg   sync.WaitGroup
}

// NewService builds a Service. defaults fills unset MaxConcurrency and Delay
// of each submission.
func NewService(
	base context.Context,
	orch *Orchestrator,
	reg *registry.Registry,
	emitter progress.Emitter,
	defaults Options,
	logger *zap.Logger,
) (*Service, error) {
	if orch == nil || reg == nil {
		return nil, errors.New("orchestrator and registry are required")
	}
	if base == nil {
		base = context.Background()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.MaxConcurrency < 1 {
		defaults.MaxConcurrency = 1
	}
	return &Service{
		orch:     orch,
		registry: reg,
		emitter:  emitter,
		clock:    orch.clock,
		logger:   logger,
		defaults: defaults,
		base:     base,
	}, nil
}

// Submit registers and starts a job and returns its initial snapshot. The
// search itself runs in the background.
func (s *Service) Submit(keyword string, regions []string, opts Options) (poi.Job, error) {
	id, err := s.begin(keyword, regions)
	if err != nil {
		return poi.Job{}, err
	}
	job, err := s.registry.Get(id)
	if err != nil {
		return poi.Job{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(s.base, id, keyword, regions, opts)
	}()
	return job, nil
}

// Run registers a job and executes it on the caller's goroutine, returning
// the final job snapshot and the outcome.
func (s *Service) Run(ctx context.Context, keyword string, regions []string, opts Options) (poi.Job, Outcome, error) {
	id, err := s.begin(keyword, regions)
	if err != nil {
		return poi.Job{}, Outcome{}, err
	}
	out, runErr := s.execute(ctx, id, keyword, regions, opts)
	job, err := s.registry.Get(id)
	if err != nil {
		return poi.Job{}, out, err
	}
	return job, out, runErr
}

// Job returns a snapshot of one job.
func (s *Service) Job(id string) (poi.Job, error) {
	return s.registry.Get(id)
}

// JobsByKeyword lists a keyword's jobs, newest first.
func (s *Service) JobsByKeyword(keyword string) []poi.Job {
	return s.registry.ListByKeyword(keyword)
}

// Stats counts jobs by status.
func (s *Service) Stats() poi.Stats {
	return s.registry.Stats()
}

// Wait blocks until every submitted job has reached a terminal state or ctx
// is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for bulk jobs: %w", ctx.Err())
	}
}

func (s *Service) begin(keyword string, regions []string) (string, error) {
	if strings.TrimSpace(keyword) == "" {
		return "", ErrEmptyKeyword
	}
	if len(regions) == 0 {
		return "", ErrNoRegions
	}
	id := s.registry.Create(keyword, regions)
	if err := s.registry.Start(id); err != nil {
		return "", err
	}
	s.emitter.Emit(progress.Event{
		JobID:   id,
		TS:      s.clock.Now(),
		Stage:   progress.StageJobStart,
		Keyword: keyword,
		Total:   len(regions),
	})
	return id, nil
}

func (s *Service) execute(ctx context.Context, id, keyword string, regions []string, opts Options) (Outcome, error) {
	started := time.Now()
	opts = s.withDefaults(opts)
	opts.JobID = id
	observer := opts.OnProgress
	opts.OnProgress = func(u Update) {
		evt := progress.Event{
			JobID:   id,
			TS:      s.clock.Now(),
			Stage:   progress.StageRegionDone,
			Keyword: keyword,
			Region:  u.Region,
			Count:   u.Count,
			Current: u.Completed,
			Total:   u.Total,
		}
		if u.Err != nil {
			evt.Note = u.Err.Error()
		}
		s.emitter.Emit(evt)
		if observer != nil {
			observer(u)
		}
	}

	out, err := s.orch.BulkSearch(ctx, keyword, regions, opts)
	if err != nil {
		if failErr := s.registry.Fail(id, err.Error()); failErr != nil {
			s.logger.Error("marking job failed", zap.String("job_id", id), zap.Error(failErr))
		}
		s.emitter.Emit(progress.Event{
			JobID:   id,
			TS:      s.clock.Now(),
			Stage:   progress.StageJobError,
			Keyword: keyword,
			Total:   len(regions),
			Dur:     time.Since(started),
			Note:    err.Error(),
		})
		return out, err
	}
	if err := s.registry.Complete(id, out.Handle); err != nil {
		s.logger.Error("marking job completed", zap.String("job_id", id), zap.Error(err))
	}
	s.emitter.Emit(progress.Event{
		JobID:   id,
		TS:      s.clock.Now(),
		Stage:   progress.StageJobDone,
		Keyword: keyword,
		Count:   out.Total,
		Current: len(regions),
		Total:   len(regions),
		Dur:     time.Since(started),
	})
	return out, nil
}

func (s *Service) withDefaults(opts Options) Options {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = s.defaults.MaxConcurrency
	}
	switch {
	case opts.NoDelay:
		opts.Delay = poi.DelayWindow{}
	case opts.Delay == (poi.DelayWindow{}):
		opts.Delay = s.defaults.Delay
	}
	return opts
}
