// Package registry tracks bulk-search jobs in memory. Jobs move through
// pending, running and a terminal state; finished jobs are reaped once they
// are older than the retention window.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// DefaultRetention is how long finished jobs stay queryable.
const DefaultRetention = time.Hour

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a mutation does not fit the job's state.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Registry is a concurrency-safe in-memory job table.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*poi.Job
	clock     poi.Clock
	retention time.Duration
	logger    *zap.Logger
}

// New builds a Registry. A non-positive retention uses DefaultRetention.
func New(clock poi.Clock, retention time.Duration, logger *zap.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:      make(map[string]*poi.Job),
		clock:     clock,
		retention: retention,
		logger:    logger,
	}
}

// Create registers a pending job and returns its id, "<keyword>-<unix ms>".
// Ids created in the same millisecond get a numeric suffix.
func (r *Registry) Create(keyword string, regions []string) string {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	base := fmt.Sprintf("%s-%d", keyword, now.UnixMilli())
	id := base
	for n := 2; ; n++ {
		if _, taken := r.jobs[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	r.jobs[id] = &poi.Job{
		ID:        id,
		Keyword:   keyword,
		Status:    poi.JobPending,
		Progress:  poi.Progress{Total: len(regions), Percentage: poi.Percentage(0, len(regions))},
		Regions:   append([]string(nil), regions...),
		Results:   []poi.RegionSummary{},
		CreatedAt: now,
	}
	r.logger.Debug("job created", zap.String("job_id", id), zap.Int("regions", len(regions)))
	return id
}

// Start moves a pending job to running.
func (r *Registry) Start(id string) error {
	return r.mutate(id, func(job *poi.Job, now time.Time) error {
		if job.Status != poi.JobPending {
			return transitionError(job, poi.JobRunning)
		}
		job.Status = poi.JobRunning
		job.StartedAt = &now
		return nil
	})
}

// UpdateProgress records that current regions have finished. Progress never
// moves backwards and is clamped to the region count. A non-nil summary is
// appended to the job's results.
func (r *Registry) UpdateProgress(id string, current int, summary *poi.RegionSummary) error {
	return r.mutate(id, func(job *poi.Job, _ time.Time) error {
		if job.Status != poi.JobRunning {
			return transitionError(job, poi.JobRunning)
		}
		if current > job.Progress.Total {
			current = job.Progress.Total
		}
		if current > job.Progress.Current {
			job.Progress.Current = current
		}
		job.Progress.Percentage = poi.Percentage(job.Progress.Current, job.Progress.Total)
		if summary != nil {
			job.Results = append(job.Results, *summary)
			job.TotalResults += summary.Count
		}
		return nil
	})
}

// Complete marks a running job completed with the persistence handle.
func (r *Registry) Complete(id, handle string) error {
	return r.mutate(id, func(job *poi.Job, now time.Time) error {
		if job.Status != poi.JobRunning {
			return transitionError(job, poi.JobCompleted)
		}
		job.Status = poi.JobCompleted
		job.ResultHandle = handle
		job.EndedAt = &now
		return nil
	})
}

// Fail marks a running job failed.
func (r *Registry) Fail(id, message string) error {
	return r.mutate(id, func(job *poi.Job, now time.Time) error {
		if job.Status != poi.JobRunning {
			return transitionError(job, poi.JobFailed)
		}
		job.Status = poi.JobFailed
		job.Error = message
		job.EndedAt = &now
		return nil
	})
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (poi.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return poi.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// ListByKeyword returns copies of the keyword's jobs, newest first.
func (r *Registry) ListByKeyword(keyword string) []poi.Job {
	r.mu.RLock()
	out := make([]poi.Job, 0)
	for _, job := range r.jobs {
		if job.Keyword == keyword {
			out = append(out, job.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Stats counts jobs by status.
func (r *Registry) Stats() poi.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := poi.Stats{Total: len(r.jobs)}
	for _, job := range r.jobs {
		switch job.Status {
		case poi.JobPending:
			stats.Pending++
		case poi.JobRunning:
			stats.Running++
		case poi.JobCompleted:
			stats.Completed++
		case poi.JobFailed:
			stats.Failed++
		}
	}
	return stats
}

// Reap removes finished jobs whose end time is older than the retention
// window relative to now, and returns how many were removed.
func (r *Registry) Reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		if job.EndedAt != nil && now.Sub(*job.EndedAt) > r.retention {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("reaped finished jobs", zap.Int("removed", removed), zap.Int("remaining", len(r.jobs)))
	}
	return removed
}

func (r *Registry) mutate(id string, fn func(job *poi.Job, now time.Time) error) error {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return fn(job, now)
}

func transitionError(job *poi.Job, to poi.JobStatus) error {
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", ErrInvalidTransition, job.ID, job.Status, to)
}
