package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageJobStart   Stage = "JOB_START"
	StageRegionDone Stage = "REGION_DONE"
	StageJobDone    Stage = "JOB_DONE"
	StageJobError   Stage = "JOB_ERROR"
)

// Event is one step of a bulk-search job.
type Event struct {
	JobID   string    `json:"jobId"`
	TS      time.Time `json:"ts"`
	Stage   Stage     `json:"stage"`
	Keyword string    `json:"keyword,omitempty"`
	// Region is set on REGION_DONE.
	Region string `json:"region,omitempty"`
	// Count is the region's record count, or the job total on JOB_DONE.
	Count   int           `json:"count"`
	Current int           `json:"current"`
	Total   int           `json:"total"`
	Dur     time.Duration `json:"durMs"`
	// Note holds error text for failed regions and jobs.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageRegionDone:
		if e.Region == "" {
			return errors.New("region done requires region")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Current < 0 || e.Total < 0 || e.Current > e.Total {
		return fmt.Errorf("progress %d/%d out of range", e.Current, e.Total)
	}
	return nil
}
