package poi

import "time"

// JobStatus is the lifecycle state of a bulk-search job.
type JobStatus string

// Job lifecycle states. Transitions only run pending -> running -> completed|failed.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Progress tracks how many regions of a job have finished.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// RegionSummary records the result count of one finished region.
type RegionSummary struct {
	Region string `json:"region"`
	Count  int    `json:"count"`
}

// Job is a snapshot of one bulk-search run.
type Job struct {
	ID           string          `json:"id"`
	Keyword      string          `json:"keyword"`
	Status       JobStatus       `json:"status"`
	Progress     Progress        `json:"progress"`
	Regions      []string        `json:"regions"`
	TotalResults int             `json:"totalResults"`
	Results      []RegionSummary `json:"results"`
	Error        string          `json:"error,omitempty"`
	ResultHandle string          `json:"resultHandle,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startTime,omitempty"`
	EndedAt      *time.Time      `json:"endTime,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (j Job) Clone() Job {
	out := j
	out.Regions = make([]string, len(j.Regions))
	copy(out.Regions, j.Regions)
	out.Results = make([]RegionSummary, len(j.Results))
	copy(out.Results, j.Results)
	if j.StartedAt != nil {
		started := *j.StartedAt
		out.StartedAt = &started
	}
	if j.EndedAt != nil {
		ended := *j.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// Stats counts registered jobs by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Percentage rounds current/total to a whole percent. A job with no regions
// is reported as complete.
func Percentage(current, total int) int {
	if total <= 0 {
		return 100
	}
	return (current*200 + total) / (total * 2)
}
