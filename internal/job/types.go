package job

import (
	"context"
	"time"

	"quiltmaker/internal/pipeline"
	"quiltmaker/internal/progress"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is a snapshot of one submitted quilt job.
type Job struct {
	ID         string           `json:"id"`
	Status     Status           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Request    pipeline.Request `json:"request"`
	Progress   *progress.Event  `json:"progress,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Done reports whether the job will not change anymore.
func (j Job) Done() bool { return j.Status == StatusSucceeded || j.Status == StatusFailed }

// Runner executes a job's pipeline; *pipeline.Runner is the production one.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink progress.Sink) (pipeline.Result, error)
}

type Options struct {
	MaxConcurrentJobs int
	Runner            Runner
}

const defaultMaxConcurrent = 1
