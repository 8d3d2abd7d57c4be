package job

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quiltmaker/internal/pipeline"
	"quiltmaker/internal/progress"
)

// Manager keeps jobs in memory and runs them in the background, at most
// MaxConcurrentJobs at a time.
type Manager struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	order     []string
	semaphore chan struct{}
	runner    Runner
	workersWG sync.WaitGroup
	baseCtx   context.Context
}

// entry is the mutable state behind a Job; guarded by Manager.mu.
type entry struct {
	job     Job
	history []progress.Event
	changed *sync.Cond
}

// NewManager creates a manager with default options suitable for tests
func NewManager() *Manager {
	return NewManagerWithOptions(Options{MaxConcurrentJobs: defaultMaxConcurrent})
}

// NewManagerWithOptions creates a manager with provided configuration
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = defaultMaxConcurrent
	}
	runner := opts.Runner
	if runner == nil {
		runner = &pipeline.Runner{}
	}
	return &Manager{
		jobs:      make(map[string]*entry),
		semaphore: make(chan struct{}, opts.MaxConcurrentJobs),
		runner:    runner,
		baseCtx:   context.Background(),
	}
}

// IsBusy reports whether the system is currently at max concurrent processing
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// Submit validates req, registers a job and starts it in the background.
// It returns ErrBusy when every processing slot is taken.
func (m *Manager) Submit(req pipeline.Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Folders) == 0 {
		if info, err := os.Stat(req.SortedFolder); err != nil || !info.IsDir() {
			return nil, ErrNoSource
		}
	}

	// acquire the slot synchronously so IsBusy reflects the new job at once
	select {
	case m.semaphore <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	e := &entry{job: Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		Request:   req,
	}}
	e.changed = sync.NewCond(&m.mu)

	m.mu.Lock()
	m.jobs[e.job.ID] = e
	m.order = append(m.order, e.job.ID)
	ctx := m.baseCtx
	snapshot := e.job
	m.mu.Unlock()

	log.Info().Str("job_id", snapshot.ID).Str("sorted_folder", req.SortedFolder).Str("output_folder", req.OutputFolder).Msg("job submitted")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.process(ctx, e)
	}()
	return &snapshot, nil
}

// GetJob returns a snapshot of the job.
func (m *Manager) GetJob(jobID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, found := m.jobs[jobID]
	if !found {
		return nil, false
	}
	snapshot := e.job
	return &snapshot, true
}

// List returns snapshots of all jobs in submission order.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id].job)
	}
	return out
}

// SetBaseContext sets the base context used to control running jobs.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight job workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) process(ctx context.Context, e *entry) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	e.job.Status = StatusRunning
	jobID := e.job.ID
	req := e.job.Request
	m.mu.Unlock()

	logger := log.With().Str("job_id", jobID).Logger()
	logger.Info().Msg("job started")

	sink := progress.SinkFunc(func(ev progress.Event) { m.record(e, ev) })
	result, err := m.runner.Run(logger.WithContext(ctx), req, sink)

	m.mu.Lock()
	finished := time.Now()
	e.job.FinishedAt = &finished
	e.job.Result = &result
	if err != nil {
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	} else {
		e.job.Status = StatusSucceeded
	}
	e.changed.Broadcast()
	m.mu.Unlock()

	if err != nil {
		logger.Warn().Err(err).Msg("job failed")
		return
	}
	logger.Info().Int("quilts", len(result.Compose.Quilts)).Msg("job finished")
}

func (m *Manager) record(e *entry, ev progress.Event) {
	m.mu.Lock()
	e.history = append(e.history, ev)
	last := ev
	e.job.Progress = &last
	e.changed.Broadcast()
	m.mu.Unlock()
}
