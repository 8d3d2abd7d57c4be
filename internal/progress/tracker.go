package progress

import (
	"errors"
	"sync"
)

var (
	ErrClosed     = errors.New("progress: job already reached a terminal state")
	ErrOutOfOrder = errors.New("progress: transition not allowed from current state")
)

// QuiltJob is the in-memory progress record of one composition run.
type QuiltJob struct {
	Amount int    `json:"amount"`
	Index  int    `json:"index"`
	Status Status `json:"status"`
}

// Tracker owns a QuiltJob and turns its transitions into events. The index
// never decreases, and once Failed or CreatedAnimation is reached nothing else
// is emitted.
type Tracker struct {
	emitMu  sync.Mutex // keeps events in transition order
	mu      sync.Mutex
	sink    Sink
	job     QuiltJob
	started bool
	closed  bool
}

func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = Discard
	}
	return &Tracker{sink: sink}
}

// Snapshot returns the current record.
func (t *Tracker) Snapshot() QuiltJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// Start announces how many quilts will be produced.
func (t *Tracker) Start(amount int) error {
	return t.transition(func(j *QuiltJob) error {
		if t.started {
			return ErrOutOfOrder
		}
		t.started = true
		*j = QuiltJob{Amount: amount, Index: 0, Status: StatusInProgress}
		return nil
	}, "")
}

// Advance records one more finished quilt.
func (t *Tracker) Advance() error {
	return t.transition(func(j *QuiltJob) error {
		if !t.started || j.Status != StatusInProgress || j.Index >= j.Amount {
			return ErrOutOfOrder
		}
		j.Index++
		return nil
	}, "")
}

// Finish marks composition complete.
func (t *Tracker) Finish() error {
	return t.transition(func(j *QuiltJob) error {
		if !t.started || j.Status != StatusInProgress {
			return ErrOutOfOrder
		}
		j.Index = j.Amount
		j.Status = StatusFinished
		return nil
	}, "")
}

func (t *Tracker) CreatingAnimation() error {
	return t.transition(func(j *QuiltJob) error {
		if j.Status != StatusFinished {
			return ErrOutOfOrder
		}
		j.Status = StatusCreatingAnimation
		return nil
	}, "")
}

func (t *Tracker) CreatedAnimation() error {
	return t.transition(func(j *QuiltJob) error {
		if j.Status != StatusCreatingAnimation {
			return ErrOutOfOrder
		}
		j.Status = StatusCreatedAnimation
		t.closed = true
		return nil
	}, "")
}

// Fail ends the job with a reason. Allowed from any non-terminal state,
// including before Start.
func (t *Tracker) Fail(reason string) error {
	return t.transition(func(j *QuiltJob) error {
		j.Status = StatusFailed
		t.closed = true
		return nil
	}, reason)
}

func (t *Tracker) transition(apply func(*QuiltJob) error, reason string) error {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if err := apply(&t.job); err != nil {
		t.mu.Unlock()
		return err
	}
	ev := Event{Amount: t.job.Amount, Index: t.job.Index, Status: t.job.Status, Reason: reason}
	t.mu.Unlock()
	t.sink.Emit(ev)
	return nil
}

// IsTerminal reports whether no further events follow e.
// Finished is terminal only when no animation was requested.
func IsTerminal(e Event, animation bool) bool {
	switch e.Status {
	case StatusFailed, StatusCreatedAnimation:
		return true
	case StatusFinished:
		return !animation
	default:
		return false
	}
}
