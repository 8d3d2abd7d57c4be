// Package progress carries quilt job status events from the pipeline to
// whoever observes it, such as the job manager or the CLI.
package progress

import (
	"encoding/json"
	"fmt"
	"sync"
)

type Status int

const (
	StatusInProgress Status = iota
	StatusFinished
	StatusCreatingAnimation
	StatusCreatedAnimation
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusFinished:
		return "finished"
	case StatusCreatingAnimation:
		return "creating_animation"
	case StatusCreatedAnimation:
		return "created_animation"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for _, candidate := range []Status{StatusInProgress, StatusFinished, StatusCreatingAnimation, StatusCreatedAnimation, StatusFailed} {
		if candidate.String() == str {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", str)
}

// Event is one entry of the progress stream.
type Event struct {
	Amount int    `json:"amount"`
	Index  int    `json:"index"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Sink receives events in emission order. Implementations must not block for long.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps every emitted event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of what has been recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
