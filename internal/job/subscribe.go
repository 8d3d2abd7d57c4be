package job

import (
	"sync"

	"quiltmaker/internal/progress"
)

// Subscribe returns a channel carrying every event of the job from the first
// one on: past events are replayed, then live events follow. The channel is
// closed once the job is done and all events were delivered, or after cancel
// is called. Slow readers never block the job.
func (m *Manager) Subscribe(jobID string) (<-chan progress.Event, func(), error) {
	m.mu.RLock()
	e, found := m.jobs[jobID]
	m.mu.RUnlock()
	if !found {
		return nil, nil, ErrJobNotFound
	}

	out := make(chan progress.Event)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			m.mu.Lock()
			e.changed.Broadcast()
			m.mu.Unlock()
		})
	}

	go func() {
		defer close(out)
		next := 0
		for {
			m.mu.Lock()
			for next == len(e.history) && !e.job.Done() && !stopped(stop) {
				e.changed.Wait()
			}
			pending := append([]progress.Event(nil), e.history[next:]...)
			done := e.job.Done()
			m.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					next++
				case <-stop:
					return
				}
			}
			if stopped(stop) || (done && len(pending) == 0) {
				return
			}
		}
	}()
	return out, cancel, nil
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
