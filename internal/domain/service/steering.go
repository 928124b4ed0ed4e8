package service

import (
	"sync"

	"github.com/vtcode/vtcode/internal/domain/entity"
)

// SteeringInbox is the only concurrent producer into the otherwise
// single-owner session state. Keyboard and signal handlers push; the run
// loop polls at well-defined points.
type SteeringInbox struct {
	mu      sync.Mutex
	queue   []entity.SteeringSignal
	wakeup  chan struct{}
	stopped bool
}

// NewSteeringInbox creates an empty inbox.
func NewSteeringInbox() *SteeringInbox {
	return &SteeringInbox{wakeup: make(chan struct{}, 1)}
}

// Push enqueues a steering signal. Safe for concurrent use.
func (s *SteeringInbox) Push(signal entity.SteeringSignal) {
	s.mu.Lock()
	s.queue = append(s.queue, signal)
	if signal.Kind == entity.SteerStop {
		s.stopped = true
	}
	s.mu.Unlock()

	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Poll returns the next signal without blocking.
func (s *SteeringInbox) Poll() (entity.SteeringSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return entity.SteeringSignal{}, false
	}
	signal := s.queue[0]
	s.queue = s.queue[1:]
	return signal, true
}

// Stopped reports whether a Stop signal has ever been pushed.
func (s *SteeringInbox) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Wait blocks until a signal arrives. Used only by the pause loop, where no
// other work may advance.
func (s *SteeringInbox) Wait() {
	<-s.wakeup
}
