// Package scheduler provides the execution contexts preference reads and
// writes run on.
package scheduler

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("scheduler closed")

// Scheduler runs units of work. Schedule returns an error instead of
// queueing when the scheduler no longer accepts tasks.
type Scheduler interface {
	Schedule(task func()) error
}

// Inline runs every task on the goroutine that schedules it.
type Inline struct{}

func (Inline) Schedule(task func()) error {
	task()
	return nil
}

// Serial runs tasks one at a time, in the order they were scheduled, on a
// single background goroutine. Scheduling never blocks, so a running task may
// schedule more work.
type Serial struct {
	lock   *sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func NewSerial() *Serial {
	lock := &sync.Mutex{}
	s := &Serial{
		lock: lock,
		cond: sync.NewCond(lock),
		done: make(chan struct{}),
	}

	go s.run()

	return s
}

// Schedule queues task. After Close it returns ErrClosed and task never runs.
func (s *Serial) Schedule(task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.queue = append(s.queue, task)
	s.cond.Signal()
	return nil
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (s *Serial) Close() {
	s.lock.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Signal()
	}
	s.lock.Unlock()

	<-s.done
}

func (s *Serial) run() {
	defer close(s.done)

	for {
		s.lock.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.lock.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.lock.Unlock()

		task()
	}
}
