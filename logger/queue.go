package logger

import (
	"errors"
	"sync"

	"gitlab.com/linkinlog/rxprefs/store"
)

var ErrNotRunning = errors.New("transaction logger is not running")

type batch struct {
	events []store.Event
	done   chan error
}

// queue hands batches to a single writer goroutine so that persisted order
// matches commit order.
type queue struct {
	lock    sync.Mutex
	batches chan batch
	errors  chan error
	stopped chan struct{}
	closed  bool
}

func (q *queue) start(write func([]store.Event) error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.batches != nil || q.closed {
		return
	}

	batches := make(chan batch, 16)
	errs := make(chan error, 1)
	stopped := make(chan struct{})
	q.batches, q.errors, q.stopped = batches, errs, stopped

	go func() {
		defer close(stopped)

		for b := range batches {
			err := write(b.events)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
			}
			b.done <- err
		}
	}()
}

func (q *queue) persist(events []store.Event) <-chan error {
	done := make(chan error, 1)

	q.lock.Lock()
	defer q.lock.Unlock()

	if q.batches == nil || q.closed {
		done <- ErrNotRunning
		return done
	}

	q.batches <- batch{events: events, done: done}
	return done
}

func (q *queue) err() <-chan error {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.errors
}

// stop waits for queued batches to be written.
func (q *queue) stop() {
	q.lock.Lock()
	if q.batches != nil && !q.closed {
		close(q.batches)
	}
	q.closed = true
	stopped := q.stopped
	q.lock.Unlock()

	if stopped != nil {
		<-stopped
	}
}
