package prefs

import (
	"context"
	"sync"

	"gitlab.com/linkinlog/rxprefs/store"
)

// subscription buffers values for one observer so that publishing on the
// scheduler never waits on a slow reader.
type subscription struct {
	lock    *sync.Mutex
	pending []store.Value
	err     error
	ended   bool
	closed  bool
	detach  func()
	wake    chan struct{}
}

func newSubscription() *subscription {
	return &subscription{
		lock: &sync.Mutex{},
		wake: make(chan struct{}, 1),
	}
}

func (s *subscription) push(v store.Value) {
	s.lock.Lock()
	if s.ended || s.closed {
		s.lock.Unlock()
		return
	}
	s.pending = append(s.pending, v)
	s.lock.Unlock()

	s.signal()
}

// fail ends the subscription with err after the values already pushed.
func (s *subscription) fail(err error) {
	s.lock.Lock()
	if s.ended || s.closed {
		s.lock.Unlock()
		return
	}
	s.ended = true
	s.err = err
	s.lock.Unlock()

	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.closed
}

// setDetach records how to leave the change stream. If the reader is
// already gone, fn runs right away.
func (s *subscription) setDetach(fn func()) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		fn()
		return
	}
	s.detach = fn
	s.lock.Unlock()
}

// run delivers pending values to out until the subscription ends or ctx is
// done, then closes both channels.
func (s *subscription) run(ctx context.Context, out chan<- store.Value, errs chan<- error) {
	defer close(errs)
	defer close(out)
	defer func() {
		s.lock.Lock()
		s.closed = true
		detach := s.detach
		s.detach = nil
		s.pending = nil
		s.lock.Unlock()

		if detach != nil {
			detach()
		}
	}()

	for {
		s.lock.Lock()
		batch := s.pending
		s.pending = nil
		ended, err := s.ended, s.err
		s.lock.Unlock()

		for _, v := range batch {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}

		if ended {
			if err != nil {
				errs <- err
			}
			return
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}
