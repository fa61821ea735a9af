package prefs

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"gitlab.com/linkinlog/rxprefs/scheduler"
	"gitlab.com/linkinlog/rxprefs/store"
)

// Change is one key's state right after the commit that touched it.
type Change struct {
	Key     string
	Value   store.Value
	Present bool
	Version uint64
}

// changeStream shares a single store listener registration between any
// number of subscribers. The listener is registered on the first subscribe
// and removed when the last subscriber leaves.
type changeStream struct {
	store *store.Store
	sched scheduler.Scheduler
	log   *slog.Logger

	lock        *sync.Mutex
	subscribers map[uuid.UUID]func(Change)
}

func newChangeStream(s *store.Store, sched scheduler.Scheduler, log *slog.Logger) *changeStream {
	return &changeStream{
		store:       s,
		sched:       sched,
		log:         log,
		lock:        &sync.Mutex{},
		subscribers: make(map[uuid.UUID]func(Change)),
	}
}

// OnPreferenceChanged runs on whichever goroutine committed. The snapshot is
// read there and published from the scheduler.
func (c *changeStream) OnPreferenceChanged(s *store.Store, key string) {
	v, ok, version := s.Lookup(key)
	change := Change{Key: key, Value: v, Present: ok, Version: version}

	err := c.sched.Schedule(func() {
		c.publish(change)
	})
	if err != nil {
		c.log.Debug("change dropped", "namespace", s.Namespace(), "key", key, "error", err)
	}
}

func (c *changeStream) publish(change Change) {
	c.lock.Lock()
	subscribers := make([]func(Change), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.lock.Unlock()

	for _, fn := range subscribers {
		fn(change)
	}
}

// subscribe attaches fn and returns an idempotent detach func.
func (c *changeStream) subscribe(fn func(Change)) func() {
	id := uuid.New()

	c.lock.Lock()
	c.subscribers[id] = fn
	if len(c.subscribers) == 1 {
		c.store.RegisterListener(c)
		c.log.Debug("change stream registered", "namespace", c.store.Namespace())
	}
	c.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lock.Lock()
			defer c.lock.Unlock()

			delete(c.subscribers, id)
			if len(c.subscribers) == 0 {
				c.store.UnregisterListener(c)
				c.log.Debug("change stream unregistered", "namespace", c.store.Namespace())
			}
		})
	}
}

func (c *changeStream) subscriberCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.subscribers)
}
