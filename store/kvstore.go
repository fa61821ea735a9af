package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"gitlab.com/linkinlog/rxprefs/env"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*Store)

// WithPersister makes every commit and apply durable through p.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

func WithTelemetry(enabled bool) Option {
	return func(s *Store) {
		s.telemetry = enabled
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Store is a namespaced preference map. Reads are safe from any goroutine;
// writes go through an Editor and are serialized.
type Store struct {
	namespace string

	lock    *sync.RWMutex
	m       map[string]Value
	version uint64

	// held for the whole of a commit, including listener notification
	writeLock *sync.Mutex

	listenerLock *sync.Mutex
	listeners    map[Listener]struct{}

	persister Persister
	telemetry bool
	log       *slog.Logger

	commits       metric.Int64Counter
	failures      metric.Int64Counter
	notifications metric.Int64Counter
}

func New(namespace string, opts ...Option) *Store {
	s := &Store{
		namespace:    namespace,
		lock:         &sync.RWMutex{},
		m:            make(map[string]Value),
		writeLock:    &sync.Mutex{},
		listenerLock: &sync.Mutex{},
		listeners:    make(map[Listener]struct{}),
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.telemetry {
		meter := otel.GetMeterProvider().Meter(env.ServiceName())
		s.commits, _ = meter.Int64Counter("prefs.commits",
			metric.WithDescription("Preference batches written"))
		s.failures, _ = meter.Int64Counter("prefs.commit.failures",
			metric.WithDescription("Preference batches that failed to persist"))
		s.notifications, _ = meter.Int64Counter("prefs.notifications",
			metric.WithDescription("Change notifications delivered to listeners"))
	}

	return s
}

func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) Get(key string) (Value, bool) {
	var sp trace.Span
	if s.telemetry {
		tr := otel.GetTracerProvider().Tracer(env.ServiceName())

		_, sp = tr.Start(context.Background(),
			fmt.Sprintf("Get(%s)", key),
			trace.WithAttributes(attribute.String("namespace", s.namespace)),
			trace.WithAttributes(attribute.String("key", key)),
		)
		defer sp.End()
	}

	v, ok, _ := s.Lookup(key)

	if s.telemetry && sp != nil {
		sp.SetAttributes(attribute.Bool("found", ok))
	}

	return v, ok
}

// Lookup returns the value under key together with the version of the
// commit that produced the current snapshot.
func (s *Store) Lookup(key string) (Value, bool, uint64) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.m[key]
	return v, ok, s.version
}

func (s *Store) Contains(key string) bool {
	_, ok, _ := s.Lookup(key)
	return ok
}

// All returns a copy of every entry.
func (s *Store) All() map[string]Value {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return maps.Clone(s.m)
}

func (s *Store) GetBool(key string, def bool) (bool, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	if b, ok := v.AsBool(); ok {
		return b, nil
	}
	return def, mismatch(key, v, KindBool)
}

func (s *Store) GetFloat(key string, def float32) (float32, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	if f, ok := v.AsFloat(); ok {
		return f, nil
	}
	return def, mismatch(key, v, KindFloat)
}

func (s *Store) GetInt(key string, def int32) (int32, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	if i, ok := v.AsInt(); ok {
		return i, nil
	}
	return def, mismatch(key, v, KindInt)
}

func (s *Store) GetLong(key string, def int64) (int64, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	if l, ok := v.AsLong(); ok {
		return l, nil
	}
	return def, mismatch(key, v, KindLong)
}

func (s *Store) GetString(key string, def string) (string, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	if str, ok := v.AsString(); ok {
		return str, nil
	}
	return def, mismatch(key, v, KindString)
}

func (s *Store) GetStringSet(key string, def StringSet) (StringSet, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	if set, ok := v.AsSet(); ok {
		return set, nil
	}
	return def, mismatch(key, v, KindStringSet)
}

func mismatch(key string, v Value, want Kind) error {
	return fmt.Errorf("%w: %q holds %s, not %s", ErrTypeMismatch, key, v.Kind(), want)
}

func (s *Store) RegisterListener(l Listener) {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()

	s.listeners[l] = struct{}{}
}

func (s *Store) UnregisterListener(l Listener) {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()

	delete(s.listeners, l)
}

func (s *Store) ListenerCount() int {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()

	return len(s.listeners)
}

// notify must be called with writeLock held. Listeners must not edit the
// store from inside the callback.
func (s *Store) notify(keys []string) {
	if len(keys) == 0 {
		return
	}

	s.listenerLock.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerLock.Unlock()

	for _, key := range keys {
		for _, l := range listeners {
			l.OnPreferenceChanged(s, key)
		}
	}

	if s.telemetry && s.notifications != nil {
		s.notifications.Add(context.Background(), int64(len(keys)*len(listeners)),
			metric.WithAttributes(attribute.String("namespace", s.namespace)))
	}
}

func (s *Store) swap(next map[string]Value) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.m = next
	s.version++
}

// Replay loads a transaction log into the store without notifying listeners
// or persisting anything.
func (s *Store) Replay(events <-chan Event, errs <-chan error) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.lock.Lock()
	defer s.lock.Unlock()

	for events != nil || errs != nil {
		select {
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch e.EventType {
			case EventPut:
				s.m[e.Key] = e.Value
			case EventDelete:
				delete(s.m, e.Key)
			case EventClear:
				clear(s.m)
			default:
				return fmt.Errorf("replay: unknown event type %d", e.EventType)
			}
		}
	}

	return nil
}

type edit struct {
	key    string
	value  Value
	remove bool
}

// Editor collects changes that are written together by Apply or Commit.
type Editor struct {
	s     *Store
	clear bool
	edits []edit
}

func (s *Store) Edit() *Editor {
	return &Editor{s: s}
}

func (e *Editor) Put(key string, v Value) *Editor {
	e.edits = append(e.edits, edit{key: key, value: v})
	return e
}

func (e *Editor) Remove(key string) *Editor {
	e.edits = append(e.edits, edit{key: key, remove: true})
	return e
}

// Clear removes every entry before the other edits are applied, no matter
// where in the chain it is called.
func (e *Editor) Clear() *Editor {
	e.clear = true
	return e
}

// prepare computes the next snapshot, the changed keys in edit order and the
// events to persist. Callers hold writeLock.
func (e *Editor) prepare() (map[string]Value, []string, []Event) {
	prev := e.s.All()
	next := maps.Clone(prev)

	var events []Event
	var cleared []string
	if e.clear {
		for key := range next {
			cleared = append(cleared, key)
		}
		sort.Strings(cleared)
		clear(next)
		events = append(events, Event{EventType: EventClear})
	}

	var order []string
	seen := make(map[string]bool)
	for _, ed := range e.edits {
		if ed.remove {
			delete(next, ed.key)
		} else {
			next[ed.key] = ed.value
		}
		if !seen[ed.key] {
			seen[ed.key] = true
			order = append(order, ed.key)
		}
	}
	for _, key := range cleared {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}

	var changed []string
	for _, key := range order {
		before, had := prev[key]
		after, has := next[key]
		differs := has != had || (has && !before.Equal(after))
		switch {
		case has && (differs || e.clear):
			// a clear wipes the log, so survivors are written again
			events = append(events, Event{EventType: EventPut, Key: key, Value: after})
		case !has && had && !e.clear:
			events = append(events, Event{EventType: EventDelete, Key: key})
		}
		if differs {
			changed = append(changed, key)
		}
	}

	return next, changed, events
}

// Apply writes the changes to memory immediately and persists them in the
// background. Persistence failures are logged and otherwise lost.
func (e *Editor) Apply() {
	s := e.s
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	next, changed, events := e.prepare()
	if len(events) == 0 {
		return
	}

	s.swap(next)
	s.countCommit()

	if s.persister != nil {
		done := s.persister.Persist(events)
		go func() {
			if err := <-done; err != nil {
				s.countFailure()
				s.log.Error("apply", "namespace", s.namespace, "error", err)
			}
		}()
	}

	s.notify(changed)
}

// Commit persists the changes and only then makes them visible. On failure
// the in-memory state is left untouched.
func (e *Editor) Commit(ctx context.Context) error {
	s := e.s
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	var sp trace.Span
	if s.telemetry {
		tr := otel.GetTracerProvider().Tracer(env.ServiceName())

		_, sp = tr.Start(ctx,
			fmt.Sprintf("Commit(%s)", s.namespace),
			trace.WithAttributes(attribute.Int("edits", len(e.edits))),
			trace.WithAttributes(attribute.Bool("clear", e.clear)),
		)
		defer sp.End()
	}

	next, changed, events := e.prepare()
	if len(events) == 0 {
		return nil
	}

	if s.persister != nil {
		if err := <-s.persister.Persist(events); err != nil {
			s.countFailure()
			if s.telemetry && sp != nil {
				sp.SetAttributes(attribute.Bool("success", false))
			}
			return fmt.Errorf("%w: %w", ErrCommitFailed, err)
		}
	}

	s.swap(next)
	s.countCommit()

	if s.telemetry && sp != nil {
		sp.SetAttributes(attribute.Bool("success", true))
	}

	s.notify(changed)

	return nil
}

func (s *Store) countCommit() {
	if s.telemetry && s.commits != nil {
		s.commits.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("namespace", s.namespace)))
	}
}

func (s *Store) countFailure() {
	if s.telemetry && s.failures != nil {
		s.failures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("namespace", s.namespace)))
	}
}
