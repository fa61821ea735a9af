// Package prefs exposes a preference store as streams of values. Reading a
// key yields its current value followed by every later change to it; writes
// are queued on a scheduler and either applied without acknowledgement or
// committed with a completion signal.
//
// All reads and writes issued through one Preferences run on its scheduler,
// which serializes them. Change notifications raised on other goroutines are
// redispatched onto the same scheduler before they reach observers.
package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gitlab.com/linkinlog/rxprefs/scheduler"
	"gitlab.com/linkinlog/rxprefs/store"
)

type Option func(*Preferences)

// WithScheduler replaces the default serial scheduler. The caller owns it.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(p *Preferences) {
		p.sched = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Preferences) {
		p.log = l
	}
}

type Preferences struct {
	store   *store.Store
	sched   scheduler.Scheduler
	log     *slog.Logger
	changes *changeStream

	owned *scheduler.Serial
}

func New(s *store.Store, opts ...Option) *Preferences {
	p := &Preferences{
		store: s,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.sched == nil {
		serial := scheduler.NewSerial()
		p.sched = serial
		p.owned = serial
	}
	p.changes = newChangeStream(s, p.sched, p.log)

	return p
}

// Close waits for queued work on the default scheduler to finish. It does
// nothing when a scheduler was supplied with WithScheduler.
func (p *Preferences) Close() {
	if p.owned != nil {
		p.owned.Close()
	}
}

func (p *Preferences) Store() *store.Store {
	return p.store
}

// ObserveValue streams the value under key, starting with its current value
// and followed by each committed change. def is emitted while the key is
// absent and fixes the kind the stream accepts: any other stored kind ends
// the stream with store.ErrTypeMismatch.
//
// Both channels are closed when ctx is done or the stream fails; the error
// channel carries at most one error.
func (p *Preferences) ObserveValue(ctx context.Context, key string, def store.Value) (<-chan store.Value, <-chan error) {
	out := make(chan store.Value)
	errs := make(chan error, 1)

	sub := newSubscription()
	go sub.run(ctx, out, errs)

	if def.IsZero() {
		sub.fail(fmt.Errorf("%w: default for %q has no kind", store.ErrUnsupportedType, key))
		return out, errs
	}

	err := p.sched.Schedule(func() {
		if sub.isClosed() {
			return
		}

		// Subscribe before reading so a write landing in between is still
		// delivered; anything not newer than the initial read is dropped.
		var version uint64
		detach := p.changes.subscribe(func(c Change) {
			if c.Key != key || c.Version <= version {
				return
			}

			v := def
			if c.Present {
				v = c.Value
			}
			if v.Kind() != def.Kind() {
				sub.fail(kindMismatch(key, v, def))
				return
			}
			sub.push(v)
		})
		sub.setDetach(detach)

		current, ok, read := p.store.Lookup(key)
		version = read
		if !ok {
			current = def
		}
		if current.Kind() != def.Kind() {
			sub.fail(kindMismatch(key, current, def))
			return
		}

		sub.push(current)
	})
	if err != nil {
		sub.fail(err)
	}

	return out, errs
}

func kindMismatch(key string, got, want store.Value) error {
	return fmt.Errorf("%w: %q holds %s, observed as %s", store.ErrTypeMismatch, key, got.Kind(), want.Kind())
}

// Observe is ObserveValue decoded into T, which must be bool, float32, int32,
// int64, string, store.StringSet, map[string]struct{} or []string. Go's int
// is not one of them: an untyped constant default such as 0 must be
// converted, as in Observe(ctx, p, "n", int32(0)), or the stream fails with
// store.ErrUnsupportedType.
func Observe[T any](ctx context.Context, p *Preferences, key string, def T) (<-chan T, <-chan error) {
	out := make(chan T)
	errs := make(chan error, 1)

	dv, err := toValue(def)
	if err == nil {
		_, err = decode[T](dv)
	}
	if err != nil {
		errs <- err
		close(errs)
		close(out)
		return out, errs
	}

	ctx, cancel := context.WithCancel(ctx)
	values, verrs := p.ObserveValue(ctx, key, dv)

	go func() {
		defer close(errs)
		defer close(out)
		defer cancel()

		for v := range values {
			t, err := decode[T](v)
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}

		if err := <-verrs; err != nil {
			errs <- err
		}
	}()

	return out, errs
}

// Apply builds a batch with fn and applies it on the scheduler without
// waiting. Invalid values and a closed scheduler are reported here and
// nothing is written; a failure to persist the batch is not reported at all.
func (p *Preferences) Apply(fn func(*Editor)) error {
	e := p.edit()
	fn(e)
	if e.err != nil {
		return e.err
	}

	return p.sched.Schedule(e.ed.Apply)
}

// Commit builds a batch with fn and commits it on the scheduler. The
// returned channel receives one result: nil, a validation error (before
// anything is written), scheduler.ErrClosed after Close, or an error
// wrapping store.ErrCommitFailed.
func (p *Preferences) Commit(ctx context.Context, fn func(*Editor)) <-chan error {
	done := make(chan error, 1)

	e := p.edit()
	fn(e)
	if e.err != nil {
		done <- e.err
		close(done)
		return done
	}

	err := p.sched.Schedule(func() {
		err := e.ed.Commit(ctx)
		if err != nil {
			p.log.Warn("commit", "namespace", p.store.Namespace(), "error", err)
		}
		done <- err
		close(done)
	})
	if err != nil {
		done <- err
		close(done)
	}

	return done
}

// Write applies every entry of batch as one fire-and-forget batch.
func (p *Preferences) Write(batch map[string]any) error {
	return p.Apply(func(e *Editor) {
		e.SetAll(batch)
	})
}

// CommitBatch commits every entry of batch as one batch.
func (p *Preferences) CommitBatch(ctx context.Context, batch map[string]any) <-chan error {
	return p.Commit(ctx, func(e *Editor) {
		e.SetAll(batch)
	})
}

// Sink returns a consumer that applies each item under key as its own
// batch. Each item's type decides its encoding.
func Sink[T any](p *Preferences, key string) func(T) error {
	return func(item T) error {
		return p.Apply(func(e *Editor) {
			e.Set(key, item)
		})
	}
}

// Drain feeds items into Sink until the channel closes, ctx is done or an
// item cannot be encoded.
func Drain[T any](ctx context.Context, p *Preferences, key string, items <-chan T) error {
	put := Sink[T](p, key)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if err := put(item); err != nil {
				return err
			}
		}
	}
}

// Editor collects assignments for one batch. The first invalid value is
// kept and fails the whole batch.
type Editor struct {
	ed  *store.Editor
	err error
}

func (p *Preferences) edit() *Editor {
	return &Editor{ed: p.store.Edit()}
}

func (e *Editor) Set(key string, v any) *Editor {
	if e.err != nil {
		return e
	}
	if err := encode(e.ed, key, v); err != nil {
		e.err = fmt.Errorf("set %q: %w", key, err)
	}
	return e
}

// SetAll sets every entry of batch in key order.
func (e *Editor) SetAll(batch map[string]any) *Editor {
	keys := make([]string, 0, len(batch))
	for key := range batch {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		e.Set(key, batch[key])
	}
	return e
}

func (e *Editor) Remove(key string) *Editor {
	e.ed.Remove(key)
	return e
}

func (e *Editor) Clear() *Editor {
	e.ed.Clear()
	return e
}

func (e *Editor) Err() error {
	return e.err
}
