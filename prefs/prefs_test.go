package prefs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/linkinlog/rxprefs/scheduler"
	"gitlab.com/linkinlog/rxprefs/store"
)

const waitTimeout = 2 * time.Second

type failingPersister struct{}

func (failingPersister) Persist(_ []store.Event) <-chan error {
	done := make(chan error, 1)
	done <- errors.New("disk full")
	return done
}

func newTestPrefs(t *testing.T, opts ...store.Option) (*Preferences, *store.Store) {
	t.Helper()
	s := store.New("test", opts...)
	p := New(s)
	t.Cleanup(p.Close)
	return p, s
}

func next[T any](t *testing.T, values <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-values:
		require.True(t, ok, "stream closed early")
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func assertQuiet[T any](t *testing.T, values <-chan T) {
	t.Helper()
	select {
	case v, ok := <-values:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func terminalError[T any](t *testing.T, values <-chan T, errs <-chan error) error {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-values:
			if !ok {
				select {
				case err := <-errs:
					return err
				case <-deadline:
					t.Fatal("timed out waiting for error")
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream to end")
		}
	}
}

func commit(t *testing.T, p *Preferences, batch map[string]any) {
	t.Helper()
	select {
	case err := <-p.CommitBatch(context.Background(), batch):
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for commit")
	}
}

func roundTrip[T any](t *testing.T, p *Preferences, key string, v, def T) {
	t.Helper()
	commit(t, p, map[string]any{key: v})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, key, def)
	assert.Equal(t, v, next(t, values))
}

func TestRoundTrip(t *testing.T) {
	p, _ := newTestPrefs(t)

	t.Run("bool", func(t *testing.T) { roundTrip(t, p, "bool", true, false) })
	t.Run("float", func(t *testing.T) { roundTrip(t, p, "float", float32(1.5), float32(0)) })
	t.Run("int", func(t *testing.T) { roundTrip(t, p, "int", int32(42), int32(0)) })
	t.Run("long", func(t *testing.T) { roundTrip(t, p, "long", int64(1)<<40, int64(0)) })
	t.Run("string", func(t *testing.T) { roundTrip(t, p, "string", "bar", "") })
	t.Run("set", func(t *testing.T) {
		roundTrip(t, p, "strs", store.NewStringSet("foo", "bar"), store.NewStringSet("x"))
	})
	t.Run("slice", func(t *testing.T) {
		roundTrip(t, p, "slice", []string{"a", "b"}, []string{"x"})
	})
}

func TestObserveBeforeWrite(t *testing.T) {
	p, _ := newTestPrefs(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "int", int32(0))
	assert.Equal(t, int32(0), next(t, values))

	require.NoError(t, p.Write(map[string]any{
		"int": int32(1),
		"str": "bar",
	}))

	assert.Equal(t, int32(1), next(t, values))
	assertQuiet(t, values)
}

func TestObserveAfterWrite(t *testing.T) {
	p, _ := newTestPrefs(t)
	commit(t, p, map[string]any{"int": int32(1)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "int", int32(0))
	assert.Equal(t, int32(1), next(t, values))
	assertQuiet(t, values)

	commit(t, p, map[string]any{"int": int32(2)})
	assert.Equal(t, int32(2), next(t, values))
}

func TestObserveCommitOrder(t *testing.T) {
	p, _ := newTestPrefs(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "str", "")
	assert.Equal(t, "", next(t, values))

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, p.Write(map[string]any{"str": s}))
	}

	assert.Equal(t, "a", next(t, values))
	assert.Equal(t, "b", next(t, values))
	assert.Equal(t, "c", next(t, values))
}

func TestMultipleObservers(t *testing.T) {
	p, s := newTestPrefs(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strs, _ := Observe(ctx, p, "str", "foo")
	ints, _ := Observe(ctx, p, "int", int32(0))
	moreInts, _ := Observe(ctx, p, "int", int32(0))

	assert.Equal(t, "foo", next(t, strs))
	assert.Equal(t, int32(0), next(t, ints))
	assert.Equal(t, int32(0), next(t, moreInts))
	assert.Equal(t, 1, s.ListenerCount())

	require.NoError(t, p.Write(map[string]any{
		"int": int32(1),
		"str": "bar",
	}))

	assert.Equal(t, "bar", next(t, strs))
	assert.Equal(t, int32(1), next(t, ints))
	assert.Equal(t, int32(1), next(t, moreInts))
	assertQuiet(t, strs)
	assertQuiet(t, ints)
}

func TestDisposeReleasesListener(t *testing.T) {
	p, s := newTestPrefs(t)

	first, cancelFirst := context.WithCancel(context.Background())
	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()

	a, _ := Observe(first, p, "int", int32(0))
	b, _ := Observe(second, p, "int", int32(0))
	next(t, a)
	next(t, b)
	require.Equal(t, 1, s.ListenerCount())

	cancelFirst()
	cancelFirst()
	require.Eventually(t, func() bool { return p.changes.subscriberCount() == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, s.ListenerCount())

	require.NoError(t, p.Write(map[string]any{"int": int32(7)}))
	assert.Equal(t, int32(7), next(t, b))

	cancelSecond()
	require.Eventually(t, func() bool { return s.ListenerCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestEmptySetRemovesKey(t *testing.T) {
	p, s := newTestPrefs(t)
	commit(t, p, map[string]any{"strs": store.NewStringSet("foo")})
	require.True(t, s.Contains("strs"))

	commit(t, p, map[string]any{"strs": store.StringSet{}})
	assert.False(t, s.Contains("strs"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	def := store.NewStringSet("default")
	values, _ := Observe(ctx, p, "strs", def)
	assert.Equal(t, def, next(t, values))
}

func TestRemovedKeyEmitsDefault(t *testing.T) {
	p, _ := newTestPrefs(t)
	commit(t, p, map[string]any{"str": "bar"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "str", "foo")
	assert.Equal(t, "bar", next(t, values))

	select {
	case err := <-p.Commit(ctx, func(e *Editor) { e.Remove("str") }):
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for commit")
	}
	assert.Equal(t, "foo", next(t, values))
}

func TestSetNotStrings(t *testing.T) {
	p, s := newTestPrefs(t)
	commit(t, p, map[string]any{"ints": store.NewStringSet("prior")})

	err := <-p.CommitBatch(context.Background(), map[string]any{"ints": []any{0, 1}})
	require.ErrorIs(t, err, store.ErrUnsupportedType)

	got, err := s.GetStringSet("ints", nil)
	require.NoError(t, err)
	assert.Equal(t, store.NewStringSet("prior"), got)

	err = p.Write(map[string]any{"ints": map[any]struct{}{1: {}}})
	assert.ErrorIs(t, err, store.ErrUnsupportedType)
}

func TestUnsupportedValue(t *testing.T) {
	p, s := newTestPrefs(t)

	err := <-p.CommitBatch(context.Background(), map[string]any{
		"a": "fine",
		"b": 3.14,
	})
	require.ErrorIs(t, err, store.ErrUnsupportedType)
	assert.False(t, s.Contains("a"), "nothing in a failed batch is written")

	values, errs := Observe(context.Background(), p, "c", 3.14)
	assert.ErrorIs(t, terminalError(t, values, errs), store.ErrUnsupportedType)
}

func TestWrongType(t *testing.T) {
	p, _ := newTestPrefs(t)
	commit(t, p, map[string]any{"int": int32(1)})

	values, errs := Observe(context.Background(), p, "int", "")
	assert.ErrorIs(t, terminalError(t, values, errs), store.ErrTypeMismatch)
}

func TestWrongTypeAfterChange(t *testing.T) {
	p, s := newTestPrefs(t)

	values, errs := Observe(context.Background(), p, "int", int32(0))
	assert.Equal(t, int32(0), next(t, values))

	require.NoError(t, p.Write(map[string]any{"int": "not a number"}))
	assert.ErrorIs(t, terminalError(t, values, errs), store.ErrTypeMismatch)
	require.Eventually(t, func() bool { return s.ListenerCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestSink(t *testing.T) {
	p, _ := newTestPrefs(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "int", int32(0))
	assert.Equal(t, int32(0), next(t, values))

	items := make(chan int32, 3)
	items <- 1
	items <- 2
	items <- 3
	close(items)
	require.NoError(t, Drain(ctx, p, "int", items))

	assert.Equal(t, int32(1), next(t, values))
	assert.Equal(t, int32(2), next(t, values))
	assert.Equal(t, int32(3), next(t, values))
}

func TestSinkUnsupported(t *testing.T) {
	p, _ := newTestPrefs(t)

	put := Sink[float64](p, "f")
	assert.ErrorIs(t, put(1.5), store.ErrUnsupportedType)
}

func TestCommitFailure(t *testing.T) {
	p, s := newTestPrefs(t, store.WithPersister(failingPersister{}))

	err := <-p.CommitBatch(context.Background(), map[string]any{"int": int32(1)})
	require.ErrorIs(t, err, store.ErrCommitFailed)
	assert.False(t, s.Contains("int"))
}

func TestApplySwallowsPersistFailure(t *testing.T) {
	p, _ := newTestPrefs(t, store.WithPersister(failingPersister{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "int", int32(0))
	assert.Equal(t, int32(0), next(t, values))

	require.NoError(t, p.Write(map[string]any{"int": int32(1)}))
	assert.Equal(t, int32(1), next(t, values))
}

func TestEditorBatch(t *testing.T) {
	p, s := newTestPrefs(t)
	commit(t, p, map[string]any{"old": "gone", "kept": true})

	err := <-p.Commit(context.Background(), func(e *Editor) {
		e.Clear().
			Set("kept", true).
			Set("long", int64(9))
	})
	require.NoError(t, err)

	assert.False(t, s.Contains("old"))
	b, err := s.GetBool("kept", false)
	require.NoError(t, err)
	assert.True(t, b)
	l, err := s.GetLong("long", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), l)
}

func TestInlineScheduler(t *testing.T) {
	s := store.New("inline")
	p := New(s, WithScheduler(scheduler.Inline{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "bool", false)
	assert.False(t, next(t, values))

	require.NoError(t, p.Write(map[string]any{"bool": true}))
	assert.True(t, next(t, values))
}

func TestClosedRefusesWork(t *testing.T) {
	p, s := newTestPrefs(t)
	p.Close()

	select {
	case err := <-p.CommitBatch(context.Background(), map[string]any{"k": int32(1)}):
		assert.ErrorIs(t, err, scheduler.ErrClosed)
	case <-time.After(waitTimeout):
		t.Fatal("commit never resolved")
	}
	assert.False(t, s.Contains("k"))

	assert.ErrorIs(t, p.Write(map[string]any{"k": int32(1)}), scheduler.ErrClosed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, errs := p.ObserveValue(ctx, "k", store.Int(0))
	assert.ErrorIs(t, terminalError(t, values, errs), scheduler.ErrClosed)
}

func TestObserveDirectStoreWrites(t *testing.T) {
	p, s := newTestPrefs(t)

	const writes = 200
	go func() {
		for i := 1; i <= writes; i++ {
			_ = s.Edit().Put("n", store.Int(int32(i))).Commit(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, _ := Observe(ctx, p, "n", int32(0))

	last := int32(-1)
	for last != writes {
		v := next(t, values)
		require.Greater(t, v, last, "values must arrive in commit order")
		last = v
	}
}

func TestObserveUntypedIntDefault(t *testing.T) {
	p, _ := newTestPrefs(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	values, errs := Observe(ctx, p, "n", 0)
	assert.ErrorIs(t, terminalError(t, values, errs), store.ErrUnsupportedType)

	values32, _ := Observe(ctx, p, "n", int32(0))
	assert.Equal(t, int32(0), next(t, values32))
}
